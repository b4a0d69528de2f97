// Package ingest loads reference documents into the vector-backed context
// store: parse metadata headers, split into chunks, embed, upsert.
package ingest

import "strings"

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1200

	// DefaultChunkOverlap is the tail of the previous chunk carried into the
	// next one so answers spanning a boundary stay retrievable.
	DefaultChunkOverlap = 150
)

// Chunker splits document text into bounded, overlapping chunks along
// paragraph boundaries.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or overlap fall back to
// the defaults; overlap is capped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into chunks. Paragraphs are packed greedily up to the
// size limit; a paragraph longer than the limit is hard-cut. Empty input
// yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := splitParagraphs(text)

	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		for len(p) > c.size {
			// Oversized paragraph: flush what we have, then hard-cut.
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, p[:c.size])
			p = p[c.size-c.overlap:]
		}
		if cur.Len() > 0 && cur.Len()+2+len(p) > c.size {
			chunks = append(chunks, cur.String())
			tail := overlapTail(cur.String(), c.overlap)
			cur.Reset()
			if tail != "" {
				cur.WriteString(tail)
				cur.WriteString("\n\n")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// overlapTail returns the last n characters of s, extended left to the
// nearest whitespace so the overlap does not start mid-word.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexAny(tail, " \t\n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

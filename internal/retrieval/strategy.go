// Package retrieval implements the three context-retrieval strategies:
// retrieval-augmented (RAG), cache-augmented (CAG), and a hybrid of both.
// Each produces a bounded textual context for one query; the generation step
// never sees more than the configured budget.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tripdesk/tripdesk/internal/knowledge"
	"github.com/tripdesk/tripdesk/internal/session"
)

// Sentinel errors for strategy failures, checked with errors.Is at the
// pipeline boundary to pick the user-facing error kind.
var (
	// ErrRetrieval indicates the context store was unreachable or query
	// embedding failed. Fatal to the request.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrCacheUnavailable indicates the static cache is not loaded.
	// Fatal; should not occur after startup.
	ErrCacheUnavailable = errors.New("document cache unavailable")
)

// DefaultBudget is the fallback context budget in characters.
const DefaultBudget = 12000

// AssembledContext is the ordered, budget-bounded context a strategy
// produces. Created per request and discarded after the response completes.
type AssembledContext struct {
	Text       string            // concatenated context, len(Text) <= budget
	Chunks     []knowledge.Chunk // dynamic chunks included, best score first
	CachedDocs int               // cached documents included (CAG/hybrid)
	Truncated  bool              // whether the budget forced truncation
}

// Empty reports whether the context carries no material.
func (c AssembledContext) Empty() bool {
	return c.Text == ""
}

// Strategy is the one capability all three implementations share.
//
// A strategy must not silently return an empty context as success after a
// failed call; an empty result is only valid when the underlying lookup
// genuinely matched nothing.
type Strategy interface {
	FetchContext(ctx context.Context, query string, history []session.Message, scope string) (AssembledContext, error)
}

// Searcher is the slice of the knowledge store the strategies consume.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Chunk, error)
}

const chunkSeparator = "\n---\n"

// assembleChunks concatenates chunk texts best-score-first under the budget.
// Over budget, the lowest-scored chunks are dropped first; a single chunk
// larger than the whole budget is cut so the context is never unbounded.
// chunks must already be sorted by non-increasing score.
func assembleChunks(chunks []knowledge.Chunk, budget int) (string, []knowledge.Chunk, bool) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	var b strings.Builder
	var included []knowledge.Chunk
	truncated := false

	for i, chunk := range chunks {
		entry := formatChunk(len(included)+1, chunk)
		sep := ""
		if b.Len() > 0 {
			sep = chunkSeparator
		}

		if b.Len()+len(sep)+len(entry) > budget {
			truncated = true
			if i == 0 {
				// Highest-scored chunk alone exceeds the budget: keep its
				// head rather than returning nothing.
				b.WriteString(entry[:budget])
				included = append(included, chunk)
			}
			break
		}

		b.WriteString(sep)
		b.WriteString(entry)
		included = append(included, chunk)
	}

	return b.String(), included, truncated
}

func formatChunk(n int, chunk knowledge.Chunk) string {
	source := chunk.SourceID
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("[Document %d from %s]\n%s", n, source, chunk.Text)
}

// sortByScore orders chunks by non-increasing score. The sort is stable so
// equal scores keep the store's insertion order, which is the documented
// tie-break.
func sortByScore(chunks []knowledge.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
}

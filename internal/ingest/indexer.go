package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/knowledge"
)

// IndexerStore is the storage surface the indexer needs. Defined here by the
// consumer; knowledge.Store satisfies it.
type IndexerStore interface {
	Add(ctx context.Context, chunk knowledge.Chunk) error
	DeleteSource(ctx context.Context, sourceID string) error
}

// metadataLine matches "#key: value" header lines in document files.
var metadataLine = regexp.MustCompile(`^#(\w+):\s*(.*)$`)

// Result summarizes one indexing run.
type Result struct {
	FilesIndexed int
	FilesSkipped int
	ChunksAdded  int
	Duration     time.Duration
}

// Indexer loads .txt documents from a directory into the context store.
type Indexer struct {
	store   IndexerStore
	chunker *Chunker
	logger  *slog.Logger
}

// NewIndexer creates an indexer. A nil chunker uses the defaults.
func NewIndexer(store IndexerStore, chunker *Chunker, logger *slog.Logger) *Indexer {
	if chunker == nil {
		chunker = NewChunker(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, chunker: chunker, logger: logger}
}

// IndexDir ingests every .txt file under dir. Each file's previous chunks
// are removed before the new ones are added so re-runs never leave stale
// fragments behind.
//
// The agent scope comes from the file's "#agent:" metadata line;
// defaultScope applies when the header is absent or names an unknown agent.
func (ix *Indexer) IndexDir(ctx context.Context, dir, defaultScope string) (Result, error) {
	start := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("reading ingest directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var res Result
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		added, err := ix.indexFile(ctx, filepath.Join(dir, name), defaultScope)
		if err != nil {
			ix.logger.Warn("skipping document", "file", name, "error", err)
			res.FilesSkipped++
			continue
		}
		res.FilesIndexed++
		res.ChunksAdded += added
	}

	res.Duration = time.Since(start)
	ix.logger.Info("ingest complete",
		"dir", dir,
		"files", res.FilesIndexed,
		"skipped", res.FilesSkipped,
		"chunks", res.ChunksAdded,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (ix *Indexer) indexFile(ctx context.Context, path, defaultScope string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading file: %w", err)
	}

	body, metadata := parseMetadata(string(raw))
	if strings.TrimSpace(body) == "" {
		return 0, fmt.Errorf("document is empty")
	}

	scope := defaultScope
	if a, err := agent.ParseType(metadata["agent"]); err == nil {
		scope = a.Scope()
	}

	sourceID := strings.TrimSuffix(filepath.Base(path), ".txt")
	if err := ix.store.DeleteSource(ctx, sourceID); err != nil {
		return 0, fmt.Errorf("clearing previous chunks: %w", err)
	}

	chunks := ix.chunker.Split(body)
	for i, text := range chunks {
		chunk := knowledge.Chunk{
			ID:       chunkID(sourceID, i, text),
			Text:     text,
			SourceID: sourceID,
			Scope:    scope,
			Metadata: metadata,
			CreatedAt: time.Now(),
		}
		if err := ix.store.Add(ctx, chunk); err != nil {
			return i, fmt.Errorf("adding chunk %d: %w", i, err)
		}
	}

	ix.logger.Debug("indexed document", "source", sourceID, "scope", scope, "chunks", len(chunks))
	return len(chunks), nil
}

// parseMetadata strips leading "#key: value" header lines and returns the
// remaining body plus the parsed headers.
func parseMetadata(text string) (string, map[string]string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	metadata := make(map[string]string)

	i := 0
	for ; i < len(lines); i++ {
		m := metadataLine.FindStringSubmatch(lines[i])
		if m == nil {
			break
		}
		metadata[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n")), metadata
}

// chunkID derives a stable identifier from the source, position, and content
// so unchanged chunks upsert onto themselves.
func chunkID(sourceID string, seq int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s-%04d-%s", sourceID, seq, hex.EncodeToString(sum[:8]))
}

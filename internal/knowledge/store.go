// Package knowledge provides the similarity-searchable context store consumed
// by the retrieval strategies. Chunks live in PostgreSQL with pgvector
// embeddings; this package owns embedding of queries and documents but not
// the index itself.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
)

// Querier defines the database operations Store depends on. The interface is
// defined by the consumer so tests can substitute a fake; the production
// implementation is PGQuerier over a pgx pool.
type Querier interface {
	// SearchChunks performs scope-filtered vector search ordered by
	// ascending distance, ties broken by insertion order.
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error)

	// UpsertChunk inserts or replaces a chunk.
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error

	// CountChunks counts chunks in a scope; empty scope counts everything.
	CountChunks(ctx context.Context, scope string) (int64, error)

	// DeleteChunksBySource removes every chunk of one source document.
	DeleteChunksBySource(ctx context.Context, sourceID string) error
}

// Store manages context chunks with vector search. It generates embeddings
// via the configured embedder and delegates persistence to the Querier.
//
// Store is safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// Search returns the chunks most similar to the query, ordered by
// non-increasing score. Ordering is enforced here, not assumed from the
// store: callers rely on results[0] being the closest match.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Chunk, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.queries.SearchChunks(queryCtx, SearchChunksParams{
		QueryEmbedding: embedding,
		Scope:          cfg.scope,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, row.toChunk())
	}

	s.logger.Debug("context search completed",
		"scope", cfg.scope,
		"top_k", cfg.topK,
		"results", len(chunks))
	return chunks, nil
}

// Add embeds and upserts a chunk.
func (s *Store) Add(ctx context.Context, chunk Chunk) error {
	embedding, err := s.embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embedding chunk %q: %w", chunk.ID, err)
	}

	if err := s.queries.UpsertChunk(ctx, UpsertChunkParams{
		ID:        chunk.ID,
		Content:   chunk.Text,
		SourceID:  chunk.SourceID,
		Scope:     chunk.Scope,
		Embedding: embedding,
		Metadata:  chunk.Metadata,
	}); err != nil {
		return fmt.Errorf("upserting chunk %q: %w", chunk.ID, err)
	}

	s.logger.Debug("added chunk", "id", chunk.ID, "scope", chunk.Scope, "bytes", len(chunk.Text))
	return nil
}

// Count returns the number of chunks in a scope (all scopes when empty).
func (s *Store) Count(ctx context.Context, scope string) (int, error) {
	n, err := s.queries.CountChunks(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return int(n), nil
}

// DeleteSource removes all chunks belonging to one source document.
// Used by re-ingestion to replace a document atomically enough for our needs.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	if err := s.queries.DeleteChunksBySource(ctx, sourceID); err != nil {
		return fmt.Errorf("deleting source %q: %w", sourceID, err)
	}
	return nil
}

// embed generates an embedding vector for one text.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

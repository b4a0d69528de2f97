package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tripdesk/tripdesk/internal/knowledge"
	"github.com/tripdesk/tripdesk/internal/session"
)

// RAGConfig configures a RAG strategy.
type RAGConfig struct {
	TopK    int           // chunks to request per query; default 5
	Budget  int           // context budget in characters; default DefaultBudget
	Timeout time.Duration // per-search timeout; zero uses the store default
}

// RAG is the pure retrieval strategy: every call embeds the query and runs a
// fresh similarity search scoped to the requesting agent. Nothing is cached
// across calls.
type RAG struct {
	searcher Searcher
	topK     int
	budget   int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRAG creates a RAG strategy over the given searcher.
func NewRAG(searcher Searcher, cfg RAGConfig, logger *slog.Logger) *RAG {
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &RAG{
		searcher: searcher,
		topK:     topK,
		budget:   budget,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// FetchContext runs a scoped similarity search and assembles the top chunks
// under the budget. A failed search is an error, never an empty success; a
// search that genuinely matches nothing yields a valid empty context.
func (r *RAG) FetchContext(ctx context.Context, query string, _ []session.Message, scope string) (AssembledContext, error) {
	opts := []knowledge.SearchOption{
		knowledge.WithTopK(r.topK),
		knowledge.WithScope(scope),
	}
	if r.timeout > 0 {
		opts = append(opts, knowledge.WithTimeout(r.timeout))
	}

	chunks, err := r.searcher.Search(ctx, query, opts...)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	// Ordering is this strategy's responsibility, not the store's.
	sortByScore(chunks)

	text, included, truncated := assembleChunks(chunks, r.budget)

	r.logger.Debug("assembled retrieval context",
		"scope", scope,
		"retrieved", len(chunks),
		"included", len(included),
		"bytes", len(text),
		"truncated", truncated)

	return AssembledContext{
		Text:      text,
		Chunks:    included,
		Truncated: truncated,
	}, nil
}

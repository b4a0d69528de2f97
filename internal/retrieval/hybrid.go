package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/session"
)

// HybridConfig configures a Hybrid strategy.
type HybridConfig struct {
	// CachedScope is the document-cache scope supplying the static half
	// (booking-relevant policy passages).
	CachedScope string

	// MaxCachedDocs caps the static documents appended per request.
	// Default 3.
	MaxCachedDocs int

	// Budget is the combined context budget in characters.
	// Default DefaultBudget.
	Budget int
}

// Hybrid combines pure retrieval for dynamic, query-specific content with a
// cached lookup for static policy passages. Dynamic context always comes
// first and is never dropped in favor of static boilerplate: when the
// combined budget is exceeded, the cached portion is truncated from the end.
type Hybrid struct {
	dynamic     *RAG
	docs        DocumentCache
	cachedScope string
	maxCached   int
	budget      int
	logger      *slog.Logger
}

// NewHybrid creates a Hybrid strategy from a RAG strategy and a document cache.
func NewHybrid(dynamic *RAG, docs DocumentCache, cfg HybridConfig, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	maxCached := cfg.MaxCachedDocs
	if maxCached <= 0 {
		maxCached = 3
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Hybrid{
		dynamic:     dynamic,
		docs:        docs,
		cachedScope: cfg.CachedScope,
		maxCached:   maxCached,
		budget:      budget,
		logger:      logger,
	}
}

// FetchContext runs the dynamic search and the cached lookup concurrently;
// the two sub-fetches are independent reads. Either failing fails the
// request: the dynamic half with ErrRetrieval, the cached half with
// ErrCacheUnavailable.
func (h *Hybrid) FetchContext(ctx context.Context, query string, history []session.Message, scope string) (AssembledContext, error) {
	var (
		dynamic AssembledContext
		cached  []cache.Document
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dynamic, err = h.dynamic.FetchContext(gctx, query, history, scope)
		return err
	})
	g.Go(func() error {
		docs, err := h.docs.Documents(h.cachedScope)
		if err != nil {
			if errors.Is(err, cache.ErrNotLoaded) || errors.Is(err, cache.ErrScopeUnknown) {
				return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
			}
			return err
		}
		cached = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return AssembledContext{}, err
	}

	if len(cached) > h.maxCached {
		cached = cached[:h.maxCached]
	}

	return h.combine(dynamic, cached), nil
}

// combine appends the cached documents after the dynamic context under the
// combined budget, cutting the cached portion first when space runs out.
func (h *Hybrid) combine(dynamic AssembledContext, cached []cache.Document) AssembledContext {
	out := AssembledContext{
		Chunks:    dynamic.Chunks,
		Truncated: dynamic.Truncated,
	}

	var b strings.Builder
	b.WriteString(dynamic.Text)

	for i, doc := range cached {
		entry := fmt.Sprintf("[Policy Information %d]\n%s", i+1, doc.Text)
		sep := ""
		if b.Len() > 0 {
			sep = chunkSeparator
		}

		remaining := h.budget - b.Len() - len(sep)
		if remaining <= 0 {
			out.Truncated = true
			break
		}
		if len(entry) > remaining {
			b.WriteString(sep)
			b.WriteString(entry[:remaining])
			out.CachedDocs++
			out.Truncated = true
			break
		}

		b.WriteString(sep)
		b.WriteString(entry)
		out.CachedDocs++
	}

	out.Text = b.String()

	h.logger.Debug("assembled hybrid context",
		"dynamic_chunks", len(out.Chunks),
		"cached_docs", out.CachedDocs,
		"bytes", len(out.Text),
		"truncated", out.Truncated)
	return out
}

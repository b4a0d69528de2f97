package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/session"
)

// DocumentCache is the slice of the static document set the cache-backed
// strategies consume.
type DocumentCache interface {
	Text(scope string) (string, error)
	Documents(scope string) ([]cache.Document, error)
}

// CAG is the pure cache strategy: no retrieval call, no network dependency.
// The context for a scope is the pre-assembled cached text, byte-identical
// across calls regardless of query content; the query influences only the
// generation step.
type CAG struct {
	docs   DocumentCache
	logger *slog.Logger
}

// NewCAG creates a CAG strategy over the given document cache.
func NewCAG(docs DocumentCache, logger *slog.Logger) *CAG {
	if logger == nil {
		logger = slog.Default()
	}
	return &CAG{docs: docs, logger: logger}
}

// FetchContext looks up the scope's pre-assembled text. The result is
// deterministic and already within budget by construction at load time.
func (c *CAG) FetchContext(ctx context.Context, _ string, _ []session.Message, scope string) (AssembledContext, error) {
	// Cooperative cancellation: the lookup itself never blocks.
	if err := ctx.Err(); err != nil {
		return AssembledContext{}, err
	}

	text, err := c.docs.Text(scope)
	if err != nil {
		if errors.Is(err, cache.ErrNotLoaded) || errors.Is(err, cache.ErrScopeUnknown) {
			return AssembledContext{}, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
		}
		return AssembledContext{}, err
	}

	docs, err := c.docs.Documents(scope)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	c.logger.Debug("serving cached context", "scope", scope, "docs", len(docs), "bytes", len(text))

	return AssembledContext{
		Text:       text,
		CachedDocs: len(docs),
	}, nil
}

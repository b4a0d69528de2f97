package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/log"
)

// fakeDocCache serves canned per-scope text and documents.
type fakeDocCache struct {
	text map[string]string
	docs map[string][]cache.Document
	err  error
}

func (f *fakeDocCache) Text(scope string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.text[scope]
	if !ok {
		return "", cache.ErrScopeUnknown
	}
	return text, nil
}

func (f *fakeDocCache) Documents(scope string) ([]cache.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	docs, ok := f.docs[scope]
	if !ok {
		return nil, cache.ErrScopeUnknown
	}
	return docs, nil
}

func TestCAGFetchContext(t *testing.T) {
	t.Parallel()

	docs := &fakeDocCache{
		text: map[string]string{"policy": "cancellation terms"},
		docs: map[string][]cache.Document{"policy": {{Name: "terms", Text: "cancellation terms"}}},
	}
	cag := NewCAG(docs, log.NewNop())

	t.Run("identical context regardless of query", func(t *testing.T) {
		t.Parallel()
		a, err := cag.FetchContext(context.Background(), "how do refunds work", nil, "policy")
		if err != nil {
			t.Fatalf("FetchContext() error = %v", err)
		}
		b, err := cag.FetchContext(context.Background(), "completely different question", nil, "policy")
		if err != nil {
			t.Fatalf("FetchContext() error = %v", err)
		}
		if a.Text != b.Text {
			t.Error("cached context differs between queries")
		}
		if a.CachedDocs != 1 {
			t.Errorf("CachedDocs = %d, want 1", a.CachedDocs)
		}
	})

	t.Run("not loaded maps to ErrCacheUnavailable", func(t *testing.T) {
		t.Parallel()
		c := NewCAG(&fakeDocCache{err: cache.ErrNotLoaded}, log.NewNop())
		_, err := c.FetchContext(context.Background(), "q", nil, "policy")
		if !errors.Is(err, ErrCacheUnavailable) {
			t.Errorf("error = %v, want ErrCacheUnavailable", err)
		}
	})

	t.Run("unknown scope maps to ErrCacheUnavailable", func(t *testing.T) {
		t.Parallel()
		_, err := cag.FetchContext(context.Background(), "q", nil, "nope")
		if !errors.Is(err, ErrCacheUnavailable) {
			t.Errorf("error = %v, want ErrCacheUnavailable", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := cag.FetchContext(ctx, "q", nil, "policy")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

package knowledge

import "time"

// Chunk is one embedded document fragment in the context store.
type Chunk struct {
	ID        string            // unique identifier
	Text      string            // fragment text
	SourceID  string            // originating document
	Scope     string            // agent scope label partitioning the store
	Score     float32           // cosine similarity to the query, higher = closer
	Metadata  map[string]string // optional source metadata
	CreatedAt time.Time
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	scope   string
	timeout time.Duration
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithScope restricts results to one agent scope.
func WithScope(scope string) SearchOption {
	return func(c *searchConfig) {
		c.scope = scope
	}
}

// WithTimeout overrides the per-search timeout. Default is 10s.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

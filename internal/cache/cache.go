// Package cache provides the static document set used by cache-augmented
// generation. Documents are loaded once at startup into an immutable in-memory
// table keyed by agent scope; refresh requires an explicit Reload, never
// implicit invalidation during request handling.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tripdesk/tripdesk/internal/agent"
)

// ErrNotLoaded indicates Load has not completed. Requests served by a
// cache-backed strategy must not start before the initial load finishes,
// so this should not occur post-startup.
var ErrNotLoaded = errors.New("document cache not loaded")

// ErrScopeUnknown indicates no cached documents exist for the scope.
var ErrScopeUnknown = errors.New("no cached documents for scope")

// Document is one full reference document held in the cache.
type Document struct {
	Name string // file name without extension
	Text string // content with metadata header lines stripped
}

// bookingKeywords selects policy documents relevant to the booking scope.
// Hybrid retrieval serves these as its static half.
var bookingKeywords = []string{"payment", "cancellation", "refund", "booking", "terms"}

// metadataLine matches "#key: value" header lines in document files.
var metadataLine = regexp.MustCompile(`(?m)^#\w+:\s*.*\n?`)

// Set is the process-wide cached document set. The table built by Load is
// immutable; Reload swaps in a freshly built table atomically. Reads never
// block behind a reload.
type Set struct {
	dataDir string
	budget  int // max characters of the pre-assembled text per scope
	logger  *slog.Logger

	mu      sync.RWMutex
	byScope map[string][]Document
	text    map[string]string // pre-assembled, budget-bounded text per scope
	loaded  bool
}

// NewSet creates an unloaded Set reading documents from dataDir.
// budget bounds the pre-assembled text per scope, in characters.
func NewSet(dataDir string, budget int, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{dataDir: dataDir, budget: budget, logger: logger}
}

// Load builds the document table. It is a blocking, one-time initialization
// gate; calling it again is idempotent (the table is rebuilt from the same
// directory). A missing or empty directory loads an empty, valid set.
func (s *Set) Load() error {
	byScope, err := s.build()
	if err != nil {
		return err
	}

	text := make(map[string]string, len(byScope))
	for scope, docs := range byScope {
		text[scope] = assemble(docs, s.budget)
	}

	s.mu.Lock()
	s.byScope = byScope
	s.text = text
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("document cache loaded",
		"dir", s.dataDir,
		"policy_docs", len(byScope[agent.Policy.Scope()]),
		"booking_docs", len(byScope[agent.BookingPayments.Scope()]))
	return nil
}

// Reload rebuilds the table. Operator-triggered; requests in flight keep
// reading the previous table until the swap.
func (s *Set) Reload() error {
	return s.Load()
}

// Loaded reports whether the initial Load has completed.
func (s *Set) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Documents returns the ordered document sequence for a scope.
func (s *Set) Documents(scope string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return nil, ErrNotLoaded
	}
	docs, ok := s.byScope[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScopeUnknown, scope)
	}
	out := make([]Document, len(docs))
	copy(out, docs)
	return out, nil
}

// Text returns the pre-assembled, budget-bounded text for a scope. The result
// is byte-identical across calls until a Reload.
func (s *Set) Text(scope string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return "", ErrNotLoaded
	}
	text, ok := s.text[scope]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrScopeUnknown, scope)
	}
	return text, nil
}

// build reads every .txt file under dataDir in name order and derives the
// per-scope tables: the full set under the policy scope and the
// booking-relevant subset under the booking scope.
func (s *Set) build() (map[string][]Document, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cache data directory does not exist", "dir", s.dataDir)
			return map[string][]Document{
				agent.Policy.Scope():          {},
				agent.BookingPayments.Scope(): {},
			}, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var policy, booking []Document
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(s.dataDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading cached document %q: %w", name, err)
		}

		doc := Document{
			Name: strings.TrimSuffix(name, ".txt"),
			Text: strings.TrimSpace(metadataLine.ReplaceAllString(string(raw), "")),
		}
		if doc.Text == "" {
			continue
		}

		policy = append(policy, doc)
		if containsAnyFold(doc.Text, bookingKeywords) {
			booking = append(booking, doc)
		}
	}

	return map[string][]Document{
		agent.Policy.Scope():          policy,
		agent.BookingPayments.Scope(): booking,
	}, nil
}

// assemble concatenates documents in order under the character budget.
// Overflow drops trailing documents first; a single oversized document is
// cut at the budget so the scope text is always within bounds by construction.
func assemble(docs []Document, budget int) string {
	var b strings.Builder
	for i, doc := range docs {
		sep := ""
		if i > 0 {
			sep = "\n---\n"
		}
		if budget > 0 && b.Len()+len(sep)+len(doc.Text) > budget {
			remaining := budget - b.Len() - len(sep)
			if remaining > 0 {
				b.WriteString(sep)
				b.WriteString(doc.Text[:remaining])
			}
			break
		}
		b.WriteString(sep)
		b.WriteString(doc.Text)
	}
	return b.String()
}

func containsAnyFold(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

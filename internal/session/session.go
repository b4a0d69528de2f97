// Package session provides conversation session identity and history.
//
// The core does not own durable session storage: history supplied on a request
// is used as-is, and the in-memory store only backs the session inspection API
// and requests that omit their own history.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles. History ordering must be preserved end to end.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrNotFound indicates the requested session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// Resolve returns the session identifier for a request.
// A supplied identifier passes through unchanged; whether it maps to prior
// state is the caller's concern. An empty identifier yields a new UUID.
func Resolve(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// Session holds the server-side view of one conversation.
type Session struct {
	ID        string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is an in-memory session store. Safe for concurrent use.
//
// The zero value is not useful - use NewStore.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// History returns a copy of the stored messages for a session.
// Unknown sessions return an empty history, not an error: a caller-supplied
// identifier with no prior state is valid input.
func (s *Store) History(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// Append records a completed user/assistant exchange for a session,
// creating the session on first use.
func (s *Store) Append(id, userInput, assistantResponse string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}
	sess.Messages = append(sess.Messages,
		Message{Role: RoleUser, Content: userInput},
		Message{Role: RoleAssistant, Content: assistantResponse},
	)
	sess.UpdatedAt = now
}

// Get returns a snapshot of a session, or ErrNotFound.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	snap := *sess
	snap.Messages = make([]Message, len(sess.Messages))
	copy(snap.Messages, sess.Messages)
	return snap, nil
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Package stream turns a generation call into an ordered, cancellable
// sequence of text increments with completion/error framing. Exactly one
// terminal event ends every stream.
package stream

import (
	"errors"

	"github.com/tripdesk/tripdesk/internal/agent"
)

// EventType tags the StreamEvent variant.
type EventType int

const (
	// EventChunk carries one text increment.
	EventChunk EventType = iota
	// EventComplete carries the final text; terminal.
	EventComplete
	// EventError carries an error kind and message; terminal.
	EventError
)

// ErrorKind classifies terminal failures for the caller. Kinds map one-to-one
// onto the request error taxonomy.
type ErrorKind string

const (
	KindClassification   ErrorKind = "classification_error"
	KindRetrieval        ErrorKind = "retrieval_error"
	KindCacheUnavailable ErrorKind = "cache_unavailable"
	KindGeneration       ErrorKind = "generation_error"
	KindCancelled        ErrorKind = "cancelled"
	KindInternal         ErrorKind = "internal_error"
)

// Completion is the payload of the terminal Complete event. Text equals the
// in-order concatenation of every Chunk event that preceded it.
type Completion struct {
	Text      string
	SessionID string
	Agent     agent.Type
}

// Error is the payload of the terminal Error event. The message is short and
// non-leaking; it is safe to render to the end user.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Event is the tagged StreamEvent variant delivered to the caller.
type Event struct {
	Type       EventType
	Chunk      string      // EventChunk
	Completion *Completion // EventComplete
	Err        *Error      // EventError
}

// ErrTerminated is returned by producer methods after the stream has already
// received its terminal event.
var ErrTerminated = errors.New("stream already terminated")

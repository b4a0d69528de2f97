package stream

import (
	"context"
	"sync"
)

// eventBuffer smooths producer/consumer scheduling without reordering:
// channel delivery preserves send order regardless of buffering.
const eventBuffer = 16

// Pipeline adapts a provider's token stream into the StreamEvent sequence for
// exactly one caller. Chunks are delivered in generation order; a single
// Complete or Error terminates the stream, after which no further events are
// emitted and the event channel is closed.
//
// Cancellation is cooperative: every producer method selects on the supplied
// context, so an abandoned consumer never strands the producer goroutine.
type Pipeline struct {
	ch chan Event

	mu       sync.Mutex
	terminal bool
}

// NewPipeline creates a pipeline for one request.
func NewPipeline() *Pipeline {
	return &Pipeline{ch: make(chan Event, eventBuffer)}
}

// Events is the consumer side. The channel closes after the terminal event,
// or without one if the request context was cancelled first, never after a
// spurious Complete.
func (p *Pipeline) Events() <-chan Event {
	return p.ch
}

// Emit delivers one text increment. Returns the context error if the caller
// has gone away, or ErrTerminated after a terminal event.
func (p *Pipeline) Emit(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return ErrTerminated
	}
	p.mu.Unlock()

	select {
	case p.ch <- Event{Type: EventChunk, Chunk: text}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete terminates the stream successfully. If the context is already
// cancelled the completion is dropped rather than delivered late: a caller
// that disconnected mid-stream must never observe a Complete.
func (p *Pipeline) Complete(ctx context.Context, c Completion) error {
	return p.sendTerminal(ctx, Event{Type: EventComplete, Completion: &c})
}

// Fail terminates the stream with an error event.
func (p *Pipeline) Fail(ctx context.Context, kind ErrorKind, message string) error {
	return p.sendTerminal(ctx, Event{Type: EventError, Err: &Error{Kind: kind, Message: message}})
}

// sendTerminal delivers at most one terminal event and closes the channel.
func (p *Pipeline) sendTerminal(ctx context.Context, ev Event) error {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return ErrTerminated
	}
	p.terminal = true
	p.mu.Unlock()

	defer close(p.ch)

	select {
	case p.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated reports whether a terminal event has been recorded.
func (p *Pipeline) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Collect is the non-streaming mode: it drains all chunks and returns the
// completion synchronously with the same terminal guarantees. The terminal
// Complete already carries the full text, so buffered chunks are discarded.
func Collect(ctx context.Context, p *Pipeline) (Completion, error) {
	for {
		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case ev, ok := <-p.ch:
			if !ok {
				// Closed without a terminal event: producer observed
				// cancellation. Report it as such rather than hanging.
				if err := ctx.Err(); err != nil {
					return Completion{}, err
				}
				return Completion{}, &Error{Kind: KindInternal, Message: "stream ended without terminal event"}
			}
			switch ev.Type {
			case EventChunk:
				// Drained; the Complete event carries the full text.
			case EventComplete:
				return *ev.Completion, nil
			case EventError:
				return Completion{}, ev.Err
			}
		}
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPipelineOrderedDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPipeline()

	chunks := []string{"The ", "cancellation ", "window ", "is ", "24 hours."}
	go func() {
		for _, c := range chunks {
			if err := p.Emit(ctx, c); err != nil {
				t.Errorf("Emit(%q) = %v", c, err)
				return
			}
		}
		full := strings.Join(chunks, "")
		if err := p.Complete(ctx, Completion{Text: full, SessionID: "s1"}); err != nil {
			t.Errorf("Complete() = %v", err)
		}
	}()

	var got []string
	var terminal *Event
	for ev := range p.Events() {
		switch ev.Type {
		case EventChunk:
			if terminal != nil {
				t.Fatal("chunk delivered after terminal event")
			}
			got = append(got, ev.Chunk)
		default:
			ev := ev
			terminal = &ev
		}
	}

	for i, c := range chunks {
		if got[i] != c {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], c)
		}
	}
	if terminal == nil || terminal.Type != EventComplete {
		t.Fatalf("terminal = %+v, want EventComplete", terminal)
	}
	if want := strings.Join(chunks, ""); terminal.Completion.Text != want {
		t.Fatalf("Completion.Text = %q, want %q", terminal.Completion.Text, want)
	}
}

func TestPipelineEmptyChunkDropped(t *testing.T) {
	t.Parallel()

	p := NewPipeline()
	if err := p.Emit(context.Background(), ""); err != nil {
		t.Fatalf("Emit(empty) = %v", err)
	}
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %+v for empty chunk", ev)
	default:
	}
}

func TestPipelineSingleTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name  string
		first func(p *Pipeline) error
	}{
		{"complete first", func(p *Pipeline) error {
			return p.Complete(ctx, Completion{Text: "done"})
		}},
		{"fail first", func(p *Pipeline) error {
			return p.Fail(ctx, KindGeneration, "model unavailable")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPipeline()
			if err := tt.first(p); err != nil {
				t.Fatalf("first terminal = %v", err)
			}
			if !p.Terminated() {
				t.Fatal("Terminated() = false after terminal event")
			}

			if err := p.Complete(ctx, Completion{}); !errors.Is(err, ErrTerminated) {
				t.Fatalf("second Complete() = %v, want ErrTerminated", err)
			}
			if err := p.Fail(ctx, KindInternal, "again"); !errors.Is(err, ErrTerminated) {
				t.Fatalf("second Fail() = %v, want ErrTerminated", err)
			}
			if err := p.Emit(ctx, "late"); !errors.Is(err, ErrTerminated) {
				t.Fatalf("Emit after terminal = %v, want ErrTerminated", err)
			}

			// Exactly one event on the channel, then close.
			ev, ok := <-p.Events()
			if !ok {
				t.Fatal("channel closed before terminal event")
			}
			if ev.Type == EventChunk {
				t.Fatalf("terminal slot holds chunk %q", ev.Chunk)
			}
			if _, ok := <-p.Events(); ok {
				t.Fatal("event delivered after terminal")
			}
		})
	}
}

func TestPipelineCancelledProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline()

	done := make(chan error, 1)
	go func() {
		// Fill the buffer so the next Emit blocks on the consumer.
		for i := 0; ; i++ {
			if err := p.Emit(ctx, fmt.Sprintf("chunk %d ", i)); err != nil {
				done <- err
				return
			}
		}
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Emit under cancellation = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not observe cancellation")
	}

	// A cancelled request gets no late terminal event.
	if err := p.Complete(ctx, Completion{Text: "late"}); !errors.Is(err, context.Canceled) {
		// Complete may win the select if the buffer drained; either way the
		// consumer must not see it after disconnecting.
		if err != nil {
			t.Fatalf("Complete under cancellation = %v", err)
		}
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	t.Run("returns completion text", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		p := NewPipeline()
		chunks := []string{"Refunds ", "take ", "5-7 business days."}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range chunks {
				_ = p.Emit(ctx, c)
			}
			_ = p.Complete(ctx, Completion{
				Text:      strings.Join(chunks, ""),
				SessionID: "s-collect",
			})
		}()

		got, err := Collect(ctx, p)
		wg.Wait()
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if want := strings.Join(chunks, ""); got.Text != want {
			t.Fatalf("Collect().Text = %q, want %q", got.Text, want)
		}
		if got.SessionID != "s-collect" {
			t.Fatalf("Collect().SessionID = %q", got.SessionID)
		}
	})

	t.Run("returns stream error", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		p := NewPipeline()
		go func() {
			_ = p.Emit(ctx, "partial ")
			_ = p.Fail(ctx, KindRetrieval, "knowledge base unavailable")
		}()

		_, err := Collect(ctx, p)
		var sErr *Error
		if !errors.As(err, &sErr) {
			t.Fatalf("Collect() error = %v, want *stream.Error", err)
		}
		if sErr.Kind != KindRetrieval {
			t.Fatalf("Kind = %q, want %q", sErr.Kind, KindRetrieval)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Collect(ctx, NewPipeline())
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Collect() error = %v, want context.Canceled", err)
		}
	})

	t.Run("closed without terminal", func(t *testing.T) {
		t.Parallel()

		p := NewPipeline()
		close(p.ch)

		_, err := Collect(context.Background(), p)
		var sErr *Error
		if !errors.As(err, &sErr) || sErr.Kind != KindInternal {
			t.Fatalf("Collect() error = %v, want internal stream error", err)
		}
	})
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	e := &Error{Kind: KindCacheUnavailable, Message: "policy cache not loaded"}
	if got, want := e.Error(), "cache_unavailable: policy cache not loaded"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/retrieval"
	"github.com/tripdesk/tripdesk/internal/session"
	"github.com/tripdesk/tripdesk/internal/stream"
	"github.com/tripdesk/tripdesk/internal/testutil"
)

// testHarness bundles an orchestrator with the mocks behind it. The routing
// prompt and the generation prompt carry distinct marker phrases, so one
// mock model serves both calls.
type testHarness struct {
	orch       *Orchestrator
	mock       *testutil.MockLLM
	sessions   *session.Store
	strategies map[agent.Type]*stubStrategy
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	g := testutil.SetupGenkit(t)
	mock := testutil.NewMockLLM("I can help with that.")
	mock.RegisterModel(g)

	logger := slog.New(slog.DiscardHandler)

	router, err := agent.NewRouter(agent.RouterConfig{
		Genkit:    g,
		Logger:    logger,
		ModelName: "mock/test-model",
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	sessions := session.NewStore()
	strategies := make(map[agent.Type]*stubStrategy)
	var executors []*Executor
	for _, typ := range agent.Types() {
		stub := &stubStrategy{}
		strategies[typ] = stub
		e, err := NewExecutor(ExecutorConfig{
			Genkit:      g,
			Agent:       typ,
			Strategy:    stub,
			Logger:      logger,
			ModelName:   "mock/test-model",
			RetryConfig: fastRetry(),
		})
		if err != nil {
			t.Fatalf("NewExecutor(%s) error = %v", typ, err)
		}
		executors = append(executors, e)
	}

	orch, err := NewOrchestrator(router, executors, sessions, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	return &testHarness{orch: orch, mock: mock, sessions: sessions, strategies: strategies}
}

// routeTo registers a classifier response steering every query to the agent.
func (h *testHarness) routeTo(typ agent.Type, confidence float64) {
	h.mock.AddResponse("Route this query",
		fmt.Sprintf(`{"agent_type": %q, "confidence": %v, "reasoning": "test"}`, typ, confidence))
}

func TestOrchestratorRespond(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.Policy, 0.9)
	h.strategies[agent.Policy].assembled = retrieval.AssembledContext{
		Text:       "[Policy Information 1]\nFull refund within 24 hours.",
		CachedDocs: 1,
	}
	h.mock.AddResponse("Customer question", "You can cancel within 24 hours for a full refund.")

	resp, err := h.orch.Respond(context.Background(), Request{Query: "What is the refund policy?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.Agent != agent.Policy {
		t.Errorf("Agent = %q, want %q", resp.Agent, agent.Policy)
	}
	if resp.Text != "You can cancel within 24 hours for a full refund." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.SessionID == "" {
		t.Error("SessionID not assigned")
	}
	if resp.Routing.Agent != agent.Policy || resp.Routing.Confidence != 0.9 {
		t.Errorf("Routing = %+v", resp.Routing)
	}
	if h.strategies[agent.Policy].lastScope != agent.Policy.Scope() {
		t.Errorf("retrieval scope = %q, want %q", h.strategies[agent.Policy].lastScope, agent.Policy.Scope())
	}

	// The exchange is recorded for the next turn.
	history := h.sessions.History(resp.SessionID)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Errorf("history roles = %q, %q", history[0].Role, history[1].Role)
	}
}

func TestOrchestratorStream(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.TravelSupport, 0.95)
	h.mock.AddStreamedResponse("Customer question", "Pack ", "light ", "layers.")

	var chunks []string
	var terminal *stream.Event
	for ev := range h.orch.Stream(context.Background(), Request{Query: "What should I pack for Iceland?"}) {
		switch ev.Type {
		case stream.EventChunk:
			if terminal != nil {
				t.Fatal("chunk after terminal event")
			}
			chunks = append(chunks, ev.Chunk)
		default:
			ev := ev
			terminal = &ev
		}
	}

	if terminal == nil || terminal.Type != stream.EventComplete {
		t.Fatalf("terminal = %+v, want EventComplete", terminal)
	}
	want := "Pack light layers."
	if got := strings.Join(chunks, ""); got != want {
		t.Errorf("chunks = %q, want %q", got, want)
	}
	if terminal.Completion.Text != want {
		t.Errorf("Completion.Text = %q, want %q", terminal.Completion.Text, want)
	}
	if terminal.Completion.Agent != agent.TravelSupport {
		t.Errorf("Completion.Agent = %q", terminal.Completion.Agent)
	}
}

func TestOrchestratorEmptyQuery(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	_, err := h.orch.Respond(context.Background(), Request{Query: "   "})
	var sErr *stream.Error
	if !errors.As(err, &sErr) {
		t.Fatalf("Respond() error = %v, want *stream.Error", err)
	}
	if sErr.Kind != stream.KindClassification {
		t.Errorf("Kind = %q, want %q", sErr.Kind, stream.KindClassification)
	}
}

func TestOrchestratorPinnedAgent(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	// The classifier would pick policy; the pin must win without a
	// classifier call.
	h.routeTo(agent.Policy, 0.99)
	h.mock.AddResponse("Customer question", "Here are some destination ideas.")

	resp, err := h.orch.Respond(context.Background(), Request{
		Query: "What is the cancellation policy?",
		Agent: agent.TravelSupport,
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.Agent != agent.TravelSupport {
		t.Errorf("Agent = %q, want pinned %q", resp.Agent, agent.TravelSupport)
	}
	if resp.Routing.Confidence != 1 {
		t.Errorf("Routing.Confidence = %v, want 1 for a pinned agent", resp.Routing.Confidence)
	}

	for _, call := range h.mock.Calls() {
		if strings.Contains(call.UserMessage, "Route this query") {
			t.Error("classifier was called for a pinned request")
		}
	}
}

func TestOrchestratorPinnedAgentInvalid(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	_, err := h.orch.Respond(context.Background(), Request{
		Query: "anything",
		Agent: agent.Type("weather"),
	})
	var sErr *stream.Error
	if !errors.As(err, &sErr) || sErr.Kind != stream.KindClassification {
		t.Fatalf("Respond() error = %v, want classification error", err)
	}
}

func TestOrchestratorRetrievalFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.TravelSupport, 0.9)
	h.strategies[agent.TravelSupport].err = fmt.Errorf("%w: store unreachable", retrieval.ErrRetrieval)

	_, err := h.orch.Respond(context.Background(), Request{Query: "Tell me about Lisbon"})
	var sErr *stream.Error
	if !errors.As(err, &sErr) {
		t.Fatalf("Respond() error = %v, want *stream.Error", err)
	}
	if sErr.Kind != stream.KindRetrieval {
		t.Errorf("Kind = %q, want %q", sErr.Kind, stream.KindRetrieval)
	}
	// The internal cause never reaches the caller.
	if strings.Contains(sErr.Message, "unreachable") {
		t.Errorf("Message = %q leaks internal detail", sErr.Message)
	}
}

func TestOrchestratorCacheUnavailable(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.Policy, 0.9)
	h.strategies[agent.Policy].err = fmt.Errorf("%w: not loaded", retrieval.ErrCacheUnavailable)

	var terminal *stream.Event
	for ev := range h.orch.Stream(context.Background(), Request{Query: "refund policy"}) {
		ev := ev
		terminal = &ev
	}
	if terminal == nil || terminal.Type != stream.EventError {
		t.Fatalf("terminal = %+v, want EventError", terminal)
	}
	if terminal.Err.Kind != stream.KindCacheUnavailable {
		t.Errorf("Kind = %q, want %q", terminal.Err.Kind, stream.KindCacheUnavailable)
	}
}

func TestOrchestratorGenerationFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	// Pin the agent so the injected failure hits generation, not routing.
	h.mock.FailNext(2, errors.New("429 rate limit exceeded"))

	_, err := h.orch.Respond(context.Background(), Request{
		Query: "anything",
		Agent: agent.TravelSupport,
	})
	var sErr *stream.Error
	if !errors.As(err, &sErr) || sErr.Kind != stream.KindGeneration {
		t.Fatalf("Respond() error = %v, want generation error", err)
	}
}

func TestOrchestratorSessionContinuity(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.TravelSupport, 0.9)
	h.mock.AddResponse("Customer question", "Answer.")

	first, err := h.orch.Respond(context.Background(), Request{Query: "First question"})
	if err != nil {
		t.Fatalf("first Respond() error = %v", err)
	}
	second, err := h.orch.Respond(context.Background(), Request{
		Query:     "Second question",
		SessionID: first.SessionID,
	})
	if err != nil {
		t.Fatalf("second Respond() error = %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("SessionID changed between turns: %q then %q", first.SessionID, second.SessionID)
	}
	if got := len(h.sessions.History(first.SessionID)); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

func TestOrchestratorRequestHistory(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.TravelSupport, 0.9)
	h.mock.AddResponse("Customer question", "Answer.")

	sid := "session-with-stored-turns"
	h.sessions.Append(sid, "stored question", "stored answer")

	t.Run("supplied history overrides the store", func(t *testing.T) {
		_, err := h.orch.Respond(context.Background(), Request{
			Query:     "And the baggage allowance?",
			SessionID: sid,
			History: []session.Message{
				{Role: session.RoleUser, Content: "I booked a trip to Oslo"},
				{Role: session.RoleAssistant, Content: "Enjoy Oslo!"},
			},
		})
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}

		calls := h.mock.Calls()
		if len(calls) == 0 {
			t.Fatal("no model calls recorded")
		}
		routing := calls[0].UserMessage
		if !strings.Contains(routing, "I booked a trip to Oslo") {
			t.Errorf("routing prompt missing supplied history:\n%s", routing)
		}
		if strings.Contains(routing, "stored question") {
			t.Errorf("routing prompt used stored history despite supplied one:\n%s", routing)
		}
	})

	t.Run("empty history suppresses the store fallback", func(t *testing.T) {
		before := len(h.mock.Calls())
		_, err := h.orch.Respond(context.Background(), Request{
			Query:     "Do you allow pets?",
			SessionID: sid,
			History:   []session.Message{},
		})
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}

		routing := h.mock.Calls()[before].UserMessage
		if strings.Contains(routing, "stored question") {
			t.Errorf("routing prompt used stored history for an explicitly empty one:\n%s", routing)
		}
	})
}

func TestOrchestratorCancelledMidStream(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.routeTo(agent.TravelSupport, 0.9)

	// Enough increments to outlast the pipeline buffer, so generation is
	// still in flight when the consumer walks away.
	increments := make([]string, 40)
	for i := range increments {
		increments[i] = "word "
	}
	h.mock.AddStreamedResponse("Customer question", increments...)

	ctx, cancel := context.WithCancel(context.Background())
	events := h.orch.Stream(ctx, Request{Query: "Tell me everything about Iceland"})

	ev, ok := <-events
	if !ok {
		t.Fatal("stream closed before the first chunk")
	}
	if ev.Type != stream.EventChunk {
		t.Fatalf("first event = %v, want chunk", ev.Type)
	}
	cancel()

	chunks := 1
	for ev := range events {
		switch ev.Type {
		case stream.EventChunk:
			chunks++
		case stream.EventComplete:
			t.Fatal("received Complete after cancellation")
		case stream.EventError:
			if ev.Err.Kind != stream.KindCancelled {
				t.Fatalf("terminal error kind = %q, want %q", ev.Err.Kind, stream.KindCancelled)
			}
		}
	}
	// The channel closed; generation never ran to completion.
	if chunks >= len(increments) {
		t.Errorf("consumed %d chunks, want fewer than %d", chunks, len(increments))
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	var executors []*Executor
	for _, e := range h.orch.executors {
		executors = append(executors, e)
	}

	t.Run("missing executor", func(t *testing.T) {
		t.Parallel()
		if _, err := NewOrchestrator(h.orch.router, executors[:2], h.sessions, nil); err == nil {
			t.Error("NewOrchestrator() = nil error with a missing executor")
		}
	})
	t.Run("duplicate executor", func(t *testing.T) {
		t.Parallel()
		dup := append(append([]*Executor{}, executors...), executors[0])
		if _, err := NewOrchestrator(h.orch.router, dup, h.sessions, nil); err == nil {
			t.Error("NewOrchestrator() = nil error with a duplicate executor")
		}
	})
	t.Run("nil router", func(t *testing.T) {
		t.Parallel()
		if _, err := NewOrchestrator(nil, executors, h.sessions, nil); err == nil {
			t.Error("NewOrchestrator() = nil error with nil router")
		}
	})
}

func TestKindFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want stream.ErrorKind
	}{
		{"cancelled", context.Canceled, stream.KindCancelled},
		{"deadline", context.DeadlineExceeded, stream.KindCancelled},
		{"cache", fmt.Errorf("%w: x", retrieval.ErrCacheUnavailable), stream.KindCacheUnavailable},
		{"retrieval", fmt.Errorf("%w: x", retrieval.ErrRetrieval), stream.KindRetrieval},
		{"classification", fmt.Errorf("%w: x", agent.ErrClassification), stream.KindClassification},
		{"generation", fmt.Errorf("%w: x", ErrGeneration), stream.KindGeneration},
		{"unknown", errors.New("boom"), stream.KindInternal},
		// Per-call timeouts keep their stage's kind while the caller is
		// still connected.
		{
			"generation timeout",
			fmt.Errorf("%w: %w", ErrGeneration, fmt.Errorf("generate: %w", context.DeadlineExceeded)),
			stream.KindGeneration,
		},
		{
			"retrieval timeout",
			fmt.Errorf("%w: %w", retrieval.ErrRetrieval, fmt.Errorf("search query timeout: %w", context.DeadlineExceeded)),
			stream.KindRetrieval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := kindFor(context.Background(), tt.err); got != tt.want {
				t.Errorf("kindFor(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}

	t.Run("request context cancelled wins", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := fmt.Errorf("%w: x", ErrGeneration)
		if got := kindFor(ctx, err); got != stream.KindCancelled {
			t.Errorf("kindFor(cancelled ctx, %v) = %q, want %q", err, got, stream.KindCancelled)
		}
	})
}

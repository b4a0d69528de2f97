package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/retrieval"
	"github.com/tripdesk/tripdesk/internal/session"
	"github.com/tripdesk/tripdesk/internal/stream"
)

// Request is one customer query entering the pipeline.
type Request struct {
	Query     string
	SessionID string

	// History is the caller-supplied conversation history, used as-is when
	// present. Nil falls back to the server-side session store.
	History []session.Message

	// Agent pins the request to a specific agent, skipping classification.
	// Empty means route by classifier.
	Agent agent.Type
}

// Response is the synchronous result of a fully processed request.
type Response struct {
	Text      string         `json:"response"`
	SessionID string         `json:"session_id"`
	Agent     agent.Type     `json:"agent"`
	Routing   agent.Decision `json:"routing"`
}

// Orchestrator drives a request through the fixed stage sequence: route,
// fetch context, generate, deliver. Each executor owns its retrieval
// strategy so agent and strategy can never drift apart mid-request.
type Orchestrator struct {
	router    *agent.Router
	executors map[agent.Type]*Executor
	sessions  *session.Store
	logger    *slog.Logger
}

// NewOrchestrator wires the router to its executors. Every agent type must
// have exactly one executor.
func NewOrchestrator(router *agent.Router, executors []*Executor, sessions *session.Store, logger *slog.Logger) (*Orchestrator, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	byAgent := make(map[agent.Type]*Executor, len(executors))
	for _, ex := range executors {
		if _, dup := byAgent[ex.Agent()]; dup {
			return nil, fmt.Errorf("duplicate executor for agent %q", ex.Agent())
		}
		byAgent[ex.Agent()] = ex
	}
	for _, t := range agent.Types() {
		if _, ok := byAgent[t]; !ok {
			return nil, fmt.Errorf("no executor for agent %q", t)
		}
	}

	return &Orchestrator{
		router:    router,
		executors: byAgent,
		sessions:  sessions,
		logger:    logger,
	}, nil
}

// Stream processes the request asynchronously and returns the event channel
// immediately. The channel delivers zero or more chunk events followed by
// exactly one terminal event, unless ctx is cancelled mid-flight, in which
// case the channel may close without a terminal.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan stream.Event {
	p := stream.NewPipeline()
	go o.process(ctx, req, p)
	return p.Events()
}

// Respond processes the request synchronously and returns the complete
// response once generation finishes.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (Response, error) {
	p := stream.NewPipeline()

	routed := make(chan agent.Decision, 1)
	go o.processRouted(ctx, req, p, routed)

	completion, err := stream.Collect(ctx, p)
	if err != nil {
		return Response{}, err
	}
	resp := Response{
		Text:      completion.Text,
		SessionID: completion.SessionID,
		Agent:     completion.Agent,
	}
	select {
	case d := <-routed:
		resp.Routing = d
	default:
	}
	return resp, nil
}

func (o *Orchestrator) process(ctx context.Context, req Request, p *stream.Pipeline) {
	o.processRouted(ctx, req, p, nil)
}

// processRouted runs the stage sequence and reports terminal state through
// the pipeline. If routed is non-nil the routing decision is sent on it
// (buffered, never blocking) as soon as classification settles.
func (o *Orchestrator) processRouted(ctx context.Context, req Request, p *stream.Pipeline, routed chan<- agent.Decision) {
	start := time.Now()
	sessionID := session.Resolve(req.SessionID)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		p.Fail(ctx, stream.KindClassification, "query must not be empty")
		return
	}

	log := o.logger.With("session_id", sessionID)
	log.Info("request received", "query_length", len(query))

	history := req.History
	if history == nil {
		history = o.sessions.History(sessionID)
	}

	var decision agent.Decision
	if req.Agent != "" {
		if !req.Agent.Valid() {
			p.Fail(ctx, stream.KindClassification, fmt.Sprintf("unknown agent %q", req.Agent))
			return
		}
		decision = agent.Decision{Agent: req.Agent, Confidence: 1, Reasoning: "pinned by request"}
	} else {
		decision = o.router.Route(ctx, query, history)
	}
	if routed != nil {
		routed <- decision
	}
	if ctx.Err() != nil {
		p.Fail(ctx, stream.KindCancelled, "request cancelled")
		return
	}
	log.Info("request routed", "agent", decision.Agent, "confidence", decision.Confidence)

	executor := o.executors[decision.Agent]

	assembled, err := executor.FetchContext(ctx, query, history)
	if err != nil {
		o.fail(ctx, p, log, err)
		return
	}
	log.Info("context assembled",
		"agent", decision.Agent,
		"context_chars", len(assembled.Text),
		"chunks", len(assembled.Chunks),
		"cached_docs", assembled.CachedDocs,
		"truncated", assembled.Truncated)

	log.Debug("generating response", "agent", decision.Agent)
	text, err := executor.Respond(ctx, query, history, assembled, func(cbCtx context.Context, delta string) error {
		return p.Emit(cbCtx, delta)
	})
	if err != nil {
		o.fail(ctx, p, log, err)
		return
	}

	o.sessions.Append(sessionID, query, text)

	p.Complete(ctx, stream.Completion{
		Text:      text,
		SessionID: sessionID,
		Agent:     decision.Agent,
	})
	log.Info("request completed",
		"agent", decision.Agent,
		"response_chars", len(text),
		"duration", time.Since(start).Round(time.Millisecond))
}

func (o *Orchestrator) fail(ctx context.Context, p *stream.Pipeline, log *slog.Logger, err error) {
	kind := kindFor(ctx, err)
	if kind == stream.KindCancelled {
		log.Info("request cancelled")
		p.Fail(ctx, kind, "request cancelled")
		return
	}
	log.Error("request failed", "kind", kind, "error", err)
	p.Fail(ctx, kind, publicMessage(kind))
}

// kindFor maps internal errors onto the wire-visible error taxonomy.
//
// Only the request context going away counts as Cancelled. A per-call
// deadline expiring inside a stage surfaces as that stage's kind: the caller
// is still connected and a timed-out provider call is a provider failure,
// not a client disconnect.
func kindFor(ctx context.Context, err error) stream.ErrorKind {
	if ctx.Err() != nil {
		return stream.KindCancelled
	}
	switch {
	case errors.Is(err, retrieval.ErrCacheUnavailable):
		return stream.KindCacheUnavailable
	case errors.Is(err, retrieval.ErrRetrieval):
		return stream.KindRetrieval
	case errors.Is(err, agent.ErrClassification):
		return stream.KindClassification
	case errors.Is(err, ErrGeneration):
		return stream.KindGeneration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stream.KindCancelled
	default:
		return stream.KindInternal
	}
}

func publicMessage(kind stream.ErrorKind) string {
	switch kind {
	case stream.KindRetrieval:
		return "knowledge retrieval failed"
	case stream.KindCacheUnavailable:
		return "policy cache is unavailable"
	case stream.KindClassification:
		return "query classification failed"
	case stream.KindGeneration:
		return "response generation failed"
	default:
		return "internal error"
	}
}

// Package chat contains the agent executors and the orchestrator that runs
// one request through routing, retrieval, generation, and streaming.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/retrieval"
	"github.com/tripdesk/tripdesk/internal/session"
)

// StreamCallback receives each text increment as it is generated.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, text string) error

// ExecutorConfig contains the parameters for one agent executor.
type ExecutorConfig struct {
	Genkit   *genkit.Genkit
	Agent    agent.Type
	Strategy retrieval.Strategy
	Logger   *slog.Logger

	// ModelName is the provider-qualified generation model.
	ModelName string

	// SystemPrompt overrides the default prompt for the agent type.
	SystemPrompt string

	// Temperature for generation. Zero value uses the provider default.
	Temperature float64

	// MaxHistoryMessages bounds how many trailing history messages are sent
	// to the model. This is the executor's explicit history budget; 0 keeps
	// the full history (no implicit truncation).
	MaxHistoryMessages int

	// Timeout bounds one generation call. Zero value defaults to 2m.
	Timeout time.Duration

	// RetryConfig for pre-stream retries (zero value uses defaults).
	RetryConfig RetryConfig

	// RateLimiter proactively throttles provider calls (nil = default).
	RateLimiter *rate.Limiter
}

// Executor is the fixed pairing of one agent type with its retrieval
// strategy, prompt template, and generation model. All configuration is
// captured immutably at construction so it is safe for concurrent use.
type Executor struct {
	agent        agent.Type
	strategy     retrieval.Strategy
	systemPrompt string
	modelName    string
	temperature  float64
	maxHistory   int
	timeout      time.Duration
	retryConfig  RetryConfig
	rateLimiter  *rate.Limiter

	g      *genkit.Genkit
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if !cfg.Agent.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, cfg.Agent)
	}
	if cfg.Strategy == nil {
		return nil, errors.New("retrieval strategy is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("generation model name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt(cfg.Agent)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 && retryConfig.InitialInterval == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Executor{
		agent:        cfg.Agent,
		strategy:     cfg.Strategy,
		systemPrompt: systemPrompt,
		modelName:    cfg.ModelName,
		temperature:  cfg.Temperature,
		maxHistory:   cfg.MaxHistoryMessages,
		timeout:      timeout,
		retryConfig:  retryConfig,
		rateLimiter:  rl,
		g:            cfg.Genkit,
		logger:       logger,
	}, nil
}

func defaultSystemPrompt(t agent.Type) string {
	switch t {
	case agent.BookingPayments:
		return bookingPaymentsSystemPrompt
	case agent.Policy:
		return policySystemPrompt
	default:
		return travelSupportSystemPrompt
	}
}

// Agent returns the agent type this executor serves.
func (e *Executor) Agent() agent.Type {
	return e.agent
}

// FetchContext runs the executor's retrieval strategy for the query,
// scoped to this executor's agent.
func (e *Executor) FetchContext(ctx context.Context, query string, history []session.Message) (retrieval.AssembledContext, error) {
	return e.strategy.FetchContext(ctx, query, history, e.agent.Scope())
}

// Respond invokes the generation model over the assembled context and
// history. If callback is non-nil each text increment is delivered as it
// arrives; the full response text is always returned after generation
// completes. A provider failure before the first increment is retried per
// the retry config; after the first increment it is terminal.
func (e *Executor) Respond(
	ctx context.Context,
	query string,
	history []session.Message,
	assembled retrieval.AssembledContext,
	callback StreamCallback,
) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := e.buildMessages(query, history, assembled)

	var emitted atomic.Bool
	opts := []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithSystem(e.systemPrompt),
		ai.WithMessages(messages...),
	}
	if e.temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": e.temperature}))
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				emitted.Store(true)
				if err := callback(cbCtx, part.Text); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	resp, err := e.generateWithRetry(genCtx,
		func(c context.Context) (*ai.ModelResponse, error) {
			return genkit.Generate(c, e.g, opts...)
		},
		emitted.Load,
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		e.logger.Warn("model returned empty response", "agent", e.agent)
		text = fallbackResponse
		if callback != nil && !emitted.Load() {
			if err := callback(ctx, text); err != nil {
				return "", err
			}
		}
	}

	return text, nil
}

// buildMessages renders the bounded history plus the context-bearing user
// turn. History is trimmed from the front only when the executor's explicit
// history budget says so.
func (e *Executor) buildMessages(query string, history []session.Message, assembled retrieval.AssembledContext) []*ai.Message {
	trimmed := history
	if e.maxHistory > 0 && len(history) > e.maxHistory {
		trimmed = history[len(history)-e.maxHistory:]
	}

	messages := make([]*ai.Message, 0, len(trimmed)+1)
	for _, msg := range trimmed {
		switch msg.Role {
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(msg.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(msg.Content)))
		}
	}

	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(renderUserPrompt(query, assembled))))
	return messages
}

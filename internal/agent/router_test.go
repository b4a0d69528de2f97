package agent_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/session"
	"github.com/tripdesk/tripdesk/internal/testutil"
)

func newTestRouter(t *testing.T, mock *testutil.MockLLM, cfg agent.RouterConfig) *agent.Router {
	t.Helper()

	g := testutil.SetupGenkit(t)
	mock.RegisterModel(g)

	cfg.Genkit = g
	cfg.ModelName = "mock/test-model"
	cfg.Logger = slog.New(slog.DiscardHandler)

	r, err := agent.NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return r
}

func TestRouterRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		response       string
		query          string
		wantAgent      agent.Type
		wantConfidence float64
	}{
		{
			name:           "clean json",
			response:       `{"agent_type": "policy", "confidence": 0.92, "reasoning": "refund question"}`,
			query:          "What is your refund policy?",
			wantAgent:      agent.Policy,
			wantConfidence: 0.92,
		},
		{
			name: "json wrapped in code fence",
			response: "```json\n" +
				`{"agent_type": "booking_payments", "confidence": 0.85, "reasoning": "pricing"}` +
				"\n```",
			query:          "How much is the Bali package?",
			wantAgent:      agent.BookingPayments,
			wantConfidence: 0.85,
		},
		{
			name:           "confidence clamped to unit interval",
			response:       `{"agent_type": "travel_support", "confidence": 1.7, "reasoning": "advice"}`,
			query:          "Best time to visit Kyoto?",
			wantAgent:      agent.TravelSupport,
			wantConfidence: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := testutil.NewMockLLM(tt.response)
			r := newTestRouter(t, mock, agent.RouterConfig{})

			d := r.Route(context.Background(), tt.query, nil)
			if d.Agent != tt.wantAgent {
				t.Errorf("Agent = %q, want %q", d.Agent, tt.wantAgent)
			}
			if d.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", d.Confidence, tt.wantConfidence)
			}
			if d.Raw == "" {
				t.Error("Raw classifier output not preserved")
			}
		})
	}
}

func TestRouterUnparseableOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
	}{
		{"prose without json", "I think this belongs to the policy agent."},
		{"malformed json", `{"agent_type": "policy", "confidence":`},
		{"unknown label", `{"agent_type": "weather", "confidence": 0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := testutil.NewMockLLM(tt.response)
			r := newTestRouter(t, mock, agent.RouterConfig{DefaultAgent: agent.TravelSupport})

			d := r.Route(context.Background(), "What is your refund policy?", nil)
			if d.Agent != agent.TravelSupport {
				t.Errorf("Agent = %q, want default %q", d.Agent, agent.TravelSupport)
			}
			if d.Confidence != 0 {
				t.Errorf("Confidence = %v, want 0 on fallback", d.Confidence)
			}
		})
	}
}

func TestRouterKeywordFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  agent.Type
	}{
		{"policy terms", "Can I get a refund if I cancel?", agent.Policy},
		{"booking terms", "How much does the package cost?", agent.BookingPayments},
		{"no match uses default", "Tell me about Kyoto in autumn", agent.TravelSupport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := testutil.NewMockLLM("unused")
			mock.FailNext(1, errors.New("model unavailable"))
			r := newTestRouter(t, mock, agent.RouterConfig{})

			d := r.Route(context.Background(), tt.query, nil)
			if d.Agent != tt.want {
				t.Errorf("Agent = %q, want %q", d.Agent, tt.want)
			}
			if d.Confidence != 0 {
				t.Errorf("Confidence = %v, want 0 on fallback", d.Confidence)
			}
		})
	}
}

func TestRouterConfidenceThreshold(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM(
		`{"agent_type": "policy", "confidence": 0.4, "reasoning": "unsure"}`)
	r := newTestRouter(t, mock, agent.RouterConfig{
		DefaultAgent:        agent.TravelSupport,
		ConfidenceThreshold: 0.6,
	})

	d := r.Route(context.Background(), "Something about my trip", nil)
	if d.Agent != agent.TravelSupport {
		t.Errorf("Agent = %q, want re-route to %q", d.Agent, agent.TravelSupport)
	}
	if d.Confidence != 0.4 {
		t.Errorf("Confidence = %v, want original 0.4 preserved", d.Confidence)
	}
}

func TestRouterThresholdKeepsDefaultAgent(t *testing.T) {
	t.Parallel()

	// Low confidence on the default agent itself is not re-routed.
	mock := testutil.NewMockLLM(
		`{"agent_type": "travel_support", "confidence": 0.3, "reasoning": "vague"}`)
	r := newTestRouter(t, mock, agent.RouterConfig{
		DefaultAgent:        agent.TravelSupport,
		ConfidenceThreshold: 0.6,
	})

	d := r.Route(context.Background(), "hmm", nil)
	if d.Agent != agent.TravelSupport {
		t.Errorf("Agent = %q, want %q", d.Agent, agent.TravelSupport)
	}
	if d.Confidence != 0.3 {
		t.Errorf("Confidence = %v, want 0.3", d.Confidence)
	}
}

func TestRouterHistoryInPrompt(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM(
		`{"agent_type": "booking_payments", "confidence": 0.8, "reasoning": "followup"}`)
	r := newTestRouter(t, mock, agent.RouterConfig{})

	history := []session.Message{
		{Role: session.RoleUser, Content: "I booked the Lisbon package"},
		{Role: session.RoleAssistant, Content: "Great, anything else?"},
		{Role: session.RoleUser, Content: "Yes, about the invoice"},
	}
	r.Route(context.Background(), "Can you resend it?", history)

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("classifier calls = %d, want 1", len(calls))
	}
	for _, want := range []string{"I booked the Lisbon package", "Yes, about the invoice", "Can you resend it?"} {
		if !strings.Contains(calls[0].UserMessage, want) {
			t.Errorf("classifier prompt missing %q", want)
		}
	}
	if strings.Contains(calls[0].UserMessage, "Great, anything else?") {
		t.Error("assistant turns should not appear in the routing prompt")
	}
}

func TestNewRouterValidation(t *testing.T) {
	t.Parallel()

	g := testutil.SetupGenkit(t)

	tests := []struct {
		name string
		cfg  agent.RouterConfig
	}{
		{"nil genkit", agent.RouterConfig{ModelName: "mock/test-model"}},
		{"missing model name", agent.RouterConfig{Genkit: g}},
		{"invalid default agent", agent.RouterConfig{
			Genkit: g, ModelName: "mock/test-model", DefaultAgent: agent.Type("weather"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := agent.NewRouter(tt.cfg); err == nil {
				t.Error("NewRouter() = nil error, want validation error")
			}
		})
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range agent.Types() {
		got, err := agent.ParseType(string(typ))
		if err != nil || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ, got, err)
		}
	}
	if _, err := agent.ParseType("weather"); err == nil {
		t.Error("ParseType(weather) = nil error, want failure")
	}
}

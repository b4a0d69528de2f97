package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tripdesk/tripdesk/internal/session"
)

// ErrClassification indicates the classifier call failed or produced
// unparseable output. It is never surfaced to the end user: the router
// recovers locally by falling back.
var ErrClassification = errors.New("classification failed")

// maxRoutingHistory is how many trailing user turns are included in the
// classifier prompt for context.
const maxRoutingHistory = 2

// routingPrompt constrains the classifier to emit a single JSON object.
// %s placeholders: (1) optional recent-history block, (2) the query.
const routingPrompt = `You are a routing agent for a travel agency customer service system.
Analyze the customer query and route it to the most appropriate specialized agent.

Available agents:
1. travel_support - destinations, travel tips, itineraries, general travel advice
2. booking_payments - pricing, packages, payments, invoices, booking costs
3. policy - cancellation policies, refunds, terms of service, travel insurance, baggage policies

Respond with ONLY a JSON object in this exact format:
{"agent_type": "travel_support" | "booking_payments" | "policy", "confidence": 0.0-1.0, "reasoning": "brief explanation"}
%s
Route this query: %s`

// RouterConfig contains required parameters for the Router.
type RouterConfig struct {
	Genkit *genkit.Genkit
	Logger *slog.Logger

	// ModelName is the provider-qualified classifier model. Cheap and
	// low-latency; quality generation uses a separate model.
	ModelName string

	// DefaultAgent receives queries the classifier cannot place.
	// Zero value defaults to TravelSupport.
	DefaultAgent Type

	// ConfidenceThreshold re-routes decisions below it to DefaultAgent.
	// 0 disables the check (always trust the classifier's label).
	ConfidenceThreshold float64

	// Timeout bounds the classifier call. Zero value defaults to 10s.
	Timeout time.Duration
}

// Router assigns each incoming query to one agent type using a low-cost
// model call. It holds no mutable state and is safe for concurrent use.
type Router struct {
	g            *genkit.Genkit
	modelName    string
	defaultAgent Type
	threshold    float64
	timeout      time.Duration
	logger       *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("classifier model name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultAgent := cfg.DefaultAgent
	if defaultAgent == "" {
		defaultAgent = TravelSupport
	}
	if !defaultAgent.Valid() {
		return nil, fmt.Errorf("invalid default agent %q", defaultAgent)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		g:            cfg.Genkit,
		modelName:    cfg.ModelName,
		defaultAgent: defaultAgent,
		threshold:    cfg.ConfidenceThreshold,
		timeout:      timeout,
		logger:       logger,
	}, nil
}

// classifierOutput mirrors the JSON the routing prompt demands.
type classifierOutput struct {
	AgentType  string  `json:"agent_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Route produces exactly one Decision for the query. It never returns an
// error to the caller: classification failures fall back to keyword routing,
// and unrecognized labels fall back to the default agent with confidence 0.
// Anomalies are logged, not surfaced.
func (r *Router) Route(ctx context.Context, query string, history []session.Message) Decision {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := genkit.Generate(callCtx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithPrompt(fmt.Sprintf(routingPrompt, historyBlock(history), query)),
	)
	if err != nil {
		r.logger.Warn("classifier call failed, using keyword fallback",
			"error", fmt.Errorf("%w: %w", ErrClassification, err))
		return r.keywordFallback(query)
	}

	raw := strings.TrimSpace(resp.Text())
	decision, err := r.parseDecision(raw)
	if err != nil {
		r.logger.Warn("unparseable classifier output, using default agent",
			"error", fmt.Errorf("%w: %w", ErrClassification, err),
			"raw", truncate(raw, 200))
		return Decision{Agent: r.defaultAgent, Confidence: 0, Raw: raw}
	}

	if r.threshold > 0 && decision.Confidence < r.threshold && decision.Agent != r.defaultAgent {
		r.logger.Info("low-confidence decision re-routed to default agent",
			"agent", decision.Agent,
			"confidence", decision.Confidence,
			"threshold", r.threshold)
		decision.Agent = r.defaultAgent
		return decision
	}

	r.logger.Debug("routed query",
		"agent", decision.Agent,
		"confidence", decision.Confidence,
		"reasoning", decision.Reasoning)
	return decision
}

// parseDecision extracts the routing JSON from raw model output. Models
// sometimes wrap the object in prose or code fences, so it scans for the
// outermost braces before unmarshaling.
func (r *Router) parseDecision(raw string) (Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("no JSON object in output %q", truncate(raw, 100))
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return Decision{}, fmt.Errorf("parsing routing output: %w", err)
	}

	agent, err := ParseType(out.AgentType)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Agent:      agent,
		Confidence: clamp01(out.Confidence),
		Reasoning:  out.Reasoning,
		Raw:        raw,
	}, nil
}

// Keyword groups for fallback routing when the classifier is unreachable.
var (
	bookingKeywords = []string{
		"price", "cost", "payment", "invoice", "booking", "package",
		"how much", "pricing", "pay", "charge",
	}
	policyKeywords = []string{
		"policy", "cancel", "cancellation", "terms", "insurance",
		"baggage", "refund", "terms of service",
	}
)

// keywordFallback scores the query against keyword groups. Used only when
// the classifier call itself fails; it keeps routing deterministic while the
// provider is unreachable.
func (r *Router) keywordFallback(query string) Decision {
	lower := strings.ToLower(query)

	bookingScore := countMatches(lower, bookingKeywords)
	policyScore := countMatches(lower, policyKeywords)

	switch {
	case bookingScore > policyScore && bookingScore > 0:
		return Decision{
			Agent:      BookingPayments,
			Confidence: 0,
			Reasoning:  "keyword fallback: booking/payment terms",
		}
	case policyScore > 0:
		return Decision{
			Agent:      Policy,
			Confidence: 0,
			Reasoning:  "keyword fallback: policy terms",
		}
	default:
		return Decision{
			Agent:      r.defaultAgent,
			Confidence: 0,
			Reasoning:  "keyword fallback: no match, default agent",
		}
	}
}

func countMatches(s string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			n++
		}
	}
	return n
}

// historyBlock renders the trailing user turns for the classifier prompt.
// Returns an empty string when there is no usable history.
func historyBlock(history []session.Message) string {
	var turns []string
	for i := len(history) - 1; i >= 0 && len(turns) < maxRoutingHistory; i-- {
		if history[i].Role == session.RoleUser {
			turns = append(turns, history[i].Content)
		}
	}
	if len(turns) == 0 {
		return "\n"
	}

	var b strings.Builder
	b.WriteString("\nRecent customer messages for context:\n")
	for i := len(turns) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "- %s\n", turns[i])
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

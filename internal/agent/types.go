// Package agent defines the closed set of specialist agents and the router
// that assigns incoming queries to one of them.
package agent

import "fmt"

// Type identifies a specialist agent. The set is closed: every query is
// handled by exactly one of these, and each is bound at construction time to
// one retrieval strategy, prompt template, and generation model.
type Type string

const (
	// TravelSupport answers destination and travel-advice questions (pure retrieval).
	TravelSupport Type = "travel_support"

	// BookingPayments answers pricing and booking questions (hybrid retrieval).
	BookingPayments Type = "booking_payments"

	// Policy answers policy and terms questions (pure cache).
	Policy Type = "policy"
)

// Types returns all agent types in stable order.
func Types() []Type {
	return []Type{TravelSupport, BookingPayments, Policy}
}

// Valid reports whether t is a member of the closed agent set.
func (t Type) Valid() bool {
	switch t {
	case TravelSupport, BookingPayments, Policy:
		return true
	}
	return false
}

// Scope is the label partitioning the context store and the document cache
// by agent type.
func (t Type) Scope() string {
	return string(t)
}

// ParseType converts a label into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown agent type %q", s)
	}
	return t, nil
}

// Decision is the outcome of routing one query. It is produced exactly once
// per request and discarded after the response completes.
type Decision struct {
	Agent      Type    // selected agent, always a valid Type
	Confidence float64 // classifier confidence in [0, 1]; 0 on fallback
	Reasoning  string  // classifier's brief explanation, if any
	Raw        string  // raw classifier output, for observability
}

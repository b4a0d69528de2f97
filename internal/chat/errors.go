package chat

import "errors"

// Sentinel errors for executor operations, checked with errors.Is.
var (
	// ErrGeneration indicates the generation provider failed (timeout, rate
	// limit, malformed response). Fatal to the request.
	ErrGeneration = errors.New("generation failed")

	// ErrUnknownAgent indicates no executor is registered for the routed
	// agent type. Indicates a wiring bug, not user input.
	ErrUnknownAgent = errors.New("unknown agent type")
)

// fallbackResponse is returned when the model produces an empty response.
const fallbackResponse = "I apologize, but I couldn't generate a response. Please try again or contact customer support."

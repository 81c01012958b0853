package classify

import (
	"fmt"
	"strings"
)

// Classification is the four-way effect category of a command.
type Classification string

const (
	Read   Classification = "READ"
	Create Classification = "CREATE"
	Update Classification = "UPDATE"
	Delete Classification = "DELETE"
)

// Fallback is the classification returned whenever reliable
// classification is unavailable. CREATE is deliberately the most
// conservative choice: it forces a confirmation step instead of
// silently auto-approving.
const (
	Fallback           = Create
	FallbackConfidence = 0.5
)

// ParseClassification parses a label, tolerating surrounding whitespace
// and any casing.
func ParseClassification(s string) (Classification, error) {
	switch Classification(strings.ToUpper(strings.TrimSpace(s))) {
	case Read:
		return Read, nil
	case Create:
		return Create, nil
	case Update:
		return Update, nil
	case Delete:
		return Delete, nil
	}
	return "", fmt.Errorf("unknown classification %q", s)
}

func (c Classification) String() string { return string(c) }

// Valid reports whether c is one of the four labels.
func (c Classification) Valid() bool {
	switch c {
	case Read, Create, Update, Delete:
		return true
	}
	return false
}

// Mutating reports whether the command changes state.
func (c Classification) Mutating() bool { return c != Read }

// Result is the outcome of classifying one command.
type Result struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// NewResult builds a result with the confidence clamped to [0, 1].
func NewResult(c Classification, confidence float64) *Result {
	return &Result{Classification: c, Confidence: clamp01(confidence)}
}

// WithReasoning attaches reasoning text and returns the result.
func (r *Result) WithReasoning(reasoning string) *Result {
	r.Reasoning = reasoning
	return r
}

// IsSafe reports whether the command can run without confirmation.
func (r *Result) IsSafe() bool { return r.Classification == Read }

// RequiresConfirmation reports whether the command mutates state.
func (r *Result) RequiresConfirmation() bool { return r.Classification.Mutating() }

// FallbackResult is the degraded-mode result: the conservative
// classification with a reasoning note explaining why.
func FallbackResult(reason string) *Result {
	return NewResult(Fallback, FallbackConfidence).
		WithReasoning("Fallback due to error: " + reason)
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

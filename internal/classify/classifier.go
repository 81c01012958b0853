// Package classify turns shell commands into CRUD classifications by
// prompting the configured inference backend. Classification never
// fails outright: any backend problem degrades to the conservative
// CREATE fallback so the permission layer always has a decision basis.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Inferer generates raw model text for a prompt. The model manager
// implements it; tests swap in fakes.
type Inferer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

type Classifier struct {
	inferer Inferer
}

func NewClassifier(inferer Inferer) *Classifier {
	return &Classifier{inferer: inferer}
}

// Classify labels a command. It always returns a usable result; errors
// from the backend are absorbed into the fallback classification and
// surface only through the reasoning text.
func (c *Classifier) Classify(ctx context.Context, command string) *Result {
	prompt := BuildPrompt(command)

	raw, err := c.inferer.Infer(ctx, prompt)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "classification timed out"
		}
		log.Printf("[classify] inference failed, using %s fallback: %v", Fallback, err)
		return FallbackResult(reason)
	}

	label, parseErr := ParseClassification(extractLabel(raw))
	if parseErr != nil {
		log.Printf("[classify] unrecognized model output %q, using %s fallback", snippet(raw, 80), Fallback)
		return NewResult(Fallback, FallbackConfidence).
			WithReasoning(fmt.Sprintf("Defaulting to %s: unrecognized model output %q", Fallback, snippet(raw, 80)))
	}

	return NewResult(label, scoreConfidence(raw, label))
}

var hedgingWords = []string{"maybe", "might", "could", "possibly", "probably"}

// scoreConfidence rates how much to trust a model response. A bare
// label scores highest; hedging language costs the most.
func scoreConfidence(raw string, label Classification) float64 {
	confidence := 0.8

	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, string(label)) {
		confidence += 0.15
	}
	if len(trimmed) <= 10 {
		confidence += 0.05
	}

	lower := strings.ToLower(raw)
	for _, word := range hedgingWords {
		if strings.Contains(lower, word) {
			confidence -= 0.2
			break
		}
	}

	return clamp01(confidence)
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

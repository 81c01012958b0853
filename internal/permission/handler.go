// Package permission maps command classifications to gating decisions.
// Evaluation never blocks and never fails: every call yields a decision
// and exactly one audit record, even when classification degraded.
package permission

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/stellarlinkco/clawgate/internal/audit"
	"github.com/stellarlinkco/clawgate/internal/bus"
	"github.com/stellarlinkco/clawgate/internal/classify"
	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/hooks"
)

// Decision is the gating outcome for one command.
type Decision string

const (
	// Approved commands proceed without user interaction.
	Approved Decision = "APPROVED"
	// PendingUser commands wait for explicit confirmation.
	PendingUser Decision = "PENDING_USER"
	// Denied commands are blocked by the deny list.
	Denied Decision = "DENIED"
	// Skipped means the hooks system is disabled and no gating applies.
	Skipped Decision = "SKIPPED"
)

// Request is one command to evaluate.
type Request struct {
	Command           string            `json:"command"`
	SkipConfirmations bool              `json:"dangerously_skip_confirmations,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
}

// Response is the evaluation outcome. Classification is nil when the
// decision was made before classifying (deny-list hit, hooks disabled).
type Response struct {
	Decision       Decision         `json:"decision"`
	Reasoning      string           `json:"reasoning"`
	Timestamp      time.Time        `json:"timestamp"`
	Classification *classify.Result `json:"classification,omitempty"`
	ResponseTimeMs int64            `json:"response_time_ms"`
}

// Classifier yields CRUD classifications for command text.
type Classifier interface {
	Classify(ctx context.Context, command string) *classify.Result
}

type denyRule struct {
	pattern string
	re      *regexp.Regexp
}

// Handler applies gating policy. Policy fields are swappable at runtime
// through ApplyConfig so the daemon can hot-reload them.
type Handler struct {
	classifier Classifier
	store      *audit.Store
	bus        *bus.Bus

	mu                sync.RWMutex
	enabled           bool
	autoApproveRead   bool
	skipConfirmations bool
	deny              []denyRule
}

// NewHandler builds a handler from the config's policy sections. The
// store may be nil; decisions are then not persisted.
func NewHandler(cfg *config.Config, cl Classifier, store *audit.Store, b *bus.Bus) (*Handler, error) {
	h := &Handler{classifier: cl, store: store, bus: b}
	if err := h.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	return h, nil
}

// Enabled reports whether evaluation is active under the current
// policy.
func (h *Handler) Enabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enabled
}

// ApplyConfig installs the reloadable policy: hook enablement, READ
// auto-approval, the global skip flag, and the deny list. Invalid deny
// patterns reject the whole update and keep the previous policy.
func (h *Handler) ApplyConfig(cfg *config.Config) error {
	deny := make([]denyRule, 0, len(cfg.Permissions.DenyPatterns))
	for _, p := range cfg.Permissions.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return hooks.NewConfigError("deny pattern %q: %v", p, err)
		}
		deny = append(deny, denyRule{pattern: p, re: re})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = cfg.Hooks.Enabled
	h.autoApproveRead = cfg.Permissions.AutoApproveRead
	h.skipConfirmations = cfg.Permissions.DangerouslySkipConfirmations
	h.deny = deny
	return nil
}

// Evaluate decides whether the command may run. The deny list is
// checked before classification and wins over the skip flag.
func (h *Handler) Evaluate(ctx context.Context, req Request) Response {
	start := time.Now()

	h.mu.RLock()
	enabled := h.enabled
	autoRead := h.autoApproveRead
	skip := h.skipConfirmations || req.SkipConfirmations
	deny := h.deny
	h.mu.RUnlock()

	if !enabled {
		return h.finish(start, req, Skipped, "hooks disabled", nil)
	}

	for _, rule := range deny {
		if rule.re.MatchString(req.Command) {
			return h.finish(start, req, Denied, fmt.Sprintf("deny-list match: %s", rule.pattern), nil)
		}
	}

	res := h.classifier.Classify(ctx, req.Command)

	if res.IsSafe() && autoRead {
		return h.finish(start, req, Approved, "READ operation - safe to execute", res)
	}
	if skip {
		reasoning := fmt.Sprintf("%s operation - auto-approved (dangerously-skip-confirmations enabled)", res.Classification)
		return h.finish(start, req, Approved, reasoning, res)
	}
	return h.finish(start, req, PendingUser, fmt.Sprintf("%s operation requires user confirmation", res.Classification), res)
}

// finish stamps the response, writes the audit record, and publishes
// the decision event. Audit failures are logged; the decision stands.
func (h *Handler) finish(start time.Time, req Request, decision Decision, reasoning string, res *classify.Result) Response {
	resp := Response{
		Decision:       decision,
		Reasoning:      reasoning,
		Timestamp:      time.Now().UTC(),
		Classification: res,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}

	rec := audit.Record{
		Command:        req.Command,
		Classification: string(classify.Fallback),
		Decision:       string(decision),
		Reasoning:      reasoning,
		ResponseTimeMs: resp.ResponseTimeMs,
		Timestamp:      resp.Timestamp,
	}
	if res != nil {
		rec.Classification = string(res.Classification)
		rec.Confidence = res.Confidence
	}

	if h.store != nil {
		if err := h.store.Insert(&rec); err != nil {
			log.Printf("[permission] audit write failed: %v", err)
		}
	}
	h.bus.Publish(bus.Event{Record: rec, At: resp.Timestamp})
	return resp
}

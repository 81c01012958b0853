package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/clawgate/internal/classify"
)

// HookType identifies a lifecycle point in the command gating flow.
// Custom types are namespaced so they can never collide with the
// built-in set.
type HookType string

const (
	// PreCommand fires before a gated command is evaluated.
	PreCommand HookType = "pre_command"
	// PostCommand fires after the permission decision has been produced.
	PostCommand HookType = "post_command"
	// PostExecution fires after the gated command has run, with its result attached.
	PostExecution HookType = "post_execution"
	// SessionStart fires once when an agent session begins.
	SessionStart HookType = "session_start"
	// PreCompact fires before the host compacts its conversation state.
	PreCompact HookType = "pre_compact"

	customPrefix = "custom:"
)

// CustomHook returns a namespaced custom hook type. The name is trimmed;
// an empty name yields an invalid type that Register rejects.
func CustomHook(name string) HookType {
	return HookType(customPrefix + strings.TrimSpace(name))
}

// IsCustom reports whether t is a custom hook type.
func (t HookType) IsCustom() bool {
	return strings.HasPrefix(string(t), customPrefix)
}

// Valid reports whether t is one of the built-in types or a non-empty
// custom type.
func (t HookType) Valid() bool {
	switch t {
	case PreCommand, PostCommand, PostExecution, SessionStart, PreCompact:
		return true
	}
	return t.IsCustom() && len(t) > len(customPrefix)
}

func (t HookType) String() string { return string(t) }

// Hook is a named callback registered under exactly one HookType.
type Hook interface {
	Name() string
	Handle(ctx context.Context, payload *HookPayload) error
}

// HookFunc adapts a plain function into a Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, payload *HookPayload) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Handle(ctx context.Context, payload *HookPayload) error {
	return h.Fn(ctx, payload)
}

// HookConfig carries per-hook execution overrides. Zero Timeout and
// MaxRetries fall back to the executor defaults.
type HookConfig struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"maxRetries"`
	Enabled    bool          `json:"enabled"`
}

// DefaultHookConfig returns an enabled config deferring to the executor
// defaults for timeout and retries.
func DefaultHookConfig() HookConfig {
	return HookConfig{Enabled: true}
}

// Validate rejects configurations the executor cannot honor.
func (c HookConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("maxRetries must be in [0, %d], got %d", MaxRetriesLimit, c.MaxRetries)
	}
	return nil
}

// ExecutionResult describes how a gated command ran, attached to
// PostExecution payloads.
type ExecutionResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited cleanly.
func (r ExecutionResult) Success() bool { return r.ExitCode == 0 }

// HookPayload is the value every hook of one dispatch observes. The
// executor passes the same payload to each hook in order; hooks must
// treat it as read-only.
type HookPayload struct {
	Command        string            `json:"command"`
	Context        map[string]string `json:"context,omitempty"`
	Classification *classify.Result  `json:"classification,omitempty"`
	Execution      *ExecutionResult  `json:"execution,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// NewPayload builds a payload for the given command text.
func NewPayload(command string) *HookPayload {
	return &HookPayload{
		Command: command,
		Context: make(map[string]string),
	}
}

// WithContext sets a context key and returns the payload for chaining.
func (p *HookPayload) WithContext(key, value string) *HookPayload {
	if p.Context == nil {
		p.Context = make(map[string]string)
	}
	p.Context[key] = value
	return p
}

// WithClassification attaches a classification result.
func (p *HookPayload) WithClassification(res *classify.Result) *HookPayload {
	p.Classification = res
	return p
}

// WithExecution attaches the gated command's execution result.
func (p *HookPayload) WithExecution(res *ExecutionResult) *HookPayload {
	p.Execution = res
	return p
}

// WithMetadata sets an arbitrary metadata value.
func (p *HookPayload) WithMetadata(key string, value any) *HookPayload {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = value
	return p
}

// MetadataString returns a metadata value as a string, with ok=false when
// absent or not a string.
func (p *HookPayload) MetadataString(key string) (string, bool) {
	if p.Metadata == nil {
		return "", false
	}
	v, ok := p.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

package hooks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind discriminates hook pipeline failures.
type ErrorKind int

const (
	// KindTimeout marks an invocation that exceeded its budget. Retryable.
	KindTimeout ErrorKind = iota
	// KindExecutionFailed marks a hook body that returned an error. Retryable.
	KindExecutionFailed
	// KindInvalidConfig marks malformed hook or model configuration. Fatal.
	KindInvalidConfig
	// KindPanicRecovery marks a hook body that crashed. The crash is caught
	// at the invocation boundary and counted as a failed attempt.
	KindPanicRecovery
	// KindLlmUnavailable marks a model that failed to load or a platform
	// without on-device inference. Triggers the fallback classification
	// rather than failing the request.
	KindLlmUnavailable
	// KindRegistrationFailed marks a duplicate or invalid hook name,
	// surfaced at registration time only.
	KindRegistrationFailed
	// KindMaxRetriesExceeded marks exhausted retry attempts. Terminal.
	KindMaxRetriesExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindExecutionFailed:
		return "execution_failed"
	case KindInvalidConfig:
		return "invalid_config"
	case KindPanicRecovery:
		return "panic_recovery"
	case KindLlmUnavailable:
		return "llm_unavailable"
	case KindRegistrationFailed:
		return "registration_failed"
	case KindMaxRetriesExceeded:
		return "max_retries_exceeded"
	}
	return "unknown"
}

// HookError is the typed error for every failure in the hook pipeline.
type HookError struct {
	Kind     ErrorKind
	HookType HookType
	Hook     string
	Err      error
	detail   string
}

func (e *HookError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("hook %q (%s) timed out after %s", e.Hook, e.HookType, e.detail)
	case KindExecutionFailed:
		return fmt.Sprintf("hook %q (%s) failed: %v", e.Hook, e.HookType, e.Err)
	case KindInvalidConfig:
		return fmt.Sprintf("invalid configuration: %s", e.detail)
	case KindPanicRecovery:
		return fmt.Sprintf("hook %q (%s) panicked: %s", e.Hook, e.HookType, e.detail)
	case KindLlmUnavailable:
		return fmt.Sprintf("llm unavailable: %s", e.detail)
	case KindRegistrationFailed:
		return fmt.Sprintf("registration failed for hook %q (%s): %s", e.Hook, e.HookType, e.detail)
	case KindMaxRetriesExceeded:
		return fmt.Sprintf("hook %q (%s) exceeded %s retries: %v", e.Hook, e.HookType, e.detail, e.Err)
	}
	return fmt.Sprintf("hook error (%s)", e.Kind)
}

func (e *HookError) Unwrap() error { return e.Err }

// Retryable reports whether the executor may re-attempt after this error.
// Panics are not retryable in themselves but are counted as failed
// attempts by the retry loop.
func (e *HookError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindExecutionFailed, KindLlmUnavailable:
		return true
	}
	return false
}

// NewTimeoutError reports an invocation exceeding its budget.
func NewTimeoutError(typ HookType, hook string, budget time.Duration) *HookError {
	return &HookError{Kind: KindTimeout, HookType: typ, Hook: hook, detail: budget.String()}
}

// NewExecutionError wraps an error returned by a hook body.
func NewExecutionError(typ HookType, hook string, err error) *HookError {
	return &HookError{Kind: KindExecutionFailed, HookType: typ, Hook: hook, Err: err}
}

// NewConfigError reports malformed configuration.
func NewConfigError(format string, args ...any) *HookError {
	return &HookError{Kind: KindInvalidConfig, detail: fmt.Sprintf(format, args...)}
}

// NewPanicError converts a recovered panic value into an error.
func NewPanicError(typ HookType, hook string, recovered any) *HookError {
	return &HookError{Kind: KindPanicRecovery, HookType: typ, Hook: hook, detail: fmt.Sprintf("%v", recovered)}
}

// NewLlmUnavailableError reports a model that cannot serve inference.
func NewLlmUnavailableError(reason string) *HookError {
	return &HookError{Kind: KindLlmUnavailable, detail: reason}
}

// NewRegistrationError reports a rejected registration.
func NewRegistrationError(typ HookType, hook, reason string) *HookError {
	return &HookError{Kind: KindRegistrationFailed, HookType: typ, Hook: hook, detail: reason}
}

// NewMaxRetriesError reports exhausted attempts, wrapping the last failure.
func NewMaxRetriesError(typ HookType, hook string, retries int, last error) *HookError {
	return &HookError{
		Kind:     KindMaxRetriesExceeded,
		HookType: typ,
		Hook:     hook,
		Err:      last,
		detail:   fmt.Sprintf("%d", retries),
	}
}

// IsRetryable reports whether err allows another attempt.
func IsRetryable(err error) bool {
	var he *HookError
	return errors.As(err, &he) && he.Retryable()
}

// IsTimeout reports whether err is a hook or inference timeout.
func IsTimeout(err error) bool {
	var he *HookError
	return errors.As(err, &he) && he.Kind == KindTimeout
}

// IsPanic reports whether err is a recovered hook crash.
func IsPanic(err error) bool {
	var he *HookError
	return errors.As(err, &he) && he.Kind == KindPanicRecovery
}

// HookFailure pairs a hook name with its terminal error from one dispatch.
type HookFailure struct {
	Hook string
	Err  error
}

// ExecutionError aggregates all hook failures from one dispatch. The
// executor still attempts every sibling hook; callers receive the full
// ordered failure set.
type ExecutionError struct {
	HookType HookType
	Failures []HookFailure
}

func (e *ExecutionError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Hook
	}
	return fmt.Sprintf("%d hook(s) failed for %s: %s", len(e.Failures), e.HookType, strings.Join(names, ", "))
}

// First returns the first failure's error, preserving the original
// failure ordering of the dispatch.
func (e *ExecutionError) First() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}

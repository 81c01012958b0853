package hooks

import (
	"context"
	"errors"
	"log"
	"time"
)

// Execution defaults. Per-hook config overrides apply when set; zero
// values defer to these.
const (
	// DefaultTimeout bounds a single hook invocation.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxRetries is the number of re-invocations after a failed
	// attempt, so a hook runs at most DefaultMaxRetries+1 times.
	DefaultMaxRetries = 2
	// MaxRetriesLimit caps configurable retries.
	MaxRetriesLimit = 10
	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// Executor dispatches registered hooks for a hook type. Hooks of the
// same type run sequentially in registration order; a failing hook
// never prevents its siblings from running. Each invocation is bounded
// by the hook's timeout and retried on retryable errors.
type Executor struct {
	registry   *Registry
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithDefaultTimeout sets the fallback per-invocation timeout for hooks
// whose config does not set one.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRetries sets the fallback retry count for hooks whose config
// does not set one. Zero disables retries.
func WithMaxRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 && n <= MaxRetriesLimit {
			e.maxRetries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}

// NewExecutor builds an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:   registry,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every enabled hook registered for typ against payload.
// All hooks are attempted even when earlier ones fail; the collected
// failures come back as an *ExecutionError. Registrations made after
// the snapshot is taken do not join this dispatch. A canceled ctx stops
// the dispatch between hooks and returns the context error.
func (e *Executor) Execute(ctx context.Context, typ HookType, payload *HookPayload) error {
	entries := e.registry.HooksFor(typ)
	if len(entries) == 0 {
		return nil
	}

	var failures []HookFailure
	for _, entry := range entries {
		if !entry.Config.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runHook(ctx, typ, entry, payload); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("[hooks] %s hook %q failed: %v", typ, entry.Hook.Name(), err)
			failures = append(failures, HookFailure{Hook: entry.Hook.Name(), Err: err})
		}
	}
	if len(failures) > 0 {
		return &ExecutionError{HookType: typ, Failures: failures}
	}
	return nil
}

// runHook drives the retry loop for a single hook. Timeouts and panics
// count as failed attempts; retryable failures are re-invoked from
// scratch with the identical payload until the retry budget runs out,
// at which point the last error is wrapped in a MaxRetriesExceeded.
func (e *Executor) runHook(ctx context.Context, typ HookType, entry Entry, payload *HookPayload) error {
	timeout := entry.Config.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	retries := entry.Config.MaxRetries
	if retries == 0 {
		retries = e.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			log.Printf("[hooks] retrying %s hook %q (attempt %d/%d)", typ, entry.Hook.Name(), attempt+1, retries+1)
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := e.invoke(ctx, typ, entry, payload, timeout)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		if !IsRetryable(err) && !IsPanic(err) {
			return err
		}
	}
	return NewMaxRetriesError(typ, entry.Hook.Name(), retries, lastErr)
}

// invoke runs one attempt in its own goroutine so a hung hook cannot
// block the caller past its timeout. The goroutine keeps running after
// a timeout; its eventual result is discarded.
func (e *Executor) invoke(ctx context.Context, typ HookType, entry Entry, payload *HookPayload, timeout time.Duration) error {
	invCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- NewPanicError(typ, entry.Hook.Name(), r)
			}
		}()
		done <- entry.Hook.Handle(invCtx, payload)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		var hookErr *HookError
		if errors.As(err, &hookErr) {
			return err
		}
		return NewExecutionError(typ, entry.Hook.Name(), err)
	case <-invCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return NewTimeoutError(typ, entry.Hook.Name(), timeout)
	}
}

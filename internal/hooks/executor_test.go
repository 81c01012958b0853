package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// countingHook tracks invocations and delegates to fn.
type countingHook struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, payload *HookPayload) error
}

func (c *countingHook) Name() string { return c.name }

func (c *countingHook) Handle(ctx context.Context, payload *HookPayload) error {
	c.calls.Add(1)
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, payload)
}

func newTestExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	base := []ExecutorOption{WithRetryDelay(time.Millisecond)}
	return NewExecutor(reg, append(base, opts...)...)
}

func TestExecuteNoHooks(t *testing.T) {
	exec := newTestExecutor(NewRegistry())
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute with no hooks error: %v", err)
	}
}

func TestExecuteRunsInOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	for _, name := range []string{"one", "two", "three"} {
		name := name
		mustRegister(t, reg, PreCommand, HookFunc{HookName: name, Fn: func(context.Context, *HookPayload) error {
			order = append(order, name)
			return nil
		}})
	}

	exec := newTestExecutor(reg)
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(order) != 3 || order[0] != "one" || order[1] != "two" || order[2] != "three" {
		t.Fatalf("execution order = %v, want [one two three]", order)
	}
}

func TestExecuteContinuesPastFailures(t *testing.T) {
	reg := NewRegistry()
	first := &countingHook{name: "first", fn: func(context.Context, *HookPayload) error {
		return errors.New("boom")
	}}
	second := &countingHook{name: "second"}
	third := &countingHook{name: "third", fn: func(context.Context, *HookPayload) error {
		return errors.New("bang")
	}}
	for _, h := range []Hook{first, second, third} {
		mustRegister(t, reg, PostCommand, h)
	}

	exec := newTestExecutor(reg, WithMaxRetries(0))
	err := exec.Execute(context.Background(), PostCommand, NewPayload("git push"))
	if err == nil {
		t.Fatal("Execute succeeded despite failing hooks")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T, want *ExecutionError", err)
	}
	if len(execErr.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(execErr.Failures))
	}
	if execErr.Failures[0].Hook != "first" || execErr.Failures[1].Hook != "third" {
		t.Errorf("failure order = [%s %s], want [first third]", execErr.Failures[0].Hook, execErr.Failures[1].Hook)
	}
	if got := second.calls.Load(); got != 1 {
		t.Errorf("healthy sibling ran %d times, want 1", got)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "flaky"}
	hook.fn = func(context.Context, *HookPayload) error {
		if hook.calls.Load() < 3 {
			return errors.New("transient")
		}
		return nil
	}
	cfg := HookConfig{MaxRetries: 2, Enabled: true}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	exec := newTestExecutor(reg)
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute error after recovery: %v", err)
	}
	if got := hook.calls.Load(); got != 3 {
		t.Fatalf("hook ran %d times, want exactly 3", got)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "doomed", fn: func(context.Context, *HookPayload) error {
		return errors.New("always")
	}}
	cfg := HookConfig{MaxRetries: 2, Enabled: true}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	exec := newTestExecutor(reg)
	err := exec.Execute(context.Background(), PreCommand, NewPayload("ls"))
	if err == nil {
		t.Fatal("Execute succeeded despite exhausted retries")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || len(execErr.Failures) != 1 {
		t.Fatalf("error = %v, want one aggregated failure", err)
	}
	var hookErr *HookError
	if !errors.As(execErr.Failures[0].Err, &hookErr) || hookErr.Kind != KindMaxRetriesExceeded {
		t.Fatalf("terminal error = %v, want MaxRetriesExceeded", execErr.Failures[0].Err)
	}
	if got := hook.calls.Load(); got != 3 {
		t.Fatalf("hook ran %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestExecuteTimeoutDoesNotBlock(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	defer close(release)
	hook := &countingHook{name: "slow", fn: func(ctx context.Context, _ *HookPayload) error {
		select {
		case <-release:
		case <-time.After(500 * time.Millisecond):
		}
		return nil
	}}
	cfg := HookConfig{Timeout: 50 * time.Millisecond, Enabled: true}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	exec := newTestExecutor(reg, WithMaxRetries(0))
	start := time.Now()
	err := exec.Execute(context.Background(), PreCommand, NewPayload("sleep 1"))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Execute succeeded despite hook timeout")
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("Execute blocked %v waiting for a timed-out hook", elapsed)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || len(execErr.Failures) != 1 {
		t.Fatalf("error = %v, want one aggregated failure", err)
	}
	var hookErr *HookError
	if !errors.As(execErr.Failures[0].Err, &hookErr) || hookErr.Kind != KindMaxRetriesExceeded {
		t.Fatalf("terminal error = %v, want MaxRetriesExceeded", execErr.Failures[0].Err)
	}
	if !IsTimeout(hookErr.Err) {
		t.Fatalf("wrapped error = %v, want Timeout", hookErr.Err)
	}
}

func TestExecuteRecoversPanicAndRetries(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "crasher"}
	hook.fn = func(context.Context, *HookPayload) error {
		if hook.calls.Load() == 1 {
			panic("first attempt explodes")
		}
		return nil
	}
	cfg := HookConfig{MaxRetries: 1, Enabled: true}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	exec := newTestExecutor(reg)
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute error after panic recovery: %v", err)
	}
	if got := hook.calls.Load(); got != 2 {
		t.Fatalf("hook ran %d times, want 2", got)
	}
}

func TestExecutePanicIsolation(t *testing.T) {
	reg := NewRegistry()
	crasher := &countingHook{name: "crasher", fn: func(context.Context, *HookPayload) error {
		panic("unconditional")
	}}
	witness := &countingHook{name: "witness"}
	mustRegister(t, reg, PostExecution, crasher)
	mustRegister(t, reg, PostExecution, witness)

	exec := newTestExecutor(reg, WithMaxRetries(0))
	err := exec.Execute(context.Background(), PostExecution, NewPayload("ls"))
	if err == nil {
		t.Fatal("Execute succeeded despite panicking hook")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || len(execErr.Failures) != 1 {
		t.Fatalf("error = %v, want one aggregated failure", err)
	}
	var hookErr *HookError
	if !errors.As(execErr.Failures[0].Err, &hookErr) {
		t.Fatalf("terminal error = %v, want *HookError", execErr.Failures[0].Err)
	}
	if !IsPanic(hookErr.Err) {
		t.Fatalf("wrapped error = %v, want PanicRecovery", hookErr.Err)
	}
	if got := witness.calls.Load(); got != 1 {
		t.Errorf("sibling after panic ran %d times, want 1", got)
	}
}

func TestExecuteSkipsNonRetryableError(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "misconfigured", fn: func(context.Context, *HookPayload) error {
		return NewConfigError("bad downstream settings")
	}}
	mustRegister(t, reg, PreCommand, hook)

	exec := newTestExecutor(reg)
	err := exec.Execute(context.Background(), PreCommand, NewPayload("ls"))
	if err == nil {
		t.Fatal("Execute succeeded despite config error")
	}
	if got := hook.calls.Load(); got != 1 {
		t.Fatalf("non-retryable hook ran %d times, want 1", got)
	}
}

func TestExecuteSkipsDisabledHook(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "off"}
	cfg := HookConfig{Enabled: false}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	exec := newTestExecutor(reg)
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := hook.calls.Load(); got != 0 {
		t.Fatalf("disabled hook ran %d times", got)
	}
}

func TestExecuteHonorsCanceledContext(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "never"}
	mustRegister(t, reg, PreCommand, hook)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(reg)
	err := exec.Execute(ctx, PreCommand, NewPayload("ls"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute error = %v, want context.Canceled", err)
	}
	if got := hook.calls.Load(); got != 0 {
		t.Fatalf("hook ran %d times under canceled context", got)
	}
}

func TestExecutePayloadThreading(t *testing.T) {
	reg := NewRegistry()
	var seen *HookPayload
	mustRegister(t, reg, PostExecution, HookFunc{HookName: "observer", Fn: func(_ context.Context, p *HookPayload) error {
		seen = p
		return nil
	}})

	payload := NewPayload("make test").
		WithContext("cwd", "/srv/app").
		WithExecution(&ExecutionResult{ExitCode: 0, Stdout: "ok", Duration: time.Second}).
		WithMetadata("request_id", "abc-123")

	exec := newTestExecutor(reg)
	if err := exec.Execute(context.Background(), PostExecution, payload); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if seen == nil {
		t.Fatal("hook never saw the payload")
	}
	if seen.Command != "make test" || seen.Context["cwd"] != "/srv/app" {
		t.Errorf("payload fields lost: %+v", seen)
	}
	if seen.Execution == nil || !seen.Execution.Success() {
		t.Errorf("execution result lost: %+v", seen.Execution)
	}
	if id, ok := seen.MetadataString("request_id"); !ok || id != "abc-123" {
		t.Errorf("metadata lost: %v %v", id, ok)
	}
}

func TestExecutorRetryDelayBetweenAttempts(t *testing.T) {
	reg := NewRegistry()
	var stamps []time.Time
	hook := &countingHook{name: "timer"}
	hook.fn = func(context.Context, *HookPayload) error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 2 {
			return errors.New("again")
		}
		return nil
	}
	cfg := HookConfig{MaxRetries: 1, Enabled: true}
	if err := reg.Register(PreCommand, hook, cfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	delay := 30 * time.Millisecond
	exec := NewExecutor(reg, WithRetryDelay(delay))
	if err := exec.Execute(context.Background(), PreCommand, NewPayload("ls")); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(stamps) != 2 {
		t.Fatalf("attempts = %d, want 2", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < delay {
		t.Errorf("retry gap = %v, want at least %v", gap, delay)
	}
}

func TestExecuteConcurrentDispatches(t *testing.T) {
	reg := NewRegistry()
	hook := &countingHook{name: "shared"}
	mustRegister(t, reg, PreCommand, hook)

	exec := newTestExecutor(reg)
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			errs <- exec.Execute(context.Background(), PreCommand, NewPayload(fmt.Sprintf("cmd-%d", i)))
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent dispatch error: %v", err)
		}
	}
	if got := hook.calls.Load(); got != 10 {
		t.Fatalf("hook ran %d times across dispatches, want 10", got)
	}
}

// Package model manages the on-device classification backend: lazy
// single-flight loading, idle unloading, and serialized inference over
// whichever runner the configuration selects.
package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/hooks"
)

const DefaultLoadTimeout = 10 * time.Minute

// Manager owns the runner lifecycle. One instance per daemon; the
// classifier holds it behind an interface.
type Manager struct {
	cfg         *config.ModelConfig
	factory     RunnerFactory
	loadTimeout time.Duration

	mu         sync.Mutex
	state      State
	failure    string
	runner     Runner
	loadDone   chan struct{}
	loadCancel context.CancelFunc
	gen        int
	lastUsed   time.Time

	// Inference is not reentrant on-device; one completion at a time.
	inferMu sync.Mutex
}

type Option func(*Manager)

// WithRunnerFactory replaces the backend constructor, mainly for tests.
func WithRunnerFactory(f RunnerFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithLoadTimeout bounds a single load attempt, artifact download
// included.
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.loadTimeout = d
		}
	}
}

func NewManager(cfg *config.ModelConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		factory:     defaultFactory,
		loadTimeout: DefaultLoadTimeout,
		state:       StateNotLoaded,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loaded reports whether a runner is ready right now.
func (m *Manager) Loaded() bool { return m.State() == StateLoaded }

// FailureReason returns the last load failure, empty otherwise.
func (m *Manager) FailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// LastUsed returns the time of the last inference or state change.
func (m *Manager) LastUsed() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

// Infer generates text for the prompt, loading the backend on first
// use. Returns LlmUnavailable when the backend cannot load and a
// deadline error when the per-inference budget runs out.
func (m *Manager) Infer(ctx context.Context, prompt string) (string, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return "", err
	}

	m.inferMu.Lock()
	defer m.inferMu.Unlock()

	m.mu.Lock()
	runner := m.runner
	if m.state != StateLoaded || runner == nil {
		m.mu.Unlock()
		return "", hooks.NewLlmUnavailableError("model not loaded")
	}
	m.lastUsed = time.Now()
	m.mu.Unlock()

	budget := m.cfg.InferenceTimeout()
	ictx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out, err := runner.Complete(ictx, prompt)
	if err != nil {
		if ictx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("inference timed out after %s: %w", budget, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("inference: %w", err)
	}

	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()
	return out, nil
}

// ensureLoaded starts a load when needed and waits for the in-flight
// one otherwise. Concurrent first callers attach to a single load; a
// caller whose context expires stops waiting while the load continues.
func (m *Manager) ensureLoaded(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateLoaded:
		m.mu.Unlock()
		return nil
	case StateFailed:
		reason := m.failure
		m.mu.Unlock()
		return hooks.NewLlmUnavailableError(reason)
	case StateLoading:
		done := m.loadDone
		m.mu.Unlock()
		return m.awaitLoad(ctx, done)
	}

	done := make(chan struct{})
	m.loadDone = done
	m.state = StateLoading
	gen := m.gen
	lctx, cancel := context.WithTimeout(context.Background(), m.loadTimeout)
	m.loadCancel = cancel
	m.mu.Unlock()

	go func() {
		defer cancel()
		m.load(lctx, done, gen)
	}()
	return m.awaitLoad(ctx, done)
}

func (m *Manager) awaitLoad(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoaded {
		return nil
	}
	reason := m.failure
	if reason == "" {
		reason = "model not loaded"
	}
	return hooks.NewLlmUnavailableError(reason)
}

func (m *Manager) load(ctx context.Context, done chan struct{}, gen int) {
	defer close(done)

	start := time.Now()
	runner, err := m.factory(ctx, m.cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		// Unloaded or reset while loading; this result is stale.
		if runner != nil {
			runner.Close()
		}
		log.Printf("[model] discarding stale load result")
		return
	}

	if err != nil {
		m.state = StateFailed
		m.failure = err.Error()
		m.lastUsed = time.Now()
		log.Printf("[model] load failed: %v", err)
		return
	}

	m.runner = runner
	m.state = StateLoaded
	m.failure = ""
	m.lastUsed = time.Now()
	log.Printf("[model] %s backend ready in %s", m.cfg.Type, time.Since(start).Round(time.Millisecond))
}

// UnloadIfIdle releases the runner when nothing has used it for at
// least d. A failed backend is re-armed on the same schedule so the
// next request retries the load. Returns true when state changed.
func (m *Manager) UnloadIfIdle(d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastUsed) < d {
		return false
	}

	switch m.state {
	case StateLoaded:
		m.gen++
		m.closeRunnerLocked()
		m.state = StateNotLoaded
		log.Printf("[model] unloaded after %s idle", d)
		return true
	case StateFailed:
		m.gen++
		m.state = StateNotLoaded
		m.failure = ""
		log.Printf("[model] clearing failed state, next request retries the load")
		return true
	}
	return false
}

// Unload releases the runner unconditionally. An in-flight load is
// canceled and its result discarded.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.loadCancel != nil {
		m.loadCancel()
	}
	m.closeRunnerLocked()
	m.state = StateNotLoaded
	m.failure = ""
}

// Reset clears a failed state so the next request retries. Equivalent
// to Unload but kept separate for the CLI surface.
func (m *Manager) Reset() {
	m.Unload()
}

func (m *Manager) closeRunnerLocked() {
	if m.runner == nil {
		return
	}
	if err := m.runner.Close(); err != nil {
		log.Printf("[model] close runner: %v", err)
	}
	m.runner = nil
}

// IsUnavailable reports whether err marks the backend as unusable
// rather than a transient inference failure.
func IsUnavailable(err error) bool {
	var hookErr *hooks.HookError
	return errors.As(err, &hookErr) && hookErr.Kind == hooks.KindLlmUnavailable
}

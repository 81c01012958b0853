package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func noopHook(name string) Hook {
	return HookFunc{HookName: name, Fn: func(context.Context, *HookPayload) error { return nil }}
}

func mustRegister(t *testing.T, reg *Registry, typ HookType, hook Hook) {
	t.Helper()
	if err := reg.Register(typ, hook, DefaultHookConfig()); err != nil {
		t.Fatalf("register %s/%s error: %v", typ, hook.Name(), err)
	}
}

func TestRegistryOrderAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		mustRegister(t, reg, PreCommand, noopHook(name))
	}

	snap := reg.HooksFor(PreCommand)
	if len(snap) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snap))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got := snap[i].Hook.Name(); got != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, got, want)
		}
	}

	// Later registrations must not leak into an already-taken snapshot.
	mustRegister(t, reg, PreCommand, noopHook("fourth"))
	if len(snap) != 3 {
		t.Errorf("snapshot grew to %d after registration", len(snap))
	}
	if got := reg.Count(PreCommand); got != 4 {
		t.Errorf("Count = %d, want 4", got)
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, PreCommand, noopHook("audit"))

	err := reg.Register(PreCommand, noopHook("audit"), DefaultHookConfig())
	if err == nil {
		t.Fatal("duplicate registration accepted")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) || hookErr.Kind != KindRegistrationFailed {
		t.Fatalf("duplicate registration error = %v, want RegistrationFailed", err)
	}
	if got := reg.Count(PreCommand); got != 1 {
		t.Errorf("Count = %d after rejected duplicate, want 1", got)
	}

	// Same name under a different type is fine.
	mustRegister(t, reg, PostCommand, noopHook("audit"))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry()

	cases := []struct {
		name string
		typ  HookType
		hook Hook
		cfg  HookConfig
		kind ErrorKind
	}{
		{"invalid type", HookType("bogus"), noopHook("h"), DefaultHookConfig(), KindRegistrationFailed},
		{"empty custom type", HookType("custom:"), noopHook("h"), DefaultHookConfig(), KindRegistrationFailed},
		{"nil hook", PreCommand, nil, DefaultHookConfig(), KindRegistrationFailed},
		{"blank name", PreCommand, noopHook("   "), DefaultHookConfig(), KindRegistrationFailed},
		{"negative timeout", PreCommand, noopHook("h"), HookConfig{Timeout: -1, Enabled: true}, KindInvalidConfig},
		{"retries over limit", PreCommand, noopHook("h"), HookConfig{MaxRetries: MaxRetriesLimit + 1, Enabled: true}, KindInvalidConfig},
	}
	for _, tc := range cases {
		err := reg.Register(tc.typ, tc.hook, tc.cfg)
		if err == nil {
			t.Errorf("%s: registration accepted", tc.name)
			continue
		}
		var hookErr *HookError
		if !errors.As(err, &hookErr) || hookErr.Kind != tc.kind {
			t.Errorf("%s: error = %v, want kind %s", tc.name, err, tc.kind)
		}
	}
	if got := reg.TotalCount(); got != 0 {
		t.Errorf("TotalCount = %d after rejected registrations, want 0", got)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, SessionStart, noopHook("greeter"))
	mustRegister(t, reg, SessionStart, noopHook("loader"))

	if !reg.Unregister(SessionStart, "greeter") {
		t.Fatal("Unregister returned false for a registered hook")
	}
	if reg.Unregister(SessionStart, "greeter") {
		t.Fatal("Unregister returned true for an absent hook")
	}
	snap := reg.HooksFor(SessionStart)
	if len(snap) != 1 || snap[0].Hook.Name() != "loader" {
		t.Fatalf("remaining hooks = %v, want [loader]", snap)
	}

	// The freed name can be taken again.
	mustRegister(t, reg, SessionStart, noopHook("greeter"))
}

func TestRegistryClear(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, PreCommand, noopHook("a"))
	mustRegister(t, reg, PostCommand, noopHook("b"))
	mustRegister(t, reg, CustomHook("deploy"), noopHook("c"))

	if got := reg.TotalCount(); got != 3 {
		t.Fatalf("TotalCount = %d, want 3", got)
	}
	reg.Clear(PreCommand)
	if got := reg.Count(PreCommand); got != 0 {
		t.Errorf("Count(PreCommand) = %d after Clear, want 0", got)
	}
	if got := reg.TotalCount(); got != 2 {
		t.Errorf("TotalCount = %d after Clear, want 2", got)
	}
	reg.ClearAll()
	if got := reg.TotalCount(); got != 0 {
		t.Errorf("TotalCount = %d after ClearAll, want 0", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				name := fmt.Sprintf("hook-%d-%d", g, i)
				if err := reg.Register(PreCommand, noopHook(name), DefaultHookConfig()); err != nil {
					t.Errorf("register %s error: %v", name, err)
				}
				reg.HooksFor(PreCommand)
			}
		}(g)
	}
	wg.Wait()

	if got := reg.Count(PreCommand); got != 200 {
		t.Fatalf("Count = %d after concurrent registration, want 200", got)
	}
}

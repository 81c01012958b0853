package hooks

import (
	"strings"
	"sync"
)

// Entry pairs a registered hook with its configuration. Entries are
// immutable once registered.
type Entry struct {
	Hook   Hook
	Config HookConfig
}

// Registry holds the ordered, named hooks for each hook type. Reads take
// a shared lock and return snapshots, so execution never blocks on
// concurrent registration and vice versa.
type Registry struct {
	mu    sync.RWMutex
	hooks map[HookType][]Entry
	names map[HookType]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[HookType][]Entry),
		names: make(map[HookType]map[string]struct{}),
	}
}

// Register appends a hook under typ. Insertion order is execution order.
// Duplicate names for the same type are rejected with RegistrationFailed;
// there is no silent overwrite.
func (r *Registry) Register(typ HookType, hook Hook, cfg HookConfig) error {
	if !typ.Valid() {
		return NewRegistrationError(typ, "", "invalid hook type")
	}
	if hook == nil {
		return NewRegistrationError(typ, "", "nil hook")
	}
	name := strings.TrimSpace(hook.Name())
	if name == "" {
		return NewRegistrationError(typ, name, "empty hook name")
	}
	if err := cfg.Validate(); err != nil {
		return NewConfigError("hook %q: %v", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[typ][name]; exists {
		return NewRegistrationError(typ, name, "name already registered")
	}
	if r.names[typ] == nil {
		r.names[typ] = make(map[string]struct{})
	}
	r.names[typ][name] = struct{}{}
	r.hooks[typ] = append(r.hooks[typ], Entry{Hook: hook, Config: cfg})
	return nil
}

// Unregister removes the named hook from typ, reporting whether an entry
// was removed.
func (r *Registry) Unregister(typ HookType, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[typ][name]; !exists {
		return false
	}
	delete(r.names[typ], name)

	entries := r.hooks[typ]
	for i, e := range entries {
		if e.Hook.Name() == name {
			r.hooks[typ] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.hooks[typ]) == 0 {
		delete(r.hooks, typ)
		delete(r.names, typ)
	}
	return true
}

// HooksFor returns an independent snapshot of the hooks registered for
// typ, in registration order.
func (r *Registry) HooksFor(typ HookType) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.hooks[typ]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Count returns the number of hooks registered for typ.
func (r *Registry) Count(typ HookType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[typ])
}

// TotalCount returns the number of hooks across all types.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, entries := range r.hooks {
		total += len(entries)
	}
	return total
}

// Clear removes every hook registered for typ.
func (r *Registry) Clear(typ HookType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, typ)
	delete(r.names, typ)
}

// ClearAll removes every hook of every type.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = make(map[HookType][]Entry)
	r.names = make(map[HookType]map[string]struct{})
}

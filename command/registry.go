// Package command implements the closed command registry and the subprocess
// execution engine. The registry is the only mapping from symbolic command
// keys to executables, and the engine is the only code path in hostboard
// that spawns an OS process.
package command

import (
	"fmt"
	"sort"
	"sync"
)

// Definition maps a command key to an exact executable and its fixed
// leading arguments. Caller-supplied arguments are only ever appended
// after FixedArgs; they are never parsed or interpreted.
type Definition struct {
	Binary    string
	FixedArgs []string
}

// Registry is a closed mapping from command keys to definitions.
// Lookup is exact: a key either resolves to exactly one definition or
// does not resolve at all. There is no prefix matching and no fallback.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a registry pre-seeded with the given definitions.
func NewRegistry(seed map[string]Definition) *Registry {
	defs := make(map[string]Definition, len(seed))
	for k, d := range seed {
		defs[k] = d
	}
	return &Registry{defs: defs}
}

// Register adds a command definition under key.
// Returns an error if the key is already registered.
func (r *Registry) Register(key string, def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("command %q already registered", key)
	}
	r.defs[key] = def
	return nil
}

// Unregister removes a command definition by key. Removing an absent key
// is not an error; disable paths must be safe to retry.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, key)
}

// Lookup resolves a key to its definition.
func (r *Registry) Lookup(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// Keys returns all registered command keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

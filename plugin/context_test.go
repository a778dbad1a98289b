package plugin

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/hostboard/command"
)

// countingRunner counts subprocess spawns without touching the OS.
type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRunner) Run(_ context.Context, _ string, _ []string) (string, string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "out", "", 0, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestContext(t *testing.T, pluginID string, defs map[string]command.Definition) (*ScopedContext, *Store, *countingRunner) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	runner := &countingRunner{}
	engine := command.NewEngine(command.NewRegistry(defs), time.Second, logger, command.WithRunner(runner))
	store := NewStore(filepath.Join(t.TempDir(), "registry.json"))
	if err := store.Put(Entry{ID: pluginID, Config: map[string]any{"color": "green"}}); err != nil {
		t.Fatal(err)
	}
	factory := &ContextFactory{Engine: engine, Store: store, Logger: logger}
	return factory.Build(&Manifest{ID: pluginID, Name: "Test", Version: "1.0.0"}), store, runner
}

func TestScopedExecOwnNamespace(t *testing.T) {
	sc, _, runner := newTestContext(t, "alpha", map[string]command.Definition{
		"alpha:hello": {Binary: "echo", FixedArgs: []string{"hello"}},
	})
	res := sc.Exec(context.Background(), "alpha:hello", nil, time.Second)
	if !res.Succeeded {
		t.Fatalf("own-namespace exec failed: %+v", res)
	}
	if runner.count() != 1 {
		t.Errorf("spawns = %d, want 1", runner.count())
	}
}

func TestScopedExecRefusesForeignNamespace(t *testing.T) {
	sc, _, runner := newTestContext(t, "alpha", map[string]command.Definition{
		"beta:restart": {Binary: "systemctl", FixedArgs: []string{"restart", "beta"}},
	})

	res := sc.Exec(context.Background(), "beta:restart", nil, time.Second)
	if res.Succeeded {
		t.Fatal("foreign-namespace exec should be refused")
	}
	if !strings.Contains(res.Stderr, "alpha") || !strings.Contains(res.Stderr, "beta:restart") {
		t.Errorf("refusal should name the plugin and the key, got %q", res.Stderr)
	}
	if runner.count() != 0 {
		t.Errorf("engine was reached: spawns = %d, want 0", runner.count())
	}
}

func TestScopedExecAllowsSharedReadOnlyKeys(t *testing.T) {
	sc, _, runner := newTestContext(t, "alpha", map[string]command.Definition{
		"docker:ps": {Binary: "docker", FixedArgs: []string{"ps"}},
	})
	res := sc.Exec(context.Background(), "docker:ps", nil, time.Second)
	if !res.Succeeded {
		t.Fatalf("allow-listed key refused: %+v", res)
	}
	if runner.count() != 1 {
		t.Errorf("spawns = %d, want 1", runner.count())
	}
}

func TestScopedExecRefusesMutatingHostKeys(t *testing.T) {
	sc, _, runner := newTestContext(t, "alpha", map[string]command.Definition{
		"docker:restart": {Binary: "docker", FixedArgs: []string{"restart"}},
	})
	res := sc.Exec(context.Background(), "docker:restart", []string{"web"}, time.Second)
	if res.Succeeded {
		t.Fatal("lifecycle-mutating host key should be refused")
	}
	if runner.count() != 0 {
		t.Errorf("spawns = %d, want 0", runner.count())
	}
}

func TestScopedExecHostNamespaceCollision(t *testing.T) {
	// A context scoped to an id that equals a host namespace must not own
	// that namespace's keys: the mutating host keys stay refused and only
	// the shared read-only list applies.
	sc, _, runner := newTestContext(t, "docker", command.HostDefinitions())

	res := sc.Exec(context.Background(), "docker:restart", []string{"web"}, time.Second)
	if res.Succeeded {
		t.Fatal("colliding id must not grant the host's mutating keys")
	}
	if runner.count() != 0 {
		t.Fatalf("spawns = %d, want 0", runner.count())
	}

	if res := sc.Exec(context.Background(), "docker:ps", nil, time.Second); !res.Succeeded {
		t.Errorf("allow-listed read key should still work: %+v", res)
	}
}

func TestScopedExecAsyncRefusal(t *testing.T) {
	sc, _, runner := newTestContext(t, "alpha", nil)
	res := <-sc.ExecAsync(context.Background(), "beta:restart", nil, time.Second)
	if res.Succeeded {
		t.Fatal("async refusal expected")
	}
	if runner.count() != 0 {
		t.Errorf("spawns = %d, want 0", runner.count())
	}
}

func TestScopedKVStore(t *testing.T) {
	sc, store, _ := newTestContext(t, "alpha", nil)

	if err := sc.SetValue("last-run", "2026-08-31"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	v, ok := sc.Value("last-run")
	if !ok || v != "2026-08-31" {
		t.Errorf("Value = %v, %v", v, ok)
	}

	// Synchronously persisted into the registry entry, under the kv
	// namespace so plugin values cannot collide with operator settings.
	entry, _, _ := store.Get("alpha")
	if entry.Config["kv.last-run"] != "2026-08-31" {
		t.Errorf("persisted config = %v", entry.Config)
	}

	// Config excludes namespaced kv pairs.
	cfg := sc.Config()
	if cfg["color"] != "green" {
		t.Errorf("Config = %v", cfg)
	}
	if _, leaked := cfg["kv.last-run"]; leaked {
		t.Error("kv value leaked into Config view")
	}
}

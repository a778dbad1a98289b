package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/hostboard/command"
)

// kvPrefix namespaces scoped key-value writes inside the entry config so
// they cannot collide with operator-managed settings.
const kvPrefix = "kv."

// ScopedContext is the capability object handed to one plugin. It exposes
// only the plugin's own persisted config, a permission-checked execution
// proxy, a namespaced key-value store, and a namespaced logger.
type ScopedContext struct {
	pluginID string
	engine   *command.Engine
	store    *Store
	logger   *slog.Logger
}

// ContextFactory builds scoped contexts bound to the shared engine and
// registry store.
type ContextFactory struct {
	Engine *command.Engine
	Store  *Store
	Logger *slog.Logger
}

// Build returns the scoped context for the given manifest.
func (f *ContextFactory) Build(m *Manifest) *ScopedContext {
	return &ScopedContext{
		pluginID: m.ID,
		engine:   f.Engine,
		store:    f.Store,
		logger:   f.Logger.With(slog.String("plugin", m.ID)),
	}
}

// PluginID returns the id this context is scoped to.
func (c *ScopedContext) PluginID() string { return c.pluginID }

// Logger returns the plugin-scoped logger.
func (c *ScopedContext) Logger() *slog.Logger { return c.logger }

// keyAllowed reports whether this plugin may run the given command key:
// either the key lives in the plugin's own namespace, or it is on the
// fixed read-only allow-list shared by all plugins. Host namespaces never
// count as a plugin's own, even if the plugin id collides with one;
// manifest validation rejects such ids, and this check holds regardless.
func (c *ScopedContext) keyAllowed(key string) bool {
	if !command.ReservedNamespace(c.pluginID) && strings.HasPrefix(key, c.pluginID+":") {
		return true
	}
	return command.ReadOnlyAllowed(key)
}

// Exec runs a command on the plugin's behalf. The key is re-checked here
// on every call, before the engine is ever reached; the engine then
// performs its own exact-key lookup, so both layers must agree for a
// process to spawn.
func (c *ScopedContext) Exec(ctx context.Context, key string, extraArgs []string, timeout time.Duration) command.Result {
	if !c.keyAllowed(key) {
		c.logger.Warn("command key refused", slog.String("key", key))
		return command.Result{
			Succeeded: false,
			Stderr:    fmt.Sprintf("plugin %q is not permitted to run command %q", c.pluginID, key),
			ExitCode:  -1,
		}
	}
	return c.engine.Run(ctx, key, extraArgs, timeout)
}

// ExecAsync is the non-blocking variant of Exec. Refusals are delivered
// through the channel like any other failure result.
func (c *ScopedContext) ExecAsync(ctx context.Context, key string, extraArgs []string, timeout time.Duration) <-chan command.Result {
	if !c.keyAllowed(key) {
		ch := make(chan command.Result, 1)
		ch <- command.Result{
			Succeeded: false,
			Stderr:    fmt.Sprintf("plugin %q is not permitted to run command %q", c.pluginID, key),
			ExitCode:  -1,
		}
		close(ch)
		return ch
	}
	return c.engine.Start(ctx, key, extraArgs, timeout)
}

// SetValue persists one key-value pair into the plugin's registry entry.
// Writes are synchronous; the entry on disk reflects the value before
// SetValue returns.
func (c *ScopedContext) SetValue(key string, value any) error {
	_, err := c.store.MergeConfig(c.pluginID, map[string]any{kvPrefix + key: value})
	if err != nil {
		return fmt.Errorf("persist value %q: %w", key, err)
	}
	return nil
}

// Value reads one previously stored key-value pair.
func (c *ScopedContext) Value(key string) (any, bool) {
	entry, ok, err := c.store.Get(c.pluginID)
	if err != nil || !ok {
		return nil, false
	}
	v, ok := entry.Config[kvPrefix+key]
	return v, ok
}

// Config returns a copy of the plugin's persisted configuration,
// excluding the namespaced key-value entries.
func (c *ScopedContext) Config() map[string]any {
	entry, ok, err := c.store.Get(c.pluginID)
	if err != nil || !ok {
		return map[string]any{}
	}
	cfg := make(map[string]any, len(entry.Config))
	for k, v := range entry.Config {
		if !strings.HasPrefix(k, kvPrefix) {
			cfg[k] = v
		}
	}
	return cfg
}

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/hostboard/command"
)

// ErrNotFound is returned for lifecycle operations on an unknown plugin.
var ErrNotFound = errors.New("plugin not found")

// LifecycleRecorder receives a record of every lifecycle transition.
// Recording is best-effort.
type LifecycleRecorder interface {
	RecordLifecycle(pluginID, event, detail string)
}

// EventFunc receives lifecycle events for broadcast to dashboard clients.
type EventFunc func(event string, payload any)

// LoadedPlugin is the in-memory record for one discovered plugin. The
// module is non-nil only while the plugin is enabled; the registry entry
// remains the persisted source of truth.
type LoadedPlugin struct {
	Manifest *Manifest
	Module   Module
	Context  *ScopedContext
}

// Info is the dashboard-facing summary of one plugin.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
	NavItems    []NavItem `json:"navItems,omitempty"`
	Widgets     []Widget  `json:"widgets,omitempty"`
}

// Manager owns all plugin lifecycle state. It is constructed once at
// startup and passed explicitly to everything that needs it; there is no
// package-level plugin state anywhere in hostboard.
type Manager struct {
	mu       sync.Mutex
	dir      string
	store    *Store
	engine   *command.Engine
	contexts *ContextFactory
	logger   *slog.Logger

	builtins map[string]ModuleFactory
	plugins  map[string]*LoadedPlugin

	recorder LifecycleRecorder
	events   EventFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLifecycleRecorder attaches a lifecycle audit recorder.
func WithLifecycleRecorder(rec LifecycleRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = rec }
}

// WithEvents attaches a lifecycle event broadcast hook.
func WithEvents(fn EventFunc) ManagerOption {
	return func(m *Manager) { m.events = fn }
}

// NewManager creates a lifecycle manager over the plugin directory tree
// at dir.
func NewManager(dir string, store *Store, engine *command.Engine, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:    dir,
		store:  store,
		engine: engine,
		contexts: &ContextFactory{
			Engine: engine,
			Store:  store,
			Logger: logger,
		},
		logger:   logger,
		builtins: make(map[string]ModuleFactory),
		plugins:  make(map[string]*LoadedPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterBuiltin registers a first-party module factory for the given
// plugin id. Call before Discover.
func (m *Manager) RegisterBuiltin(id string, factory ModuleFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtins[id] = factory
}

// Dir returns the plugin directory root.
func (m *Manager) Dir() string { return m.dir }

// PluginDir returns the directory for one plugin id.
func (m *Manager) PluginDir(id string) string { return filepath.Join(m.dir, id) }

// Discover enumerates the plugin directory tree, validates each manifest,
// bootstraps registry entries, and re-activates plugins whose persisted
// entry is enabled. A plugin that fails validation is skipped with a
// warning; it never prevents the host from starting.
func (m *Manager) Discover(ctx context.Context) error {
	dirents, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin dir: %w", err)
	}

	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if err := m.discoverOne(ctx, d.Name()); err != nil {
			m.logger.Warn("plugin skipped",
				slog.String("plugin", d.Name()),
				slog.Any("err", err),
			)
		}
	}
	return nil
}

// DiscoverOne runs discovery and registration for a single plugin
// directory, as after a marketplace install.
func (m *Manager) DiscoverOne(ctx context.Context, id string) error {
	return m.discoverOne(ctx, id)
}

func (m *Manager) discoverOne(ctx context.Context, dirName string) error {
	manifest, err := LoadManifest(filepath.Join(m.dir, dirName))
	if err != nil {
		return err
	}
	if err := ValidateManifest(manifest, dirName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Registry bootstrap: create a disabled entry for new plugins; on a
	// version change update only the version. Enabled and config are
	// never overwritten by a manifest edit.
	entry, ok, err := m.store.Get(manifest.ID)
	if err != nil {
		return err
	}
	if !ok {
		entry = Entry{
			ID:          manifest.ID,
			Enabled:     false,
			Config:      map[string]any{},
			InstalledAt: time.Now().UTC(),
			Version:     manifest.Version,
		}
		if err := m.store.Put(entry); err != nil {
			return err
		}
	} else if entry.Version != manifest.Version {
		entry.Version = manifest.Version
		if err := m.store.Put(entry); err != nil {
			return err
		}
	}

	lp := &LoadedPlugin{
		Manifest: manifest,
		Context:  m.contexts.Build(manifest),
	}
	m.plugins[manifest.ID] = lp
	m.record(manifest.ID, "discovered", manifest.Version)

	// Persisted enabled state wins: re-activate across restarts.
	if entry.Enabled {
		m.activateLocked(ctx, lp)
	}
	return nil
}

// Get returns the in-memory record for id.
func (m *Manager) Get(id string) (*LoadedPlugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lp, ok := m.plugins[id]
	return lp, ok
}

// IsEnabled reports the persisted enabled flag for id.
func (m *Manager) IsEnabled(id string) bool {
	entry, ok, err := m.store.Get(id)
	return err == nil && ok && entry.Enabled
}

// List returns dashboard summaries for all discovered plugins.
func (m *Manager) List() []Info {
	m.mu.Lock()
	plugins := make([]*LoadedPlugin, 0, len(m.plugins))
	for _, lp := range m.plugins {
		plugins = append(plugins, lp)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(plugins))
	for _, lp := range plugins {
		entry, _, _ := m.store.Get(lp.Manifest.ID)
		nav := make([]NavItem, len(lp.Manifest.Contributions.NavItems))
		copy(nav, lp.Manifest.Contributions.NavItems)
		for i := range nav {
			if nav[i].Label == "" {
				nav[i].Label = TitleFromID(lp.Manifest.ID)
			}
		}
		infos = append(infos, Info{
			ID:          lp.Manifest.ID,
			Name:        lp.Manifest.Name,
			Version:     lp.Manifest.Version,
			Description: lp.Manifest.Description,
			Enabled:     entry.Enabled,
			InstalledAt: entry.InstalledAt,
			NavItems:    nav,
			Widgets:     lp.Manifest.Contributions.Widgets,
		})
	}
	return infos
}

// Enable marks the plugin enabled, loads its module, registers its
// declared commands, and runs its activation hook. The enabled flag is
// persisted before anything else so a crash mid-activation still leaves
// correct on-disk state. An activation hook failure is logged and leaves
// the plugin enabled and loaded (degraded but present); it is never
// fatal to the host. Enabling an already-enabled plugin is a no-op.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if lp.Module != nil {
		// Already enabled; the activation hook must not run twice.
		return nil
	}
	if err := m.store.SetEnabled(id, true); err != nil {
		return err
	}
	m.activateLocked(ctx, lp)
	m.record(id, "enabled", "")
	m.emit("plugin.enabled", id)
	return nil
}

// activateLocked loads the module, registers declared commands, and runs
// the activation hook. Commands register before the hook so the hook can
// run them. Caller holds m.mu.
func (m *Manager) activateLocked(ctx context.Context, lp *LoadedPlugin) {
	id := lp.Manifest.ID
	if lp.Module == nil {
		if factory, ok := m.builtins[id]; ok {
			lp.Module = factory(lp.Manifest)
		} else {
			lp.Module = newCommandModule(lp.Manifest)
		}
	}

	for _, c := range lp.Manifest.Contributions.Commands {
		key := id + ":" + c.Key
		if err := m.engine.Registry().Register(key, command.Definition{
			Binary:    c.Binary,
			FixedArgs: c.Args,
		}); err != nil {
			// Already present from a previous enable in this process.
			m.logger.Debug("command already registered", slog.String("key", key))
		}
	}

	if err := lp.Module.Activate(ctx, lp.Context); err != nil {
		// Deliberate policy: the plugin stays enabled and loaded.
		m.logger.Error("plugin activation failed",
			slog.String("plugin", id),
			slog.Any("err", err),
		)
		m.record(id, "activation_failed", err.Error())
	}
}

// Disable runs the deactivation hook (best-effort), unregisters the
// plugin's commands, drops the module instance, and persists the
// disabled flag. Disabling an already-disabled plugin is a no-op.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.deactivateLocked(ctx, lp)
	if err := m.store.SetEnabled(id, false); err != nil {
		return err
	}
	m.record(id, "disabled", "")
	m.emit("plugin.disabled", id)
	return nil
}

// deactivateLocked tears down the live module state. Caller holds m.mu.
func (m *Manager) deactivateLocked(ctx context.Context, lp *LoadedPlugin) {
	id := lp.Manifest.ID
	if lp.Module != nil {
		if err := lp.Module.Deactivate(ctx, lp.Context); err != nil {
			m.logger.Warn("plugin deactivation failed",
				slog.String("plugin", id),
				slog.Any("err", err),
			)
		}
	}
	for _, c := range lp.Manifest.Contributions.Commands {
		m.engine.Registry().Unregister(id + ":" + c.Key)
	}
	lp.Module = nil
}

// Configure merges a partial config into the plugin's persisted entry.
// Unspecified keys are preserved. The scoped context reads through the
// store, so the live view refreshes immediately.
func (m *Manager) Configure(_ context.Context, id string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := m.store.MergeConfig(id, partial); err != nil {
		return err
	}
	m.record(id, "configured", "")
	return nil
}

// Uninstall disables the plugin if needed, removes its in-memory record
// and registry entry, and deletes its directory tree. Every step is
// idempotent, so a partially failed uninstall can simply be retried.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lp, ok := m.plugins[id]; ok {
		if entry, found, _ := m.store.Get(id); found && entry.Enabled {
			m.deactivateLocked(ctx, lp)
			if err := m.store.SetEnabled(id, false); err != nil {
				return err
			}
		}
		delete(m.plugins, id)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	if err := os.RemoveAll(m.PluginDir(id)); err != nil {
		return fmt.Errorf("remove plugin dir: %w", err)
	}
	m.record(id, "uninstalled", "")
	m.emit("plugin.uninstalled", id)
	return nil
}

// Shutdown deactivates every enabled plugin, best-effort, without
// touching persisted state.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lp := range m.plugins {
		if lp.Module != nil {
			m.deactivateLocked(ctx, lp)
		}
	}
}

func (m *Manager) record(id, event, detail string) {
	if m.recorder != nil {
		m.recorder.RecordLifecycle(id, event, detail)
	}
}

func (m *Manager) emit(event string, payload any) {
	if m.events != nil {
		m.events(event, payload)
	}
}

package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotRegistered is returned for operations on an id the store holds no
// entry for.
var ErrNotRegistered = errors.New("plugin not registered")

// Entry is the persisted lifecycle record for one installed plugin. It is
// the single source of truth for whether the plugin is enabled, and it
// survives host restarts.
type Entry struct {
	ID          string         `json:"id"`
	Enabled     bool           `json:"enabled"`
	Config      map[string]any `json:"config"`
	InstalledAt time.Time      `json:"installedAt"`
	Version     string         `json:"version"`
}

// Store persists plugin registry entries as a single JSON array file.
// Every mutation is a full read-modify-rewrite under the store mutex, so
// concurrent transitions on different plugins cannot lose each other's
// updates.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the JSON file at path. The file is
// created on first mutation.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads the whole registry file. A missing file is an empty registry.
func (s *Store) load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin registry: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse plugin registry: %w", err)
	}
	return entries, nil
}

// save rewrites the whole registry file.
func (s *Store) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plugin registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write plugin registry: %w", err)
	}
	return nil
}

// List returns all entries.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Put inserts or replaces the entry for entry.ID.
func (s *Store) Put(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.ID == entry.ID {
			entries[i] = entry
			return s.save(entries)
		}
	}
	return s.save(append(entries, entry))
}

// Delete removes the entry for id. Deleting an absent entry is not an
// error; uninstall must be safe to retry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return s.save(kept)
}

// SetEnabled persists the enabled flag for id.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.ID == id {
			entries[i].Enabled = enabled
			return s.save(entries)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotRegistered, id)
}

// MergeConfig merges partial into the entry's config, key by key.
// Keys absent from partial are left untouched.
func (s *Store) MergeConfig(id string, partial map[string]any) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for i, e := range entries {
		if e.ID != id {
			continue
		}
		if entries[i].Config == nil {
			entries[i].Config = make(map[string]any, len(partial))
		}
		for k, v := range partial {
			entries[i].Config[k] = v
		}
		if err := s.save(entries); err != nil {
			return Entry{}, err
		}
		return entries[i], nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotRegistered, id)
}

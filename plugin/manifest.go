// Package plugin implements the hostboard plugin system: manifest
// validation, the persisted plugin registry, per-plugin scoped contexts,
// and the lifecycle manager that drives discovery, activation, and
// teardown.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/hostboard/command"
)

// ManifestFileName is the required manifest file name at every plugin
// directory root.
const ManifestFileName = "manifest.json"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// ErrInvalidManifest is wrapped by every manifest validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is a plugin's static declaration. It is read once per
// discovery pass and treated as read-only afterwards.
type Manifest struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	Description   string        `json:"description,omitempty"`
	Hooks         Hooks         `json:"hooks,omitempty"`
	Contributions Contributions `json:"contributions,omitempty"`
}

// Hooks names the declared command actions run on activation and
// deactivation. Actions are unprefixed; they resolve to the plugin's own
// namespaced command keys.
type Hooks struct {
	Activate   string `json:"activate,omitempty"`
	Deactivate string `json:"deactivate,omitempty"`
}

// Contributions lists everything a plugin adds to the dashboard.
type Contributions struct {
	NavItems       []NavItem         `json:"navItems,omitempty"`
	Widgets        []Widget          `json:"widgets,omitempty"`
	APIRoutes      []APIRoute        `json:"apiRoutes,omitempty"`
	SettingsSchema map[string]any    `json:"settingsSchema,omitempty"`
	Commands       []DeclaredCommand `json:"commands,omitempty"`
}

// NavItem is a contributed navigation entry.
type NavItem struct {
	Label string `json:"label,omitempty"`
	Path  string `json:"path"`
	Icon  string `json:"icon,omitempty"`
}

// Widget is a contributed dashboard widget backed by a component file
// inside the plugin directory.
type Widget struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Component string `json:"component"`
}

// APIRoute declares one plugin API endpoint. Privileged routes require
// the caller to hold the admin role; the flag is enforced by the router
// from this declaration, never by the handler itself. Command, when set,
// names the declared command action backing the route.
type APIRoute struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Privileged bool   `json:"privileged,omitempty"`
	Command    string `json:"command,omitempty"`
}

// DeclaredCommand contributes one executable to the command registry.
// It is registered under "<pluginID>:<key>" while the plugin is enabled.
type DeclaredCommand struct {
	Key    string   `json:"key"`
	Binary string   `json:"binary"`
	Args   []string `json:"args,omitempty"`
}

// ValidID reports whether id matches the plugin identifier pattern.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidateManifest checks a loaded manifest against the directory it was
// found in. All rules must hold; the returned error names the first
// violated rule and wraps ErrInvalidManifest.
func ValidateManifest(m *Manifest, wantDir string) error {
	if m == nil {
		return fmt.Errorf("%w: no manifest", ErrInvalidManifest)
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidManifest)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	if !ValidID(m.ID) {
		return fmt.Errorf("%w: id %q does not match the identifier pattern", ErrInvalidManifest, m.ID)
	}
	if command.ReservedNamespace(m.ID) {
		return fmt.Errorf("%w: id %q collides with a reserved host command namespace", ErrInvalidManifest, m.ID)
	}
	if m.ID != wantDir {
		return fmt.Errorf("%w: id %q does not match directory %q", ErrInvalidManifest, m.ID, wantDir)
	}
	return nil
}

// LoadManifest reads and parses the manifest file at the root of dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

var titleCaser = cases.Title(language.English)

// TitleFromID derives a display label from a plugin id, e.g.
// "disk-tools" becomes "Disk Tools". Used for nav items that declare no
// label of their own.
func TitleFromID(id string) string {
	return titleCaser.String(strings.ReplaceAll(id, "-", " "))
}

package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{ID: "disk-tools", Name: "Disk Tools", Version: "1.0.0"}
}

func TestValidateManifest(t *testing.T) {
	if err := ValidateManifest(validManifest(), "disk-tools"); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}
}

func TestValidateManifestRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Manifest)
		wantDir string
	}{
		{"empty id", func(m *Manifest) { m.ID = "" }, "disk-tools"},
		{"empty name", func(m *Manifest) { m.Name = " " }, "disk-tools"},
		{"empty version", func(m *Manifest) { m.Version = "" }, "disk-tools"},
		{"uppercase id", func(m *Manifest) { m.ID = "Disk-Tools" }, "Disk-Tools"},
		{"leading dash", func(m *Manifest) { m.ID = "-disk" }, "-disk"},
		{"trailing dash", func(m *Manifest) { m.ID = "disk-" }, "disk-"},
		{"single char", func(m *Manifest) { m.ID = "x" }, "x"},
		{"path separator", func(m *Manifest) { m.ID = "../etc" }, "../etc"},
		{"dir mismatch", func(m *Manifest) {}, "other-dir"},
		{"reserved namespace docker", func(m *Manifest) { m.ID = "docker" }, "docker"},
		{"reserved namespace system", func(m *Manifest) { m.ID = "system" }, "system"},
		{"reserved namespace service", func(m *Manifest) { m.ID = "service" }, "service"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest()
			tc.mutate(m)
			err := ValidateManifest(m, tc.wantDir)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("error %v should wrap ErrInvalidManifest", err)
			}
		})
	}
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"ab", "demo", "disk-tools", "a2b", "0x9"} {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}
	for _, id := range []string{"", "a", "A", "demo!", "de mo", "-demo", "demo-", "beta:restart"} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `{
  "id": "demo",
  "name": "Demo",
  "version": "1.0.0",
  "contributions": {
    "navItems": [{"path": "/demo"}],
    "apiRoutes": [{"method": "GET", "path": "/info", "command": "info"}],
    "commands": [{"key": "info", "binary": "uname", "args": ["-a"]}]
  }
}`
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "demo" || m.Name != "Demo" || m.Version != "1.0.0" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Contributions.Commands) != 1 || m.Contributions.Commands[0].Binary != "uname" {
		t.Errorf("commands = %+v", m.Contributions.Commands)
	}
	if err := ValidateManifest(m, "demo"); err != nil {
		t.Errorf("ValidateManifest: %v", err)
	}
}

func TestLoadManifestMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadManifest(dir)
	if !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("err = %v, want ErrInvalidManifest", err)
	}
}

func TestTitleFromID(t *testing.T) {
	if got := TitleFromID("disk-tools"); got != "Disk Tools" {
		t.Errorf("TitleFromID = %q, want %q", got, "Disk Tools")
	}
}

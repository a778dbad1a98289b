// Package market implements the marketplace install pipeline: download a
// plugin archive, validate it in isolation, and atomically publish it
// into the live plugin directory tree. On any failure nothing is
// installed.
package market

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GoCodeAlone/hostboard/command"
	"github.com/GoCodeAlone/hostboard/plugin"
)

var (
	// ErrInvalidID rejects a requested plugin id before any network use.
	ErrInvalidID = errors.New("invalid plugin id")

	// ErrAlreadyInstalled rejects installing over a registered plugin.
	ErrAlreadyInstalled = errors.New("plugin already installed")

	errTooManyRedirects = errors.New("download followed more than one redirect")
)

// Installer downloads and publishes plugins from remote archives.
type Installer struct {
	manager *plugin.Manager
	store   *plugin.Store
	client  *http.Client
	logger  *slog.Logger
}

// NewInstaller creates an installer publishing into the manager's plugin
// directory. The download client follows at most one HTTP redirect.
func NewInstaller(manager *plugin.Manager, store *plugin.Store, timeout time.Duration, logger *slog.Logger) *Installer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Installer{
		manager: manager,
		store:   store,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return errTooManyRedirects
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Install downloads the archive at downloadURL, validates its manifest
// against the requested pluginID, and atomically publishes it. On any
// failure the temporary working directory and any partially created live
// directory are removed before the error returns; the live plugin tree
// is never left half-installed. Installed plugins are registered
// disabled and never auto-enabled.
func (in *Installer) Install(ctx context.Context, pluginID, downloadURL string) (*plugin.Manifest, error) {
	if !plugin.ValidID(pluginID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, pluginID)
	}
	if command.ReservedNamespace(pluginID) {
		return nil, fmt.Errorf("%w: %q is a reserved host namespace", ErrInvalidID, pluginID)
	}
	if _, found, err := in.store.Get(pluginID); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, pluginID)
	}

	// A directory already on disk is never ours to overwrite or clean up,
	// registry entry or not.
	liveDir := in.manager.PluginDir(pluginID)
	if _, err := os.Stat(liveDir); err == nil {
		return nil, fmt.Errorf("%w: directory %s already exists", ErrAlreadyInstalled, liveDir)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("check plugin dir: %w", err)
	}

	tmp, err := os.MkdirTemp("", "hostboard-install-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	published := false
	defer func() {
		os.RemoveAll(tmp) //nolint:errcheck
		if !published {
			os.RemoveAll(liveDir) //nolint:errcheck
		}
	}()

	archivePath := filepath.Join(tmp, "plugin.zip")
	if err := in.download(ctx, downloadURL, archivePath); err != nil {
		return nil, err
	}

	extractDir := filepath.Join(tmp, "extract")
	if err := extractZip(archivePath, extractDir); err != nil {
		return nil, err
	}

	root, err := resolveRoot(extractDir)
	if err != nil {
		return nil, err
	}

	// Validate against the requested id, never the archive's own naming:
	// an archive cannot claim to be a different plugin than was asked for.
	manifest, err := plugin.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	if err := plugin.ValidateManifest(manifest, pluginID); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(in.manager.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}
	if err := os.Rename(root, liveDir); err != nil {
		return nil, fmt.Errorf("publish plugin: %w", err)
	}
	published = true

	if err := in.manager.DiscoverOne(ctx, pluginID); err != nil {
		return nil, fmt.Errorf("register installed plugin: %w", err)
	}

	in.logger.Info("plugin installed",
		slog.String("plugin", pluginID),
		slog.String("version", manifest.Version),
	)
	return manifest, nil
}

// download fetches url into dest.
func (in *Installer) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close() //nolint:errcheck
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return f.Close()
}

// extractZip unpacks the archive into destDir, refusing entries that
// would escape it.
func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close() //nolint:errcheck

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes extraction dir", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract dir %s: %w", f.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("extract parent %s: %w", f.Name, err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close() //nolint:errcheck
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return dst.Close()
}

// resolveRoot handles the common "reponame-branch/" wrapper: an archive
// whose only top-level entry is a directory resolves to that directory,
// otherwise the extraction dir itself is the plugin root.
func resolveRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("read extract dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}
	return extractDir, nil
}

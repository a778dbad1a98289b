// Package api implements the hostboard REST API handlers, including the
// plugin API router that dispatches requests into enabled plugins.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GoCodeAlone/hostboard/audit"
	"github.com/GoCodeAlone/hostboard/command"
	"github.com/GoCodeAlone/hostboard/containers"
	"github.com/GoCodeAlone/hostboard/market"
	"github.com/GoCodeAlone/hostboard/plugin"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// AuditReader reads recent audit records.
type AuditReader interface {
	Recent(limit int) ([]audit.Record, error)
}

// ContainerLister reads container state from the local daemon.
type ContainerLister interface {
	Available() bool
	List(ctx context.Context) ([]containers.Status, error)
}

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Manager    *plugin.Manager
	Installer  *market.Installer
	Engine     *command.Engine
	Audit      AuditReader
	Containers ContainerLister
	Logger     *slog.Logger
	Version    string
	StartAt    time.Time
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/plugins", h.listPlugins)
	mux.HandleFunc("POST /api/plugins/install", h.installPlugin)
	mux.HandleFunc("POST /api/plugins/{id}/enable", h.enablePlugin)
	mux.HandleFunc("POST /api/plugins/{id}/disable", h.disablePlugin)
	mux.HandleFunc("PUT /api/plugins/{id}/config", h.configurePlugin)
	mux.HandleFunc("DELETE /api/plugins/{id}", h.uninstallPlugin)
	mux.HandleFunc("GET /api/plugins/{id}/components/{file...}", h.componentFile)

	// Everything else under a plugin's path is dispatched to the plugin.
	mux.HandleFunc("/api/plugins/{id}/{path...}", h.dispatchPlugin)

	mux.HandleFunc("POST /api/commands/{key}", h.runCommand)
	mux.HandleFunc("GET /api/commands", h.listCommands)
	mux.HandleFunc("GET /api/containers", h.listContainers)
	mux.HandleFunc("GET /api/audit", h.recentAudit)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !isAdmin(r.Context()) {
		writeError(w, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

// --- Plugin lifecycle handlers ---

func (h *Handlers) listPlugins(w http.ResponseWriter, _ *http.Request) {
	infos := h.Manager.List()
	if infos == nil {
		infos = []plugin.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// installRequest is the body accepted by POST /api/plugins/install.
type installRequest struct {
	PluginID    string `json:"pluginId"`
	DownloadURL string `json:"downloadUrl"`
}

func (h *Handlers) installPlugin(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req installRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Identifier check happens before any network use.
	if !plugin.ValidID(req.PluginID) {
		writeError(w, http.StatusBadRequest, "invalid plugin id")
		return
	}
	manifest, err := h.Installer.Install(r.Context(), req.PluginID, req.DownloadURL)
	if err != nil {
		h.Logger.Warn("plugin install failed",
			slog.String("plugin", req.PluginID),
			slog.Any("err", err),
		)
		writeError(w, http.StatusBadGateway, "install failed")
		return
	}
	writeJSON(w, http.StatusCreated, manifest)
}

func (h *Handlers) enablePlugin(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.Manager.Enable(r.Context(), id); err != nil {
		h.Logger.Warn("enable failed", slog.String("plugin", id), slog.Any("err", err))
		writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) disablePlugin(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.Manager.Disable(r.Context(), id); err != nil {
		h.Logger.Warn("disable failed", slog.String("plugin", id), slog.Any("err", err))
		writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) configurePlugin(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id := r.PathValue("id")
	var partial map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Manager.Configure(r.Context(), id, partial); err != nil {
		writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) uninstallPlugin(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.Manager.Uninstall(r.Context(), id); err != nil {
		h.Logger.Warn("uninstall failed", slog.String("plugin", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "uninstall failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// componentFile serves one named file from inside a plugin's directory.
// The resolved path must stay within that directory.
func (h *Handlers) componentFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.Manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	dir := h.Manager.PluginDir(id)
	requested := filepath.Join(dir, filepath.FromSlash(r.PathValue("file")))
	resolved := filepath.Clean(requested)
	if resolved != dir && !strings.HasPrefix(resolved, dir+string(os.PathSeparator)) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if info, err := os.Stat(resolved); err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, resolved)
}

// --- Plugin API router ---

// dispatchPlugin routes "METHOD /api/plugins/<id>/<path>" into the
// plugin's handler map. The plugin must exist and be enabled, and a
// privileged route declared in the manifest requires the admin role no
// matter what the handler itself would do. Handler failures are logged
// and surfaced as a generic error.
func (h *Handlers) dispatchPlugin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	routePath := "/" + r.PathValue("path")

	lp, ok := h.Manager.Get(id)
	if !ok || !h.Manager.IsEnabled(id) || lp.Module == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	// Privilege comes from the static declaration, not the handler.
	var declared *plugin.APIRoute
	for i, route := range lp.Manifest.Contributions.APIRoutes {
		if route.Method == r.Method && route.Path == routePath {
			declared = &lp.Manifest.Contributions.APIRoutes[i]
			break
		}
	}
	if declared == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if declared.Privileged && !isAdmin(r.Context()) {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	handler, ok := lp.Module.Routes()[r.Method+" "+routePath]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.Logger.Error("plugin handler panic",
				slog.String("plugin", id),
				slog.String("route", r.Method+" "+routePath),
				slog.Any("panic", rec),
			)
			writeError(w, http.StatusInternalServerError, "plugin request failed")
		}
	}()

	resp, err := handler(r.Context(), lp.Context, plugin.RouteRequest{
		Method: r.Method,
		Path:   routePath,
		Query:  r.URL.Query(),
		Body:   body,
	})
	if err != nil {
		// Internal detail stays in the log, never in the response.
		h.Logger.Warn("plugin handler failed",
			slog.String("plugin", id),
			slog.String("route", r.Method+" "+routePath),
			slog.Any("err", err),
		)
		writeError(w, http.StatusInternalServerError, "plugin request failed")
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp.Body)
}

// --- Command handlers ---

// runRequest is the body accepted by POST /api/commands/{key}.
type runRequest struct {
	Args      []string `json:"args,omitempty"`
	TimeoutMS int      `json:"timeoutMs,omitempty"`
}

func (h *Handlers) runCommand(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	key := r.PathValue("key")
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	res := h.Engine.Run(r.Context(), key, req.Args, time.Duration(req.TimeoutMS)*time.Millisecond)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) listCommands(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Registry().Keys())
}

// --- Dashboard state handlers ---

func (h *Handlers) listContainers(w http.ResponseWriter, r *http.Request) {
	if h.Containers == nil || !h.Containers.Available() {
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "containers": []containers.Status{}})
		return
	}
	list, err := h.Containers.List(r.Context())
	if err != nil {
		h.Logger.Warn("container list failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "container daemon unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "containers": list})
}

func (h *Handlers) recentAudit(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []audit.Record{})
		return
	}
	records, err := h.Audit.Recent(200)
	if err != nil {
		h.Logger.Warn("audit query failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "audit unavailable")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// StatusHandler reports host status. Registered unauthenticated.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version": h.Version,
			"uptime":  time.Since(h.StartAt).Round(time.Second).String(),
			"plugins": len(h.Manager.List()),
		})
	}
}

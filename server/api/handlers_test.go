package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/hostboard/command"
	"github.com/GoCodeAlone/hostboard/plugin"
)

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

type handlersFixture struct {
	handlers *Handlers
	mux      *http.ServeMux
	manager  *plugin.Manager
	runner   *countingRunner
	dir      string
}

func newHandlersFixture(t *testing.T) *handlersFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	runner := &countingRunner{}
	engine := command.NewEngine(command.NewRegistry(command.HostDefinitions()), time.Second, logger, command.WithRunner(runner))
	dir := t.TempDir()
	store := plugin.NewStore(filepath.Join(t.TempDir(), "registry.json"))
	manager := plugin.NewManager(dir, store, engine, logger)

	h := &Handlers{
		Manager: manager,
		Engine:  engine,
		Logger:  logger,
		Version: "test",
		StartAt: time.Now(),
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &handlersFixture{handlers: h, mux: mux, manager: manager, runner: runner, dir: dir}
}

// seedPlugin writes the demo plugin on disk and discovers it.
func (f *handlersFixture) seedPlugin(t *testing.T) {
	t.Helper()
	m := &plugin.Manifest{
		ID:      "demo",
		Name:    "Demo",
		Version: "1.0.0",
		Contributions: plugin.Contributions{
			APIRoutes: []plugin.APIRoute{
				{Method: "GET", Path: "/info", Command: "info"},
				{Method: "POST", Path: "/reset", Privileged: true, Command: "reset"},
			},
			Commands: []plugin.DeclaredCommand{
				{Key: "info", Binary: "uname", Args: []string{"-a"}},
				{Key: "reset", Binary: "true"},
			},
		},
	}
	dir := filepath.Join(f.dir, "demo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, plugin.ManifestFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func doAs(t *testing.T, mux *http.ServeMux, role, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if role != "" {
		req = req.WithContext(ContextWithIdentity(req.Context(), Identity{Subject: "tester", Role: role}))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListPlugins(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)

	rec := doAs(t, f.mux, RoleViewer, "GET", "/api/plugins", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []plugin.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ID != "demo" || infos[0].Enabled {
		t.Errorf("infos = %+v", infos)
	}
}

func TestEnableRequiresAdmin(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)

	if rec := doAs(t, f.mux, RoleViewer, "POST", "/api/plugins/demo/enable", ""); rec.Code != http.StatusForbidden {
		t.Errorf("viewer enable status = %d, want 403", rec.Code)
	}
	if rec := doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/demo/enable", ""); rec.Code != http.StatusNoContent {
		t.Errorf("admin enable status = %d, want 204", rec.Code)
	}
	if !f.manager.IsEnabled("demo") {
		t.Error("plugin should be enabled")
	}
}

func TestDispatchPluginRoute(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)
	doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/demo/enable", "")

	rec := doAs(t, f.mux, RoleViewer, "GET", "/api/plugins/demo/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["output"] != "out" {
		t.Errorf("output = %q", resp["output"])
	}
}

func TestDispatchPrivilegedRoute(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)
	doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/demo/enable", "")

	// Privilege is decided by the manifest declaration, not the handler.
	if rec := doAs(t, f.mux, RoleViewer, "POST", "/api/plugins/demo/reset", ""); rec.Code != http.StatusForbidden {
		t.Errorf("viewer status = %d, want 403", rec.Code)
	}
	if rec := doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/demo/reset", ""); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}

func TestDispatchDisabledPlugin(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)

	if rec := doAs(t, f.mux, RoleViewer, "GET", "/api/plugins/demo/info", ""); rec.Code != http.StatusNotFound {
		t.Errorf("disabled plugin dispatch status = %d, want 404", rec.Code)
	}
}

func TestDispatchUndeclaredRoute(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)
	doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/demo/enable", "")

	if rec := doAs(t, f.mux, RoleAdmin, "GET", "/api/plugins/demo/secret", ""); rec.Code != http.StatusNotFound {
		t.Errorf("undeclared route status = %d, want 404", rec.Code)
	}
}

func TestConfigureMergesViaAPI(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)

	if rec := doAs(t, f.mux, RoleAdmin, "PUT", "/api/plugins/demo/config", `{"a":1}`); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doAs(t, f.mux, RoleAdmin, "PUT", "/api/plugins/demo/config", `{"b":2}`); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestInstallRejectsInvalidIDBeforeNetwork(t *testing.T) {
	f := newHandlersFixture(t)
	// Installer is nil: the id check must reject before it is touched.
	body := `{"pluginId":"../evil","downloadUrl":"http://127.0.0.1:1/x.zip"}`
	rec := doAs(t, f.mux, RoleAdmin, "POST", "/api/plugins/install", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestComponentFileTraversal(t *testing.T) {
	f := newHandlersFixture(t)
	f.seedPlugin(t)

	// A real component serves fine.
	if err := os.WriteFile(filepath.Join(f.dir, "demo", "widget.js"), []byte("render()"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := doAs(t, f.mux, RoleViewer, "GET", "/api/plugins/demo/components/widget.js", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "render()" {
		t.Errorf("component fetch: status = %d body = %q", rec.Code, rec.Body.String())
	}

	// Traversal out of the plugin directory is refused by the handler
	// even when the mux's own path cleaning is bypassed.
	if err := os.WriteFile(filepath.Join(f.dir, "secret.txt"), []byte("top"), 0o600); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/plugins/demo/components/x", nil)
	req.SetPathValue("id", "demo")
	req.SetPathValue("file", "../secret.txt")
	esc := httptest.NewRecorder()
	f.handlers.componentFile(esc, req)
	if esc.Code != http.StatusNotFound {
		t.Errorf("traversal status = %d, want 404", esc.Code)
	}
	if strings.Contains(esc.Body.String(), "top") {
		t.Error("traversal leaked file contents")
	}
}

func TestRunCommandRequiresAdmin(t *testing.T) {
	f := newHandlersFixture(t)

	if rec := doAs(t, f.mux, RoleViewer, "POST", "/api/commands/docker:ps", ""); rec.Code != http.StatusForbidden {
		t.Errorf("viewer status = %d, want 403", rec.Code)
	}

	rec := doAs(t, f.mux, RoleAdmin, "POST", "/api/commands/docker:ps", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
	var res command.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded || res.Stdout != "out" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunUnregisteredCommand(t *testing.T) {
	f := newHandlersFixture(t)
	rec := doAs(t, f.mux, RoleAdmin, "POST", "/api/commands/rm:rf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res command.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Succeeded {
		t.Error("unregistered key should fail")
	}
	if f.runner.calls != 0 {
		t.Errorf("spawns = %d, want 0", f.runner.calls)
	}
}

func TestContainersUnavailable(t *testing.T) {
	f := newHandlersFixture(t)
	rec := doAs(t, f.mux, RoleViewer, "GET", "/api/containers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["available"] != false {
		t.Errorf("available = %v, want false", resp["available"])
	}
}

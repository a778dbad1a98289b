// Command hostboard is the hostboard CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GoCodeAlone/hostboard/internal/version"
)

const defaultServer = "http://localhost:9180"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "hostboard server URL")
		token     = flag.String("token", os.Getenv("HOSTBOARD_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "plugins":
		err = cli.cmdPlugins(rest)
	case "plugin":
		err = cli.cmdPlugin(rest)
	case "install":
		err = cli.cmdInstall(rest)
	case "run":
		err = cli.cmdRun(rest)
	case "commands":
		err = cli.cmdCommands(rest)
	case "containers":
		err = cli.cmdContainers(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use hostboardd to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `hostboard — Hostboard CLI

Usage:
  hostboard [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9180)
  --token   <token>  JWT auth token (or $HOSTBOARD_TOKEN)

Commands:
  version                    print version
  status                     show server status
  plugins                    list plugins
  plugin enable <id>         enable a plugin
  plugin disable <id>        disable a plugin
  plugin uninstall <id>      uninstall a plugin
  install <id> <url>         install a plugin from a marketplace URL
  commands                   list registered command keys
  run <key> [args...]        run a registered command
  containers                 list containers
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("hostboard %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// do performs a request and decodes the JSON response into v (may be nil).
func (c *Client) do(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) get(path string, v any) error  { return c.do(http.MethodGet, path, nil, v) }
func (c *Client) post(path string, body io.Reader, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]any
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("version: %s\n", strVal(result["version"]))
	fmt.Printf("uptime:  %s\n", strVal(result["uptime"]))
	fmt.Printf("plugins: %s\n", strVal(result["plugins"]))
	return nil
}

// --- plugins ---

func (c *Client) cmdPlugins(_ []string) error {
	var plugins []map[string]any
	if err := c.get("/api/plugins", &plugins); err != nil {
		return err
	}
	if len(plugins) == 0 {
		fmt.Println("no plugins")
		return nil
	}
	fmt.Printf("%-20s %-24s %-10s %-8s\n", "ID", "NAME", "VERSION", "ENABLED")
	fmt.Println(strings.Repeat("-", 66))
	for _, p := range plugins {
		fmt.Printf("%-20s %-24s %-10s %-8s\n",
			strVal(p["id"]),
			truncate(strVal(p["name"]), 23),
			strVal(p["version"]),
			fmt.Sprint(p["enabled"]),
		)
	}
	return nil
}

// --- plugin subcommands ---

func (c *Client) cmdPlugin(args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hostboard plugin <enable|disable|uninstall> <id>")
		os.Exit(1)
	}
	sub, id := args[0], args[1]
	switch sub {
	case "enable":
		if err := c.post("/api/plugins/"+id+"/enable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("plugin %s enabled\n", id)
	case "disable":
		if err := c.post("/api/plugins/"+id+"/disable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("plugin %s disabled\n", id)
	case "uninstall":
		if err := c.do(http.MethodDelete, "/api/plugins/"+id, nil, nil); err != nil {
			return err
		}
		fmt.Printf("plugin %s uninstalled\n", id)
	default:
		return fmt.Errorf("unknown plugin subcommand: %s", sub)
	}
	return nil
}

// --- install ---

func (c *Client) cmdInstall(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: hostboard install <id> <url>")
	}
	body := fmt.Sprintf(`{"pluginId":%q,"downloadUrl":%q}`, args[0], args[1])
	var result map[string]any
	if err := c.post("/api/plugins/install", strings.NewReader(body), &result); err != nil {
		return err
	}
	fmt.Printf("installed %s %s (disabled; enable to activate)\n",
		strVal(result["id"]), strVal(result["version"]))
	return nil
}

// --- commands ---

func (c *Client) cmdCommands(_ []string) error {
	var keys []string
	if err := c.get("/api/commands", &keys); err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func (c *Client) cmdRun(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hostboard run <key> [args...]")
	}
	key := args[0]
	payload, err := json.Marshal(map[string]any{"args": args[1:]})
	if err != nil {
		return err
	}
	var result map[string]any
	if err := c.post("/api/commands/"+key, strings.NewReader(string(payload)), &result); err != nil {
		return err
	}
	if out := strVal(result["stdout"]); out != "" {
		fmt.Print(out)
	}
	if errOut := strVal(result["stderr"]); errOut != "" {
		fmt.Fprint(os.Stderr, errOut)
	}
	if fmt.Sprint(result["succeeded"]) != "true" {
		os.Exit(1)
	}
	return nil
}

// --- containers ---

func (c *Client) cmdContainers(_ []string) error {
	var result struct {
		Available  bool             `json:"available"`
		Containers []map[string]any `json:"containers"`
	}
	if err := c.get("/api/containers", &result); err != nil {
		return err
	}
	if !result.Available {
		fmt.Println("container daemon unavailable")
		return nil
	}
	if len(result.Containers) == 0 {
		fmt.Println("no containers")
		return nil
	}
	fmt.Printf("%-14s %-24s %-30s %-10s\n", "ID", "NAME", "IMAGE", "STATE")
	fmt.Println(strings.Repeat("-", 82))
	for _, ct := range result.Containers {
		name := ""
		if names, ok := ct["names"].([]any); ok && len(names) > 0 {
			name = strings.TrimPrefix(strVal(names[0]), "/")
		}
		fmt.Printf("%-14s %-24s %-30s %-10s\n",
			truncate(strVal(ct["id"]), 12),
			truncate(name, 23),
			truncate(strVal(ct["image"]), 29),
			strVal(ct["state"]),
		)
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

package plugin

import (
	"context"
	"fmt"
	"net/url"
)

// RouteRequest carries an inbound API request into a plugin route handler.
type RouteRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// RouteResponse is a plugin route handler's reply.
type RouteResponse struct {
	Status int
	Body   any
}

// RouteHandler handles one plugin API route under the plugin's scoped
// context.
type RouteHandler func(ctx context.Context, sc *ScopedContext, req RouteRequest) (RouteResponse, error)

// Module is a plugin's loaded behavior. Third-party modules never run
// in-process: they are synthesized from the manifest, and their hooks and
// route handlers execute declared commands out-of-process through the
// scoped context. First-party modules are Go implementations registered
// as builtins at startup.
type Module interface {
	// Activate runs when the plugin is enabled.
	Activate(ctx context.Context, sc *ScopedContext) error

	// Deactivate runs when the plugin is disabled. Best-effort; errors
	// are logged by the manager and do not abort the transition.
	Deactivate(ctx context.Context, sc *ScopedContext) error

	// Routes returns the handler map keyed "<METHOD> <path>".
	Routes() map[string]RouteHandler
}

// ModuleFactory builds a first-party module for a manifest.
type ModuleFactory func(m *Manifest) Module

// commandModule is the module synthesized for third-party plugins. Every
// behavior it exposes is a declared command run through the scoped
// executor, so plugin code never loads into the host process.
type commandModule struct {
	manifest *Manifest
}

func newCommandModule(m *Manifest) *commandModule {
	return &commandModule{manifest: m}
}

func (cm *commandModule) Activate(ctx context.Context, sc *ScopedContext) error {
	action := cm.manifest.Hooks.Activate
	if action == "" {
		return nil
	}
	res := sc.Exec(ctx, cm.manifest.ID+":"+action, nil, 0)
	if !res.Succeeded {
		return fmt.Errorf("activation hook %q failed: exit %d: %s", action, res.ExitCode, res.Stderr)
	}
	return nil
}

func (cm *commandModule) Deactivate(ctx context.Context, sc *ScopedContext) error {
	action := cm.manifest.Hooks.Deactivate
	if action == "" {
		return nil
	}
	res := sc.Exec(ctx, cm.manifest.ID+":"+action, nil, 0)
	if !res.Succeeded {
		return fmt.Errorf("deactivation hook %q failed: exit %d: %s", action, res.ExitCode, res.Stderr)
	}
	return nil
}

// Routes maps every declared API route with a backing command to a
// handler that runs that command and returns its stdout.
func (cm *commandModule) Routes() map[string]RouteHandler {
	routes := make(map[string]RouteHandler)
	for _, r := range cm.manifest.Contributions.APIRoutes {
		if r.Command == "" {
			continue
		}
		key := cm.manifest.ID + ":" + r.Command
		routes[r.Method+" "+r.Path] = func(ctx context.Context, sc *ScopedContext, req RouteRequest) (RouteResponse, error) {
			// Query values pass through as trailing arguments, one
			// "k=v" element each; they are never parsed as flags.
			var extra []string
			for k, vs := range req.Query {
				for _, v := range vs {
					extra = append(extra, k+"="+v)
				}
			}
			res := sc.Exec(ctx, key, extra, 0)
			if !res.Succeeded {
				return RouteResponse{}, fmt.Errorf("command %q failed: exit %d", key, res.ExitCode)
			}
			return RouteResponse{Status: 200, Body: map[string]string{"output": res.Stdout}}, nil
		}
	}
	return routes
}

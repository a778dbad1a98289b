package command

// HostDefinitions returns the compile-time command table for the host.
// Binaries are resolved via PATH at spawn time; a missing binary surfaces
// as a failed Result, never as a panic.
func HostDefinitions() map[string]Definition {
	return map[string]Definition{
		// system (read-only)
		"system:uptime": {Binary: "uptime"},
		"system:df":     {Binary: "df", FixedArgs: []string{"-h"}},
		"system:free":   {Binary: "free", FixedArgs: []string{"-m"}},
		"system:ps":     {Binary: "ps", FixedArgs: []string{"aux"}},

		// docker (read-only)
		"docker:ps":     {Binary: "docker", FixedArgs: []string{"ps", "--all", "--format", "{{json .}}"}},
		"docker:images": {Binary: "docker", FixedArgs: []string{"images", "--format", "{{json .}}"}},
		"docker:stats":  {Binary: "docker", FixedArgs: []string{"stats", "--no-stream", "--format", "{{json .}}"}},
		"docker:logs":   {Binary: "docker", FixedArgs: []string{"logs", "--tail", "200"}},

		// docker (mutating — host only, never on the plugin allow-list)
		"docker:start":   {Binary: "docker", FixedArgs: []string{"start"}},
		"docker:stop":    {Binary: "docker", FixedArgs: []string{"stop"}},
		"docker:restart": {Binary: "docker", FixedArgs: []string{"restart"}},

		// systemd services
		"service:list":    {Binary: "systemctl", FixedArgs: []string{"list-units", "--type=service", "--no-pager"}},
		"service:status":  {Binary: "systemctl", FixedArgs: []string{"status", "--no-pager"}},
		"service:restart": {Binary: "systemctl", FixedArgs: []string{"restart"}},
	}
}

// readOnlyKeys is the fixed allow-list of host commands every plugin may
// run through its scoped context. Read operations only; no key on this
// list may mutate container, service, or system state.
var readOnlyKeys = map[string]struct{}{
	"system:uptime":  {},
	"system:df":      {},
	"system:free":    {},
	"system:ps":      {},
	"docker:ps":      {},
	"docker:images":  {},
	"docker:stats":   {},
	"docker:logs":    {},
	"service:list":   {},
	"service:status": {},
}

// ReadOnlyAllowed reports whether key is on the shared read-only
// allow-list available to all plugins.
func ReadOnlyAllowed(key string) bool {
	_, ok := readOnlyKeys[key]
	return ok
}

// ReservedNamespace reports whether ns is a host command namespace.
// Plugin ids may never collide with these: a plugin named after a host
// namespace would own every key in it, including the mutating ones.
func ReservedNamespace(ns string) bool {
	switch ns {
	case "system", "docker", "service":
		return true
	}
	return false
}

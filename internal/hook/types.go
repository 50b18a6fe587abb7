// Package hook runs external programs after a motion event has been
// recorded. A hook lives in its own directory under the hook directory and
// is described by a hook.json manifest.
package hook

import "encoding/json"

// ManifestFile is the manifest name looked up in every hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Events lists the event kinds the hook wants. Empty means all.
	Events []string `json:"events,omitempty"`
	// Config is passed through to the hook untouched.
	Config json.RawMessage `json:"config,omitempty"`
}

// Request is written to the hook's stdin as JSON.
type Request struct {
	Event     string          `json:"evento"`
	Timestamp string          `json:"timestamp"`
	Clip      string          `json:"arquivo"`
	Record    string          `json:"record"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response is read from the hook's stdout. An empty stdout counts as success.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Wants reports whether the hook subscribes to events of the given kind.
func (h *Hook) Wants(kind string) bool {
	if len(h.Manifest.Events) == 0 {
		return true
	}
	for _, e := range h.Manifest.Events {
		if e == kind {
			return true
		}
	}
	return false
}

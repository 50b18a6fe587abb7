// Package api provides HTTP API handlers for the vigia motion watcher.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/vigia/internal/app"
	"github.com/ayusman/vigia/internal/store"
)

// Controller is the part of app.Controller the handlers use.
type Controller interface {
	ListRecordedClips() ([]string, error)
	ClipPath(name string) (string, error)
	SetSensitivity(value int)
	Sensitivity() int
	SwitchMode(mode app.Mode) error
	Mode() app.Mode
	Events(limit int) ([]*store.Event, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

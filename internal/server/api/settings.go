package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/vigia/internal/app"
)

// SensitivityHandler reads and updates the detection sensitivity.
type SensitivityHandler struct {
	ctrl Controller
}

// NewSensitivityHandler creates a new SensitivityHandler.
func NewSensitivityHandler(ctrl Controller) *SensitivityHandler {
	return &SensitivityHandler{ctrl: ctrl}
}

type sensitivityBody struct {
	Sensitivity int `json:"sensitivity"`
}

// ServeHTTP handles GET and PUT /api/sensitivity.
func (h *SensitivityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sensitivityBody{Sensitivity: h.ctrl.Sensitivity()})
	case http.MethodPut:
		var req sensitivityBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if req.Sensitivity <= 0 {
			writeError(w, http.StatusBadRequest, "Sensitivity must be positive")
			return
		}
		h.ctrl.SetSensitivity(req.Sensitivity)
		writeJSON(w, http.StatusOK, sensitivityBody{Sensitivity: h.ctrl.Sensitivity()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ModeHandler reads and switches the controller mode.
type ModeHandler struct {
	ctrl Controller
}

// NewModeHandler creates a new ModeHandler.
func NewModeHandler(ctrl Controller) *ModeHandler {
	return &ModeHandler{ctrl: ctrl}
}

type modeBody struct {
	Mode string `json:"mode"`
}

// ServeHTTP handles GET and PUT /api/mode.
func (h *ModeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, modeBody{Mode: string(h.ctrl.Mode())})
	case http.MethodPut:
		var req modeBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}

		mode, err := app.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Mode must be live or history")
			return
		}

		if err := h.ctrl.SwitchMode(mode); err != nil {
			if errors.Is(err, app.ErrNotRunning) || errors.Is(err, app.ErrStopped) {
				writeError(w, http.StatusServiceUnavailable, "Controller is not running")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to switch mode")
			return
		}

		writeJSON(w, http.StatusOK, modeBody{Mode: string(h.ctrl.Mode())})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

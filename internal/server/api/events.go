package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/vigia/internal/store"
)

// DefaultEventLimit is used when the request has no limit parameter.
const DefaultEventLimit = 100

// EventsHandler lists catalogued events.
type EventsHandler struct {
	ctrl Controller
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(ctrl Controller) *EventsHandler {
	return &EventsHandler{ctrl: ctrl}
}

type listEventsResponse struct {
	Events []*store.Event `json:"events"`
}

// ServeHTTP handles GET /api/events?limit=n.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := DefaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.ctrl.Events(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

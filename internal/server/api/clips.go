package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ayusman/vigia/internal/app"
)

// ClipsHandler lists recorded clips and serves their files.
type ClipsHandler struct {
	ctrl Controller
}

// NewClipsHandler creates a new ClipsHandler.
func NewClipsHandler(ctrl Controller) *ClipsHandler {
	return &ClipsHandler{ctrl: ctrl}
}

type clipResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type listClipsResponse struct {
	Clips []clipResponse `json:"clips"`
}

// ServeHTTP routes /api/clips and /api/clips/{name}.
func (h *ClipsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/clips")
	name = strings.TrimPrefix(name, "/")

	if name == "" {
		h.list(w, r)
		return
	}
	h.get(w, r, name)
}

// list handles GET /api/clips.
func (h *ClipsHandler) list(w http.ResponseWriter, r *http.Request) {
	clips, err := h.ctrl.ListRecordedClips()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clips")
		return
	}

	response := listClipsResponse{Clips: make([]clipResponse, 0, len(clips))}
	for _, name := range clips {
		response.Clips = append(response.Clips, clipResponse{
			Name: name,
			URL:  "/api/clips/" + url.PathEscape(name),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/clips/{name} and serves the clip file.
func (h *ClipsHandler) get(w http.ResponseWriter, r *http.Request, name string) {
	path, err := h.ctrl.ClipPath(name)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Clip not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to open clip")
		return
	}

	http.ServeFile(w, r, path)
}

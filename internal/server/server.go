// Package server provides the HTTP surface of the vigia motion watcher.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/vigia/internal/app"
	"github.com/ayusman/vigia/internal/server/api"
	"github.com/rs/zerolog/log"
)

// StreamInterval is the MJPEG frame interval (~15 FPS).
const StreamInterval = 66 * time.Millisecond

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Controller *app.Controller
}

// Server represents the HTTP server for the vigia application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time

	stream        *StreamHandler
	notifications *NotificationHub
	unsubscribe   func()
	httpServer    *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if ctrl := s.config.Controller; ctrl != nil {
		s.stream = NewStreamHandler(ctrl, StreamInterval)
		s.mux.Handle("/api/stream", s.stream)
		s.mux.Handle("/api/snapshot", NewSnapshotHandler(ctrl))

		clips := api.NewClipsHandler(ctrl)
		s.mux.Handle("/api/clips", clips)
		s.mux.Handle("/api/clips/", clips)
		s.mux.Handle("/api/sensitivity", api.NewSensitivityHandler(ctrl))
		s.mux.Handle("/api/mode", api.NewModeHandler(ctrl))
		s.mux.Handle("/api/events", api.NewEventsHandler(ctrl))

		s.notifications = NewNotificationHub()
		s.unsubscribe = ctrl.Subscribe(s.notifications.Broadcast)
		s.mux.Handle("/api/notifications", s.notifications)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if s.config.Controller != nil {
		response["controller"] = s.config.Controller.Status()
	}
	if s.notifications != nil {
		response["clients"] = s.notifications.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("component", "server").Str("addr", addr).Msg("HTTP server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and releases the stream pump and the
// notification hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.notifications != nil {
		s.notifications.Close()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// The MJPEG handlers only return after a failed write, so the pump
	// stops last.
	if s.stream != nil {
		s.stream.Close()
	}
	return err
}

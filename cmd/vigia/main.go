package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/vigia/internal/app"
	"github.com/ayusman/vigia/internal/config"
	"github.com/ayusman/vigia/internal/server"
	"github.com/ayusman/vigia/internal/store"
	"github.com/ayusman/vigia/internal/tray"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds the HTTP server shutdown and the wait for
// recordings in progress.
const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	withTray := flag.Bool("tray", false, "show the system tray menu")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *withTray {
		cfg.Server.Tray = true
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	setupLogging(cfg.Log)

	log.Info().
		Str("stream", cfg.Stream.URL).
		Str("clips", cfg.Storage.ClipDir).
		Str("records", cfg.Storage.RecordDir).
		Msg("Vigia - motion watcher")

	st, err := store.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event catalog")
	}
	defer st.Close()

	ctrl := app.New(app.Config{Settings: cfg, Store: st})
	if err := ctrl.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start controller")
	}

	staticDir := cfg.Server.StaticDir
	if staticDir != "" {
		log.Info().Str("dir", staticDir).Msg("Serving static files")
	}

	srv := server.New(server.Config{StaticDir: staticDir, Controller: ctrl})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	if cfg.Server.Tray {
		t := newTray(ctrl, stop)
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		// The tray owns the main goroutine until Quit.
		t.Run()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	shutdown(ctrl, srv)
}

// newTray wires the tray menu to the controller.
func newTray(ctrl *app.Controller, quit func()) *tray.Tray {
	t := tray.New()
	t.OnModeChange(func(mode app.Mode) error {
		if err := ctrl.SwitchMode(mode); err != nil {
			log.Error().Err(err).Str("mode", string(mode)).Msg("Failed to switch mode")
			return err
		}
		return nil
	})
	// Switches made over HTTP show up in the menu too.
	ctrl.WatchMode(t.SetMode)
	t.SetMode(ctrl.Mode())
	t.OnQuit(quit)

	if e, err := ctrl.LatestEvent(); err == nil {
		t.SetLastEvent(e.Timestamp.Format("2006-01-02 15:04:05"))
	}
	ctrl.Subscribe(func(n app.Notification) {
		t.SetLastEvent(n.Time.Format("2006-01-02 15:04:05"))
	})

	return t
}

func shutdown(ctrl *app.Controller, srv *server.Server) {
	log.Info().Msg("Shutting down")

	ctrl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Gave up waiting for recordings in progress")
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Package app provides the controller that ties stream capture, motion
// detection and event recording together for the UI adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/vigia/internal/capture"
	"github.com/ayusman/vigia/internal/config"
	"github.com/ayusman/vigia/internal/event"
	"github.com/ayusman/vigia/internal/hook"
	"github.com/ayusman/vigia/internal/store"
	"github.com/rs/zerolog/log"
)

// NotificationMessage is sent to subscribers when an event is declared.
const NotificationMessage = "Movimento detectado e gravado!"

var (
	// ErrInvalidMode is returned for an unknown mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrNotFound is returned when a clip does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotRunning is returned when the controller has not been started.
	ErrNotRunning = errors.New("controller is not running")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("controller has been stopped")
)

// Config holds configuration options for the controller.
type Config struct {
	Settings config.Config
	// Store is the optional in-memory event catalog.
	Store *store.Store
	// NewWriter overrides the clip writer, mainly for tests.
	NewWriter event.WriterFactory
}

// Notification tells the UI that an event was declared.
type Notification struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Clip    string    `json:"clip"`
}

// Status is a snapshot of the controller for diagnostics.
type Status struct {
	Mode        Mode                `json:"mode"`
	Running     bool                `json:"running"`
	Capturing   bool                `json:"capturing"`
	Sensitivity int                 `json:"sensitivity"`
	StreamURL   string              `json:"stream_url"`
	Stream      capture.StreamStats `json:"stream"`
	LastMotion  *time.Time          `json:"last_motion,omitempty"`
	LastEvent   *time.Time          `json:"last_event,omitempty"`
}

// Controller owns the mode, the detection tick loop and the capture
// lifecycle, and exposes the operations the UI needs.
type Controller struct {
	config   Config
	settings config.Config

	frames    *capture.FrameBuffer
	annotated *capture.FrameBuffer
	detector  *capture.MotionDetector
	recorder  *event.Recorder
	journal   *event.Journal
	hooks     *hook.Dispatcher

	gateMu sync.Mutex
	gate   *event.Gate

	mu          sync.RWMutex
	mode        Mode
	stopCh      chan struct{}
	loopDone    chan struct{}
	stopped     bool
	reader      *capture.StreamReader
	cancel      context.CancelFunc
	captureDone chan struct{}

	subMu    sync.RWMutex
	subs     map[int]func(Notification)
	modeSubs map[int]func(Mode)
	nextSub  int
}

// New creates a Controller. Nothing runs until Start is called.
func New(cfg Config) *Controller {
	s := cfg.Settings

	c := &Controller{
		config:    cfg,
		settings:  s,
		frames:    capture.NewFrameBuffer(),
		annotated: capture.NewFrameBuffer(),
		detector:  capture.NewMotionDetector(s.Detection.Sensitivity),
		gate:      event.NewGate(s.Detection.MotionDuration),
		journal:   event.NewJournal(s.Storage.RecordDir),
		mode:      ModeLive,
		subs:      make(map[int]func(Notification)),
		modeSubs:  make(map[int]func(Mode)),
	}

	c.recorder = event.NewRecorder(event.RecorderConfig{
		Dir:        s.Storage.ClipDir,
		FPS:        float64(s.Recording.FPS),
		Frames:     s.Recording.Frames,
		Codec:      s.Recording.Codec,
		Extension:  s.Recording.Extension,
		Source:     c.frames,
		NewWriter:  cfg.NewWriter,
		OnStart:    c.onRecordingStart,
		OnComplete: c.onRecordingComplete,
	})

	hooks := hook.NewManager(s.Hooks.Dir)
	if err := hooks.Discover(); err != nil {
		log.Warn().Str("component", "controller").Err(err).Msg("Failed to discover hooks")
	}
	if n := len(hooks.List()); n > 0 {
		log.Info().Str("component", "controller").Int("hooks", n).Str("dir", hooks.Dir()).Msg("Hooks loaded")
	}
	c.hooks = hook.NewDispatcher(hooks, hook.NewExecutor(s.Hooks.Timeout))

	if err := c.rebuildCatalog(); err != nil {
		log.Warn().Str("component", "controller").Err(err).Msg("Failed to rebuild event catalog")
	}

	return c
}

// Start launches the tick loop and enters live mode.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	// Don't start if already running
	if c.stopCh != nil {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.runPipeline(c.stopCh, c.loopDone)

	c.enterLiveLocked()

	log.Info().
		Str("component", "controller").
		Dur("tick", c.tickInterval()).
		Int("sensitivity", c.detector.Sensitivity()).
		Msg("Controller started")
	return nil
}

// Stop halts capture and detection. Recordings in progress keep running;
// use Wait to join them.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	stopCh, loopDone := c.stopCh, c.loopDone
	c.stopCh = nil
	c.mu.Unlock()

	// The tick reads the mode, so the loop is joined outside the lock.
	if stopCh != nil {
		close(stopCh)
		<-loopDone
	}

	c.mu.Lock()
	c.stopCaptureLocked()
	c.annotated.Clear()
	c.detector.Close()
	c.mu.Unlock()

	log.Info().Str("component", "controller").Msg("Controller stopped")
}

// Wait blocks until every recording in progress has been written and
// journaled and its hooks have finished.
func (c *Controller) Wait() {
	c.recorder.Wait()
	c.hooks.Wait()
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SwitchMode changes the mode. Entering live resets the reference frame and
// starts capture; entering history stops capture and detection. Mode
// watchers are told after a successful switch.
func (c *Controller) SwitchMode(mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return ErrNotRunning
	}

	switch mode {
	case ModeLive:
		c.enterLiveLocked()
	case ModeHistory:
		c.mode = ModeHistory
		c.stopCaptureLocked()
		c.annotated.Clear()
	}
	c.mu.Unlock()

	log.Info().Str("component", "controller").Str("mode", string(mode)).Msg("Mode switched")

	c.subMu.RLock()
	fns := make([]func(Mode), 0, len(c.modeSubs))
	for _, fn := range c.modeSubs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(mode)
	}
	return nil
}

// WatchMode registers fn to be called with the new mode after every
// successful SwitchMode, whoever made it. It returns a function that
// removes fn.
func (c *Controller) WatchMode(fn func(Mode)) (unwatch func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.modeSubs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.modeSubs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) enterLiveLocked() {
	c.mode = ModeLive
	c.detector.Reset()
	c.startCaptureLocked()
}

func (c *Controller) startCaptureLocked() {
	if c.cancel != nil {
		return
	}

	st := c.settings.Stream
	reader := capture.NewStreamReader(st.URL, c.frames, st.ReconnectDelay, st.ConnectTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader.Run(ctx)
	}()

	c.reader = reader
	c.cancel = cancel
	c.captureDone = done
}

func (c *Controller) stopCaptureLocked() {
	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.captureDone
	c.cancel = nil
	c.captureDone = nil
	c.frames.Clear()
}

// LatestAnnotatedFrame returns a copy of the last processed frame with the
// motion regions drawn on it. The caller must Close it.
func (c *Controller) LatestAnnotatedFrame() (*capture.Frame, bool) {
	return c.annotated.Latest()
}

// Subscribe registers fn to receive notifications and returns a function
// that removes it. fn is called from the detection goroutine and must not
// block.
func (c *Controller) Subscribe(fn func(Notification)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) notify(n Notification) {
	c.subMu.RLock()
	fns := make([]func(Notification), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		c.deliver(fn, n)
	}
}

// deliver calls one subscriber; a panic in it is logged and contained.
func (c *Controller) deliver(fn func(Notification), n Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "controller").Interface("panic", r).Msg("Recovered from panic in subscriber")
		}
	}()
	fn(n)
}

// SetSensitivity sets the minimum contour area. It takes effect on the next
// tick. Values less than or equal to 0 are ignored.
func (c *Controller) SetSensitivity(value int) {
	c.detector.SetSensitivity(value)
}

// Sensitivity returns the minimum contour area.
func (c *Controller) Sensitivity() int {
	return c.detector.Sensitivity()
}

// ListRecordedClips returns the names of the recorded clips, sorted.
// The clip directory is created if it does not exist.
func (c *Controller) ListRecordedClips() ([]string, error) {
	dir := c.settings.Storage.ClipDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip directory: %w", err)
	}

	suffix := "." + c.settings.Recording.Extension
	clips := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		clips = append(clips, e.Name())
	}
	sort.Strings(clips)

	return clips, nil
}

// ClipDir returns the directory recordings are written to.
func (c *Controller) ClipDir() string {
	return c.settings.Storage.ClipDir
}

// ClipPath returns the absolute path of the recorded clip called name.
func (c *Controller) ClipPath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || !strings.HasSuffix(name, "."+c.settings.Recording.Extension) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	path, err := filepath.Abs(filepath.Join(c.settings.Storage.ClipDir, name))
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return path, nil
}

// Events returns catalogued events, newest first. A limit of 0 or less
// returns all of them. Without a catalog it returns nothing.
func (c *Controller) Events(limit int) ([]*store.Event, error) {
	if c.config.Store == nil {
		return []*store.Event{}, nil
	}
	events, err := c.config.Store.Events().List(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []*store.Event{}
	}
	return events, nil
}

// LatestEvent returns the most recent catalogued event.
func (c *Controller) LatestEvent() (*store.Event, error) {
	if c.config.Store == nil {
		return nil, store.ErrNotFound
	}
	return c.config.Store.Events().Latest()
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		Mode:        c.mode,
		Running:     c.stopCh != nil,
		Capturing:   c.cancel != nil,
		Sensitivity: c.detector.Sensitivity(),
		StreamURL:   c.settings.Stream.URL,
	}
	if c.reader != nil {
		st.StreamURL = c.reader.URL()
		st.Stream = c.reader.Stats()
	}
	c.mu.RUnlock()

	c.gateMu.Lock()
	gs := c.gate.State()
	c.gateMu.Unlock()

	if !gs.LastMotion.IsZero() {
		st.LastMotion = &gs.LastMotion
	}
	if !gs.LastEvent.IsZero() {
		st.LastEvent = &gs.LastEvent
	}
	return st
}

// rebuildCatalog loads every journaled record into the catalog.
func (c *Controller) rebuildCatalog() error {
	if c.config.Store == nil {
		return nil
	}

	entries, err := c.journal.Records()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := c.catalog(e.Record, e.Path); err != nil {
			log.Warn().Str("component", "controller").Str("record", e.Path).Err(err).Msg("Failed to catalog record")
		}
	}

	log.Info().Str("component", "controller").Int("events", len(entries)).Msg("Event catalog rebuilt")
	return nil
}

func (c *Controller) catalog(rec event.Record, recordPath string) error {
	if c.config.Store == nil {
		return nil
	}

	ts, err := rec.Time()
	if err != nil {
		return fmt.Errorf("invalid record timestamp %q: %w", rec.Timestamp, err)
	}

	return c.config.Store.Events().Create(&store.Event{
		Timestamp:  ts,
		Kind:       rec.Kind,
		ClipPath:   rec.Clip,
		RecordPath: recordPath,
	})
}

func (c *Controller) tickInterval() time.Duration {
	if d := c.settings.Detection.TickInterval; d > 0 {
		return d
	}
	return 30 * time.Millisecond
}

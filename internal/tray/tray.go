// Package tray provides a system tray interface for the vigia motion watcher.
package tray

import (
	"sync"

	"github.com/ayusman/vigia/internal/app"
	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onMode func(mode app.Mode) error
	onQuit func()
	mode   app.Mode
	mu     sync.RWMutex

	// Menu items stored for later updates
	menuLive      *systray.MenuItem
	menuHistory   *systray.MenuItem
	menuLastEvent *systray.MenuItem
}

// New creates a new Tray instance in live mode.
func New() *Tray {
	return &Tray{
		mode: app.ModeLive,
	}
}

// OnModeChange sets the callback called when Live Feed or History is clicked.
// The menu only shows the new mode if fn returns nil.
func (t *Tray) OnModeChange(fn func(mode app.Mode) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMode = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Vigia")
	systray.SetTooltip("Vigia motion watcher")

	t.mu.Lock()
	t.menuLive = systray.AddMenuItem("", "Watch the live stream")
	t.menuHistory = systray.AddMenuItem("", "Browse recorded clips")
	systray.AddSeparator()

	t.menuLastEvent = systray.AddMenuItem("Last event: none", "Most recent motion event")
	t.menuLastEvent.Disable()
	systray.AddSeparator()
	t.updateModeTitlesLocked()
	t.mu.Unlock()

	menuQuit := systray.AddMenuItem("Quit", "Quit Vigia")

	go func() {
		for {
			select {
			case <-t.menuLive.ClickedCh:
				t.handleMode(app.ModeLive)
			case <-t.menuHistory.ClickedCh:
				t.handleMode(app.ModeHistory)
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleMode forwards a menu click to the callback and shows the new mode
// once the callback accepts it.
func (t *Tray) handleMode(mode app.Mode) {
	t.mu.RLock()
	callback := t.onMode
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(mode); err != nil {
			return
		}
	}

	t.SetMode(mode)
}

func (t *Tray) updateModeTitlesLocked() {
	if t.menuLive == nil || t.menuHistory == nil {
		return
	}
	if t.mode == app.ModeLive {
		t.menuLive.SetTitle("● Live Feed")
		t.menuHistory.SetTitle("○ History")
	} else {
		t.menuLive.SetTitle("○ Live Feed")
		t.menuHistory.SetTitle("● History")
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetMode updates the mode shown in the menu without calling back.
func (t *Tray) SetMode(mode app.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	t.updateModeTitlesLocked()
}

// SetLastEvent updates the last event display in the menu.
func (t *Tray) SetLastEvent(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastEvent != nil {
		if text == "" {
			t.menuLastEvent.SetTitle("Last event: none")
		} else {
			t.menuLastEvent.SetTitle("Last event: " + text)
		}
	}
}

// Mode returns the mode shown in the menu.
func (t *Tray) Mode() app.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

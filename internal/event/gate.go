// Package event turns motion signals into recorded events: a cooldown gate,
// an asynchronous clip recorder and a JSON journal of event records.
package event

import "time"

// DefaultWindow is the default motion duration window.
const DefaultWindow = 30 * time.Second

// GateState is a snapshot of the gate's timestamps. A zero time means unset.
type GateState struct {
	LastMotion time.Time
	LastEvent  time.Time
}

// Gate decides when a motion signal becomes a new event.
//
// The same window is used both to tell a new motion episode from the
// continuation of the current one and to suppress events declared too
// close to the previous one. A Gate is not safe for concurrent use; it
// belongs to the goroutine that runs detection ticks.
type Gate struct {
	window     time.Duration
	lastMotion time.Time
	lastEvent  time.Time
}

// NewGate creates a gate with the given window. A non-positive window
// selects DefaultWindow.
func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{window: window}
}

// Window returns the motion duration window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// Observe feeds one tick's motion signal to the gate and reports whether a
// new event was declared at now.
func (g *Gate) Observe(motion bool, now time.Time) bool {
	if !motion {
		return false
	}

	if !g.lastMotion.IsZero() && now.Sub(g.lastMotion) <= g.window {
		return false
	}
	g.lastMotion = now

	if !g.lastEvent.IsZero() && now.Sub(g.lastEvent) <= g.window {
		return false
	}
	g.lastEvent = now

	return true
}

// State returns a copy of the gate's timestamps.
func (g *Gate) State() GateState {
	return GateState{LastMotion: g.lastMotion, LastEvent: g.lastEvent}
}

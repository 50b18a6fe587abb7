package app

import (
	"fmt"
	"strings"
)

// Mode is what the controller is showing.
type Mode string

const (
	// ModeLive captures the stream and runs detection.
	ModeLive Mode = "live"
	// ModeHistory stops capture so recorded clips can be browsed.
	ModeHistory Mode = "history"
)

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive:
		return ModeLive, nil
	case ModeHistory:
		return ModeHistory, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func (m Mode) valid() bool {
	return m == ModeLive || m == ModeHistory
}

// Package store persists the little state that must survive a crash-only
// restart: boot history, the last fault, and per-channel pulse totals.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Boot describes one start of the node.
type Boot struct {
	Count   int       `json:"count"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
	// Previous is the session of the boot before this one, empty on the
	// first boot.
	Previous string `json:"previous,omitempty"`
}

// Fault is the last unhandled fault that triggered a restart.
type Fault struct {
	Reason  string    `json:"reason"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
}

// Totals counts pulses on one channel across restarts.
type Totals struct {
	PowerOn       int `json:"power_on"`
	ForceShutdown int `json:"force_shutdown"`
}

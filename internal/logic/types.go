// Package logic contains pure business logic for the relay node.
// This package has NO external dependencies (no GPIO, sockets, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// CommandKind identifies which action a decoded command asks for.
type CommandKind int

const (
	CommandInvalid CommandKind = iota
	CommandPowerOn
	CommandForceShutdown
)

// String returns the wire-independent name of the kind.
func (k CommandKind) String() string {
	switch k {
	case CommandPowerOn:
		return "POWER_ON"
	case CommandForceShutdown:
		return "FORCE_SHUTDOWN"
	default:
		return "INVALID"
	}
}

// InvalidReason explains why a payload was not accepted.
type InvalidReason string

const (
	ReasonNone         InvalidReason = ""
	ReasonEmpty        InvalidReason = "empty"
	ReasonMalformed    InvalidReason = "malformed"
	ReasonMissingField InvalidReason = "missing-field"
	ReasonUnrecognized InvalidReason = "unrecognized"
)

// Command is the closed variant a payload decodes into.
// Reason is only set when Kind is CommandInvalid.
type Command struct {
	Kind   CommandKind
	Reason InvalidReason
	// Value is the raw gpio value when one was present.
	Value string
}

// Valid reports whether the command may be actuated.
func (c Command) Valid() bool {
	return c.Kind == CommandPowerOn || c.Kind == CommandForceShutdown
}

// EventType represents something observable the node did.
type EventType string

const (
	EventPulse       EventType = "PULSE"
	EventRejected    EventType = "REJECTED"
	EventTimeout     EventType = "TIMEOUT"
	EventLinkUp      EventType = "LINK_UP"
	EventLinkDown    EventType = "LINK_DOWN"
	EventMaintenance EventType = "MAINTENANCE"
	EventClockSync   EventType = "CLOCK_SYNC"
)

// Event represents a state change to be published and tracked.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Channel   string        // relay channel name, empty for node-wide events
	Command   CommandKind   // PULSE only
	Reason    InvalidReason // REJECTED only
	Duration  time.Duration // pulse length for PULSE
	Remote    string        // client address for connection events
	Detail    string        // free-form, e.g. IP address on LINK_UP
}

// Notifier receives events as they happen. Implementations must not block
// for long: they are called from the command and supervision goroutines.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

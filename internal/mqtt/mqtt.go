// Package mqtt publishes relay and lifecycle events to MQTT with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// Topics returns the event and system topics for a node.
func Topics(prefix, node string) (events, system string) {
	base := prefix + "/" + node
	return base + "/events", base + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay or link event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown, fault).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "FAULT"
	Reason     string // signal name or fault message
	Session    string // boot session ID
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the event details.
type RelayPayload struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Channel    string `json:"channel,omitempty"`
	Command    string `json:"command,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := RelayPayload{
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
		Event:      string(event.Type),
		Channel:    event.Channel,
		Reason:     string(event.Reason),
		DurationMs: event.Duration.Milliseconds(),
		Remote:     event.Remote,
		Detail:     event.Detail,
	}
	if event.Type == logic.EventPulse {
		p.Command = event.Command.String()
	}
	return json.Marshal(Payload{Relay: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, SHUTDOWN) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Session   string `json:"session,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Session:   event.Session,
		},
	}
	return json.Marshal(payload)
}

// NopPublisher discards everything; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(logic.Event) error       { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }

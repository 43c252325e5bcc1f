package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string        `json:"event,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Node            string        `json:"node"`
	Session         string        `json:"session"`
	BootCount       int           `json:"boot_count"`
	LastFault       *FaultJSON    `json:"last_fault,omitempty"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	StartTime       string        `json:"start_time"`
	Timestamp       string        `json:"timestamp"`
	LastMaintenance string        `json:"last_maintenance,omitempty"`
	MQTT            MQTTStatus    `json:"mqtt"`
	Network         NetworkJSON   `json:"network"`
	Clock           ClockJSON     `json:"clock"`
	Channels        []ChannelJSON `json:"channels"`
	Config          ConfigJSON    `json:"config"`
}

// FaultJSON describes the fault behind the previous restart.
type FaultJSON struct {
	Reason string `json:"reason"`
	At     string `json:"at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of the link.
type NetworkJSON struct {
	State        string `json:"state"`
	IP           string `json:"ip,omitempty"`
	HardwareAddr string `json:"hw_addr,omitempty"`
	Drops        int    `json:"drops"`
}

// ClockJSON is the JSON representation of the clock.
type ClockJSON struct {
	Synced   bool   `json:"synced"`
	DST      bool   `json:"dst"`
	LastSync string `json:"last_sync,omitempty"`
}

// ChannelJSON is the JSON representation of one relay channel.
type ChannelJSON struct {
	Name          string `json:"name"`
	Pin           int    `json:"pin"`
	Port          int    `json:"port"`
	PowerOn       int    `json:"power_on"`
	ForceShutdown int    `json:"force_shutdown"`
	Rejected      int    `json:"rejected"`
	Timeouts      int    `json:"timeouts"`
	LastEvent     string `json:"last_event,omitempty"`
	LastEventAt   string `json:"last_event_at,omitempty"`
}

// ConfigJSON is the JSON representation of node config.
type ConfigJSON struct {
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
	ReadTimeoutMs   int64  `json:"read_timeout_ms"`
	CheckIntervalMs int64  `json:"check_interval_ms"`
	MaintenanceHour int    `json:"maintenance_hour"`
	Reboot          bool   `json:"reboot"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Node:            snap.Config.Node,
		Session:         snap.Session,
		BootCount:       snap.BootCount,
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		LastMaintenance: formatTime(snap.LastMaintenance),
		MQTT:            MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Network: NetworkJSON{
			State:        snap.Link.State,
			IP:           snap.Link.IP,
			HardwareAddr: snap.Link.HardwareAddr,
			Drops:        snap.Link.Drops,
		},
		Clock: ClockJSON{
			Synced:   snap.Clock.Synced,
			DST:      snap.Clock.DST,
			LastSync: formatTime(snap.Clock.LastSync),
		},
		Channels: make([]ChannelJSON, 0, len(snap.Channels)),
		Config: ConfigJSON{
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			ReadTimeoutMs:   snap.Config.ReadTimeout.Milliseconds(),
			CheckIntervalMs: snap.Config.CheckInterval.Milliseconds(),
			MaintenanceHour: snap.Config.MaintenanceHour,
			Reboot:          snap.Config.Reboot,
		},
	}
	if inner.Network.State == "" {
		inner.Network.State = LinkUnknown
	}
	if snap.LastFault != nil {
		inner.LastFault = &FaultJSON{Reason: snap.LastFault.Reason, At: formatTime(snap.LastFault.At)}
	}
	for _, c := range snap.Channels {
		inner.Channels = append(inner.Channels, ChannelJSON{
			Name:          c.Name,
			Pin:           c.Pin,
			Port:          c.Port,
			PowerOn:       c.PowerOn,
			ForceShutdown: c.ForceShutdown,
			Rejected:      c.Rejected,
			Timeouts:      c.Timeouts,
			LastEvent:     string(c.LastEvent),
			LastEventAt:   formatTime(c.LastEventAt),
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package status provides a thread-safe status tracker for the relay node.
// It is read by the HTTP handlers and the STARTUP/FAULT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// Link states as reported in snapshots.
const (
	LinkUnknown      = "UNKNOWN"
	LinkConnected    = "CONNECTED"
	LinkDisconnected = "DISCONNECTED"
)

// ChannelConfig describes a relay channel for display.
type ChannelConfig struct {
	Name string
	Pin  int
	Port int
}

// Config contains node configuration for display.
type Config struct {
	Node            string
	Broker          string
	HTTPAddr        string
	ReadTimeout     time.Duration
	CheckInterval   time.Duration
	MaintenanceHour int
	Reboot          bool
	Channels        []ChannelConfig
}

// ChannelStatus holds per-channel counters.
type ChannelStatus struct {
	ChannelConfig
	PowerOn       int
	ForceShutdown int
	Rejected      int
	Timeouts      int
	LastEvent     logic.EventType
	LastEventAt   time.Time
}

// LinkStatus is the network link as last reported.
type LinkStatus struct {
	State        string
	IP           string
	HardwareAddr string
	Drops        int
	LastChange   time.Time
}

// ClockStatus is the clock state as last reported.
type ClockStatus struct {
	Synced   bool
	DST      bool
	LastSync time.Time
}

// Fault is the fault that caused the previous restart, if any.
type Fault struct {
	Reason string
	At     time.Time
}

// Snapshot is a point-in-time view of node state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Session         string
	BootCount       int
	LastFault       *Fault
	Link            LinkStatus
	Clock           ClockStatus
	Channels        []ChannelStatus
	LastMaintenance time.Time
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	Config          Config
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable node state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, session and config.
func NewTracker(startTime time.Time, session string, cfg Config) *Tracker {
	chans := make([]ChannelStatus, len(cfg.Channels))
	for i, c := range cfg.Channels {
		chans[i].ChannelConfig = c
	}
	return &Tracker{
		snap: Snapshot{
			Session:   session,
			StartTime: startTime,
			Config:    cfg,
			Channels:  chans,
			Link:      LinkStatus{State: LinkUnknown},
		},
		now: time.Now,
	}
}

// Notify updates counters from a node event. It satisfies logic.Notifier.
func (t *Tracker) Notify(e logic.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case logic.EventLinkUp:
		t.snap.Link.State = LinkConnected
		t.snap.Link.IP = e.Detail
		t.snap.Link.LastChange = e.Timestamp
		return
	case logic.EventLinkDown:
		t.snap.Link.State = LinkDisconnected
		t.snap.Link.Drops++
		t.snap.Link.LastChange = e.Timestamp
		return
	case logic.EventClockSync:
		t.snap.Clock.Synced = true
		t.snap.Clock.LastSync = e.Timestamp
		return
	case logic.EventMaintenance:
		t.snap.LastMaintenance = e.Timestamp
		return
	}

	ch := t.channel(e.Channel)
	if ch == nil {
		return
	}
	switch e.Type {
	case logic.EventPulse:
		switch e.Command {
		case logic.CommandPowerOn:
			ch.PowerOn++
		case logic.CommandForceShutdown:
			ch.ForceShutdown++
		}
	case logic.EventRejected:
		ch.Rejected++
	case logic.EventTimeout:
		ch.Timeouts++
	default:
		return
	}
	ch.LastEvent = e.Type
	ch.LastEventAt = e.Timestamp
}

// channel must be called with mu held.
func (t *Tracker) channel(name string) *ChannelStatus {
	for i := range t.snap.Channels {
		if t.snap.Channels[i].Name == name {
			return &t.snap.Channels[i]
		}
	}
	return nil
}

// SetLinkInfo records the address details of the current link.
func (t *Tracker) SetLinkInfo(ip, hwAddr string) {
	t.mu.Lock()
	t.snap.Link.IP = ip
	t.snap.Link.HardwareAddr = hwAddr
	t.mu.Unlock()
}

// SetClock records clock state.
func (t *Tracker) SetClock(synced, dst bool, lastSync time.Time) {
	t.mu.Lock()
	t.snap.Clock = ClockStatus{Synced: synced, DST: dst, LastSync: lastSync}
	t.mu.Unlock()
}

// SetBoot records the persistent boot counter and the previous fault.
func (t *Tracker) SetBoot(count int, lastFault *Fault) {
	t.mu.Lock()
	t.snap.BootCount = count
	t.snap.LastFault = lastFault
	t.mu.Unlock()
}

// SetTotals seeds a channel's pulse counters, e.g. from persisted totals.
func (t *Tracker) SetTotals(channel string, powerOn, forceShutdown int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.channel(channel); ch != nil {
		ch.PowerOn = powerOn
		ch.ForceShutdown = forceShutdown
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the node state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]ChannelStatus(nil), t.snap.Channels...)
	if t.snap.LastFault != nil {
		f := *t.snap.LastFault
		s.LastFault = &f
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

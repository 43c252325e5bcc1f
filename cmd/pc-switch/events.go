package main

import (
	"log"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
	"github.com/sweeney/pc-switch/internal/mqtt"
	"github.com/sweeney/pc-switch/internal/status"
)

// pulseRecorder persists pulse totals.
type pulseRecorder interface {
	AddPulse(channel string, kind logic.CommandKind) error
}

// clockState is what the status page shows about the clock.
type clockState interface {
	Synced() bool
	DST() bool
	LastSync() time.Time
}

// eventSink fans node events out to the tracker, the store and MQTT.
// Failures are logged; an event is never a reason to stop the node.
type eventSink struct {
	publisher mqtt.Publisher
	tracker   *status.Tracker
	store     pulseRecorder
	// clock, when set, is re-read after syncs and maintenance so the
	// daily DST recompute reaches the tracker.
	clock clockState
}

func newEventSink(publisher mqtt.Publisher, tracker *status.Tracker, store pulseRecorder) *eventSink {
	return &eventSink{publisher: publisher, tracker: tracker, store: store}
}

// Notify implements logic.Notifier.
func (s *eventSink) Notify(e logic.Event) {
	s.tracker.Notify(e)
	if s.clock != nil && (e.Type == logic.EventClockSync || e.Type == logic.EventMaintenance) {
		s.tracker.SetClock(s.clock.Synced(), s.clock.DST(), s.clock.LastSync())
	}

	if e.Type == logic.EventPulse && s.store != nil {
		if err := s.store.AddPulse(e.Channel, e.Command); err != nil {
			log.Printf("store: %v", err)
		}
	}

	if err := s.publisher.Publish(e); err != nil {
		log.Printf("publish error: %v", err)
	}
	if cs, ok := s.publisher.(mqtt.ConnectionStatus); ok {
		s.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

// Package scheduler runs the daily maintenance task: an optional forced
// power-cycle of the host, then clock resync and DST recomputation.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// Defaults.
const (
	DefaultPoll      = 30 * time.Second
	DefaultRebootGap = 3 * time.Second
	DefaultCooldown  = 3600 * time.Second
)

// Clock is the subset of clock.Clock the scheduler uses.
type Clock interface {
	LocalTime() time.Time
	Sync(ctx context.Context) error
	RecomputeDST() bool
}

// Actuator pulses the maintenance channel.
type Actuator interface {
	Name() string
	PowerOn(ctx context.Context) error
	ForceShutdown(ctx context.Context) error
}

// Config controls when maintenance runs and what it does.
type Config struct {
	Hour      int  // local hour, minute 0; negative disables
	Reboot    bool // power-cycle the maintenance channel
	Poll      time.Duration
	RebootGap time.Duration // between forced shutdown and power on
	Cooldown  time.Duration // sleep after firing so the same minute never fires twice
}

// Scheduler fires once per day at Hour:00 local time. A missed minute is
// not caught up; the task simply waits for the next day.
type Scheduler struct {
	clock    Clock
	act      Actuator
	cfg      Config
	notifier logic.Notifier
}

// New creates a Scheduler. act may be nil when Reboot is false; notifier
// may be nil.
func New(clock Clock, act Actuator, cfg Config, notifier logic.Notifier) *Scheduler {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.RebootGap <= 0 {
		cfg.RebootGap = DefaultRebootGap
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Scheduler{clock: clock, act: act, cfg: cfg, notifier: notifier}
}

// Run polls until ctx ends. Actuation failures are returned; a failed
// clock sync is only logged.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Hour < 0 {
		log.Printf("scheduler: daily maintenance disabled")
		return nil
	}
	log.Printf("scheduler: daily maintenance at %02d:00 (reboot=%v)", s.cfg.Hour, s.cfg.Reboot)

	for {
		fired, err := s.Check(ctx)
		if err != nil {
			return err
		}
		wait := s.cfg.Poll
		if fired {
			wait = s.cfg.Cooldown
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Check runs maintenance if it is due and reports whether it ran.
func (s *Scheduler) Check(ctx context.Context) (bool, error) {
	now := s.clock.LocalTime()
	if !logic.MaintenanceDue(now, s.cfg.Hour) {
		return false, nil
	}

	log.Printf("scheduler: running daily maintenance")
	detail := "resync"
	if s.cfg.Reboot && s.act != nil {
		if err := s.powerCycle(ctx); err != nil {
			return true, err
		}
		detail = "power-cycle " + s.act.Name()
	}

	if err := s.clock.Sync(ctx); err != nil {
		log.Printf("scheduler: %v", err)
	} else {
		s.notify(logic.Event{Type: logic.EventClockSync})
	}
	dst := s.clock.RecomputeDST()
	log.Printf("scheduler: maintenance done, dst=%v", dst)

	s.notify(logic.Event{Type: logic.EventMaintenance, Detail: detail})
	return true, nil
}

func (s *Scheduler) powerCycle(ctx context.Context) error {
	log.Printf("scheduler: forcing shutdown of %s", s.act.Name())
	if err := s.act.ForceShutdown(ctx); err != nil {
		return fmt.Errorf("scheduler: force shutdown: %w", err)
	}
	if !sleep(ctx, s.cfg.RebootGap) {
		return ctx.Err()
	}
	log.Printf("scheduler: powering on %s", s.act.Name())
	if err := s.act.PowerOn(ctx); err != nil {
		return fmt.Errorf("scheduler: power on: %w", err)
	}
	return nil
}

func (s *Scheduler) notify(e logic.Event) {
	if s.notifier == nil {
		return
	}
	e.Timestamp = s.clock.LocalTime()
	if s.act != nil && e.Type == logic.EventMaintenance && s.cfg.Reboot {
		e.Channel = s.act.Name()
	}
	s.notifier.Notify(e)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

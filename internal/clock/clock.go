// Package clock keeps the node's local wall clock: a UTC source corrected
// by NTP, plus a fixed timezone offset and US daylight-saving correction.
package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// Syncer measures how far the local UTC source is from true time.
type Syncer interface {
	Offset(ctx context.Context) (time.Duration, error)
}

// Config controls the local time derivation.
type Config struct {
	TZOffset time.Duration // standard-time offset from UTC, e.g. -5h
	DST      bool          // apply US daylight-saving correction
}

// Clock derives local time as UTC + NTP correction + tz offset + DST.
// The DST flag is written by the daily maintenance task only and read by
// everything else; all fields are atomics so readers never block.
type Clock struct {
	cfg    Config
	now    func() time.Time
	syncer Syncer

	offset   atomic.Int64 // NTP correction in nanoseconds
	dst      atomic.Bool
	synced   atomic.Bool
	lastSync atomic.Int64 // unix nanoseconds, 0 if never
}

// New creates a Clock. A nil syncer makes the system clock authoritative:
// the clock counts as synced from the start.
func New(cfg Config, syncer Syncer, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c := &Clock{cfg: cfg, now: now, syncer: syncer}
	if syncer == nil {
		c.markSynced()
	}
	return c
}

// UTC returns the corrected current time in UTC.
func (c *Clock) UTC() time.Time {
	return c.now().UTC().Add(time.Duration(c.offset.Load()))
}

// LocalTime returns the corrected current time in the node's local zone.
func (c *Clock) LocalTime() time.Time {
	return c.localAt(c.UTC(), c.dst.Load())
}

func (c *Clock) localAt(utc time.Time, dst bool) time.Time {
	off := c.cfg.TZOffset
	name := "STD"
	if dst {
		off += time.Hour
		name = "DST"
	}
	return utc.In(time.FixedZone(name, int(off/time.Second)))
}

// Sync measures and applies the NTP correction.
func (c *Clock) Sync(ctx context.Context) error {
	if c.syncer == nil {
		c.markSynced()
		return nil
	}
	off, err := c.syncer.Offset(ctx)
	if err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	c.offset.Store(int64(off))
	c.markSynced()
	return nil
}

func (c *Clock) markSynced() {
	c.synced.Store(true)
	c.lastSync.Store(c.now().UnixNano())
}

// RecomputeDST re-evaluates the DST flag from today's standard-time date
// and returns it. Always false when DST correction is disabled.
func (c *Clock) RecomputeDST() bool {
	if !c.cfg.DST {
		c.dst.Store(false)
		return false
	}
	on := logic.IsDST(c.localAt(c.UTC(), false))
	c.dst.Store(on)
	return on
}

// DST reports the current DST flag.
func (c *Clock) DST() bool {
	return c.dst.Load()
}

// Synced reports whether the clock has been synchronised at least once.
func (c *Clock) Synced() bool {
	return c.synced.Load()
}

// LastSync returns the time of the last successful sync, zero if none.
func (c *Clock) LastSync() time.Time {
	ns := c.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Offset returns the currently applied NTP correction.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Package relay pulses GPIO-driven relay channels.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/pc-switch/internal/gpio"
	"github.com/sweeney/pc-switch/internal/logic"
)

// Default pulse lengths.
const (
	DefaultShort = 200 * time.Millisecond
	DefaultLong  = 7000 * time.Millisecond
)

// Indicator blink timing.
const (
	BlinkDuration   = 2 * time.Second
	BlinkHalfPeriod = 50 * time.Millisecond
)

// ErrNotActuatable is returned when asked to actuate an invalid command.
var ErrNotActuatable = errors.New("relay: command is not actuatable")

// Actuator drives one relay channel. A pulse holds the channel until it
// completes, so concurrent callers on the same channel are serialised.
type Actuator struct {
	name      string
	line      gpio.Line
	short     time.Duration
	long      time.Duration
	indicator *Indicator

	mu sync.Mutex
}

// NewActuator creates an Actuator. indicator may be nil.
func NewActuator(name string, line gpio.Line, short, long time.Duration, indicator *Indicator) *Actuator {
	return &Actuator{
		name:      name,
		line:      line,
		short:     short,
		long:      long,
		indicator: indicator,
	}
}

// Name returns the channel name.
func (a *Actuator) Name() string {
	return a.name
}

// PowerOn drives the channel HIGH for the short duration.
// The indicator, if any, blinks alongside without delaying the pulse.
func (a *Actuator) PowerOn(ctx context.Context) error {
	if a.indicator != nil {
		go a.indicator.Blink(ctx)
	}
	return a.pulse(ctx, a.short)
}

// ForceShutdown drives the channel HIGH for the long duration.
func (a *Actuator) ForceShutdown(ctx context.Context) error {
	return a.pulse(ctx, a.long)
}

// Actuate dispatches a decoded command and returns the pulse length used.
func (a *Actuator) Actuate(ctx context.Context, kind logic.CommandKind) (time.Duration, error) {
	switch kind {
	case logic.CommandPowerOn:
		return a.short, a.PowerOn(ctx)
	case logic.CommandForceShutdown:
		return a.long, a.ForceShutdown(ctx)
	default:
		return 0, ErrNotActuatable
	}
}

// pulse drives the line HIGH, waits d, and drives it LOW. The line is
// driven LOW even when ctx is cancelled mid-pulse.
func (a *Actuator) pulse(ctx context.Context, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.line.Set(true); err != nil {
		return fmt.Errorf("relay %s: drive high: %w", a.name, err)
	}

	var waitErr error
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		waitErr = ctx.Err()
	}

	if err := a.line.Set(false); err != nil {
		return fmt.Errorf("relay %s: drive low: %w", a.name, err)
	}
	return waitErr
}

// Indicator is a visual LED that blinks on power-on.
// Overlapping blink requests collapse into the one already running.
type Indicator struct {
	line     gpio.Line
	duration time.Duration
	half     time.Duration
	busy     atomic.Bool
}

// NewIndicator creates an Indicator with the standard 2s rapid blink.
func NewIndicator(line gpio.Line) *Indicator {
	return &Indicator{line: line, duration: BlinkDuration, half: BlinkHalfPeriod}
}

// Blink toggles the LED until the blink duration elapses or ctx is done.
// Errors are ignored: the indicator is cosmetic.
func (i *Indicator) Blink(ctx context.Context) {
	if !i.busy.CompareAndSwap(false, true) {
		return
	}
	defer i.busy.Store(false)
	defer i.line.Set(false)

	cycles := int(i.duration / (2 * i.half))
	for n := 0; n < cycles; n++ {
		i.line.Set(true)
		if !sleep(ctx, i.half) {
			return
		}
		i.line.Set(false)
		if !sleep(ctx, i.half) {
			return
		}
	}
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

package gpio

import (
	"sync"
	"time"
)

// Transition is one recorded level change of a FakeLine.
type Transition struct {
	High bool
	At   time.Time
}

// FakeLine is a test double that records every level it is driven to.
// Safe for concurrent use; relay pulses run on their own goroutines.
type FakeLine struct {
	mu sync.Mutex

	transitions []Transition
	high        bool
	closed      bool

	// SetError, if set, will be returned by Set()
	SetError error

	// now is the clock used to stamp transitions.
	now func() time.Time
}

// NewFakeLine creates a FakeLine stamped with the wall clock.
func NewFakeLine() *FakeLine {
	return &FakeLine{now: time.Now}
}

// Set records the new level.
func (f *FakeLine) Set(high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.high = high
	f.transitions = append(f.transitions, Transition{High: high, At: f.now()})
	return nil
}

// Close marks the line as closed and drives it LOW, like the real line.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.high = false
	f.closed = true
	return nil
}

// High reports the current level.
func (f *FakeLine) High() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high
}

// Closed reports whether Close was called.
func (f *FakeLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Transitions returns a copy of all recorded level changes.
func (f *FakeLine) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// Pulses returns the length of every completed HIGH→LOW pulse.
func (f *FakeLine) Pulses() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pulses []time.Duration
	var rise time.Time
	rising := false
	for _, tr := range f.transitions {
		switch {
		case tr.High && !rising:
			rise = tr.At
			rising = true
		case !tr.High && rising:
			pulses = append(pulses, tr.At.Sub(rise))
			rising = false
		}
	}
	return pulses
}

// Reset clears recorded transitions.
func (f *FakeLine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = nil
	f.high = false
	f.closed = false
	f.SetError = nil
}

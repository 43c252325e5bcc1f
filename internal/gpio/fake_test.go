package gpio

import (
	"errors"
	"testing"
	"time"
)

func TestFakeLineRecordsTransitions(t *testing.T) {
	f := NewFakeLine()

	if err := f.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.High() {
		t.Error("expected line HIGH after Set(true)")
	}
	if err := f.Set(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.High() {
		t.Error("expected line LOW after Set(false)")
	}

	trs := f.Transitions()
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if !trs[0].High || trs[1].High {
		t.Errorf("expected HIGH then LOW, got %+v", trs)
	}
}

func TestFakeLinePulses(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	steps := []time.Duration{0, 200 * time.Millisecond, time.Second, 8 * time.Second}
	i := 0
	f := &FakeLine{now: func() time.Time {
		ts := base.Add(steps[i])
		i++
		return ts
	}}

	f.Set(true)
	f.Set(false)
	f.Set(true)
	f.Set(false)

	pulses := f.Pulses()
	if len(pulses) != 2 {
		t.Fatalf("expected 2 pulses, got %d", len(pulses))
	}
	if pulses[0] != 200*time.Millisecond {
		t.Errorf("pulse 0: got %v, want 200ms", pulses[0])
	}
	if pulses[1] != 7*time.Second {
		t.Errorf("pulse 1: got %v, want 7s", pulses[1])
	}
}

func TestFakeLineOpenPulseNotCounted(t *testing.T) {
	f := NewFakeLine()
	f.Set(true)

	if got := f.Pulses(); len(got) != 0 {
		t.Errorf("expected no completed pulses, got %v", got)
	}
}

func TestFakeLineError(t *testing.T) {
	f := NewFakeLine()
	f.SetError = errors.New("simulated error")

	err := f.Set(true)
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
	if len(f.Transitions()) != 0 {
		t.Error("failed Set should not be recorded")
	}
}

func TestFakeLineClose(t *testing.T) {
	f := NewFakeLine()
	f.Set(true)

	if f.Closed() {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed() {
		t.Error("should be closed after Close()")
	}
	if f.High() {
		t.Error("Close should leave the line LOW")
	}
}

func TestFakeLineReset(t *testing.T) {
	f := NewFakeLine()
	f.Set(true)
	f.Close()

	f.Reset()

	if len(f.Transitions()) != 0 || f.Closed() || f.High() {
		t.Error("Reset should clear all state")
	}
}

package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

func newTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRecordBootCounts(t *testing.T) {
	s, _ := newTestStore(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b1, err := s.RecordBoot("session-1", at)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Count != 1 || b1.Session != "session-1" {
		t.Errorf("first boot = %+v", b1)
	}

	b2, err := s.RecordBoot("session-2", at.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if b2.Count != 2 {
		t.Errorf("count = %d, want 2", b2.Count)
	}
	if !b2.At.Equal(at.Add(time.Minute)) {
		t.Errorf("at = %v", b2.At)
	}
}

func TestBootSurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.RecordBoot("a", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFault(Fault{Reason: "accept: too many open files", Session: "a", At: time.Now()}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	b, err := s2.RecordBoot("b", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.Count != 2 {
		t.Errorf("count after reopen = %d, want 2", b.Count)
	}
	f, err := s2.LastFault()
	if err != nil {
		t.Fatal(err)
	}
	if f.Reason != "accept: too many open files" || f.Session != "a" {
		t.Errorf("fault = %+v", f)
	}
}

func TestLastFaultNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.LastFault()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPulseTotals(t *testing.T) {
	s, _ := newTestStore(t)

	for _, p := range []struct {
		ch   string
		kind logic.CommandKind
	}{
		{"pc1", logic.CommandPowerOn},
		{"pc1", logic.CommandPowerOn},
		{"pc1", logic.CommandForceShutdown},
		{"pc2", logic.CommandPowerOn},
	} {
		if err := s.AddPulse(p.ch, p.kind); err != nil {
			t.Fatal(err)
		}
	}

	totals, err := s.PulseTotals()
	if err != nil {
		t.Fatal(err)
	}
	if got := totals["pc1"]; got.PowerOn != 2 || got.ForceShutdown != 1 {
		t.Errorf("pc1 = %+v", got)
	}
	if got := totals["pc2"]; got.PowerOn != 1 || got.ForceShutdown != 0 {
		t.Errorf("pc2 = %+v", got)
	}
}

func TestAddPulseRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.AddPulse("pc1", logic.CommandInvalid); err == nil {
		t.Error("expected error for invalid command")
	}
	totals, _ := s.PulseTotals()
	if len(totals) != 0 {
		t.Errorf("totals = %v, want empty", totals)
	}
}

func TestPreviousFaultOnlyForLastSession(t *testing.T) {
	s, _ := newTestStore(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b1, err := s.RecordBoot("a", at)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Previous != "" {
		t.Errorf("first boot previous = %q, want empty", b1.Previous)
	}
	if _, err := s.PreviousFault(b1); !errors.Is(err, ErrNotFound) {
		t.Errorf("first boot: err = %v, want ErrNotFound", err)
	}
	if err := s.RecordFault(Fault{Reason: "server pc: relay stuck", Session: "a", At: at}); err != nil {
		t.Fatal(err)
	}

	// Restart after the fault reports it.
	b2, err := s.RecordBoot("b", at.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if b2.Previous != "a" {
		t.Errorf("previous = %q, want a", b2.Previous)
	}
	f, err := s.PreviousFault(b2)
	if err != nil {
		t.Fatal(err)
	}
	if f.Reason != "server pc: relay stuck" {
		t.Errorf("reason = %q", f.Reason)
	}

	// Session b stopped cleanly, so the next boot has nothing to report.
	b3, err := s.RecordBoot("c", at.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PreviousFault(b3); !errors.Is(err, ErrNotFound) {
		t.Errorf("third boot: err = %v, want ErrNotFound", err)
	}
}

// Package netlink keeps the node on the network: it joins the configured
// network with unbounded retries and watches liveness with an outbound
// probe, rejoining through the same procedure when the probe fails.
package netlink

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// State of the network link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Info describes an established link.
type Info struct {
	IP           string
	HardwareAddr string
}

// Link joins the network. Join must return once the link reports both an
// address and a positive liveness signal, or when ctx is done.
type Link interface {
	Join(ctx context.Context) (Info, error)
}

// Prober checks that the network path beyond the local link works.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config holds the supervisor's timing.
type Config struct {
	ConnectTimeout time.Duration // per attempt; 0 means no limit
	RetryBackoff   time.Duration // between failed attempts
	CheckInterval  time.Duration // between probes; 0 disables Watch
}

// Supervisor owns the link state. Only Connect and Watch mutate it.
type Supervisor struct {
	link     Link
	prober   Prober
	cfg      Config
	notifier logic.Notifier
	now      func() time.Time

	// connectMu keeps a single connection attempt in flight.
	connectMu sync.Mutex

	mu    sync.RWMutex
	state State
	info  Info
	hooks []func(Info)

	joins     atomic.Int64
	reconnect atomic.Int64
}

// New creates a Supervisor. notifier may be nil.
func New(link Link, prober Prober, cfg Config, notifier logic.Notifier) *Supervisor {
	return &Supervisor{
		link:     link,
		prober:   prober,
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

// OnConnected registers fn to run after every successful Connect,
// including reconnections. Register before calling Connect.
func (s *Supervisor) OnConnected(fn func(Info)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// State returns the current link state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns the address details of the last successful join.
func (s *Supervisor) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Attempts returns the number of join attempts made so far.
func (s *Supervisor) Attempts() int64 {
	return s.joins.Load()
}

// Reconnects returns how many times Watch had to rejoin.
func (s *Supervisor) Reconnects() int64 {
	return s.reconnect.Load()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect joins the network, retrying forever with a fixed backoff. It
// returns nil once connected, or ctx's error if ctx ends first.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	for attempt := 1; ; attempt++ {
		s.setState(Connecting)
		log.Printf("netlink: waiting for connection (attempt %d)", attempt)

		s.joins.Add(1)
		actx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.ConnectTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		}
		info, err := s.link.Join(actx)
		cancel()

		if err == nil {
			s.mu.Lock()
			s.state = Connected
			s.info = info
			hooks := append([]func(Info){}, s.hooks...)
			s.mu.Unlock()

			log.Printf("netlink: connected, ip=%s hw=%s", info.IP, info.HardwareAddr)
			s.notify(logic.Event{Type: logic.EventLinkUp, Detail: info.IP})
			for _, fn := range hooks {
				fn(info)
			}
			return nil
		}

		if ctx.Err() != nil {
			s.setState(Disconnected)
			return ctx.Err()
		}
		log.Printf("netlink: connection failed: %v; reattempting in %v", err, s.cfg.RetryBackoff)
		if !sleep(ctx, s.cfg.RetryBackoff) {
			s.setState(Disconnected)
			return ctx.Err()
		}
	}
}

// Watch probes liveness every CheckInterval and rejoins on failure. It
// returns nil straight away when the interval is 0, otherwise only when
// ctx ends.
func (s *Supervisor) Watch(ctx context.Context) error {
	if s.cfg.CheckInterval <= 0 {
		log.Printf("netlink: connectivity checks disabled")
		return nil
	}

	for {
		if !sleep(ctx, s.cfg.CheckInterval) {
			return ctx.Err()
		}

		err := s.prober.Probe(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Printf("netlink: connectivity check failed: %v", err)
		s.setState(Disconnected)
		s.notify(logic.Event{Type: logic.EventLinkDown, Detail: err.Error()})
		s.reconnect.Add(1)
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
}

func (s *Supervisor) notify(e logic.Event) {
	if s.notifier == nil {
		return
	}
	e.Timestamp = s.now()
	s.notifier.Notify(e)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package supervisor owns every long-lived resource of the node and runs
// the task set. Any task failure is treated as unrecoverable: resources are
// torn down and the node restarts. There is no degraded mode.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/pc-switch/internal/logic"
	"github.com/sweeney/pc-switch/internal/mqtt"
	"github.com/sweeney/pc-switch/internal/server"
	"github.com/sweeney/pc-switch/internal/store"
)

// DefaultHost is the address command listeners bind to.
const DefaultHost = "0.0.0.0"

// ErrTasksExited is reported when every task returned without error while
// the node was still meant to be running.
var ErrTasksExited = errors.New("all tasks exited")

// Network brings the link up and keeps it up.
type Network interface {
	Connect(ctx context.Context) error
	Watch(ctx context.Context) error
}

// Runner is a long-running task such as the maintenance scheduler.
type Runner interface {
	Run(ctx context.Context) error
}

// HTTPServer serves the status page on a listener until ctx is done.
type HTTPServer interface {
	Run(ctx context.Context, ln net.Listener) error
}

// Advertiser is stopped during teardown.
type Advertiser interface {
	Shutdown()
}

// FaultRecorder persists the reason for a restart.
type FaultRecorder interface {
	RecordFault(f store.Fault) error
}

// Channel binds a relay actuator to a TCP port.
type Channel struct {
	Name     string
	Port     int
	Actuator server.Actuator
}

// Resources are everything the supervisor runs and tears down. Only
// Network, Channels and Restarter are required.
type Resources struct {
	Network     Network
	Channels    []Channel
	Host        string
	ReadTimeout time.Duration
	Notifier    logic.Notifier

	Scheduler Runner
	HTTP      HTTPServer
	HTTPAddr  string

	Advertiser Advertiser
	Store      FaultRecorder
	Publisher  mqtt.Publisher
	LogSink    io.Closer
	Session    string

	// Closers release hardware and storage after the fault is recorded.
	Closers []io.Closer

	Restarter Restarter
}

// Supervisor runs the node until a fault or a stop request.
type Supervisor struct {
	res    Resources
	listen func(network, addr string) (net.Listener, error)
	now    func() time.Time

	mu        sync.Mutex
	listeners []net.Listener
	ready     chan struct{}
}

// New creates a Supervisor.
func New(res Resources) *Supervisor {
	if res.Host == "" {
		res.Host = DefaultHost
	}
	if res.Publisher == nil {
		res.Publisher = mqtt.NopPublisher{}
	}
	if res.Restarter == nil {
		res.Restarter = NopRestarter{}
	}
	return &Supervisor{
		res:    res,
		listen: net.Listen,
		now:    time.Now,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once every command listener is bound.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Addrs returns the bound command listener addresses in channel order.
func (s *Supervisor) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Run connects, binds one listener per channel and runs every task until
// one fails or ctx is cancelled. A cancelled ctx is a clean stop: resources
// are torn down and nil is returned. Any other outcome is a fault: after
// teardown the restarter is invoked and the fault is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	fault := s.run(ctx)
	if ctx.Err() != nil {
		s.teardown(ctx, "")
		return nil
	}
	if fault == nil {
		fault = ErrTasksExited
	}
	log.Printf("supervisor: unhandled fault: %v", fault)
	s.teardown(ctx, fault.Error())

	if err := s.res.Restarter.Restart(fault.Error()); err != nil {
		log.Printf("supervisor: restart failed: %v", err)
	}
	return fault
}

func (s *Supervisor) run(ctx context.Context) error {
	log.Printf("supervisor: connecting to network")
	if err := s.res.Network.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := s.bind(); err != nil {
		return err
	}
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	s.spawn(gctx, g, "watch", s.res.Network.Watch)

	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for i, ch := range s.res.Channels {
		srv := server.New(listeners[i], ch.Actuator, s.res.ReadTimeout, s.res.Notifier)
		s.spawn(gctx, g, "server "+ch.Name, srv.Serve)
	}

	if s.res.Scheduler != nil {
		s.spawn(gctx, g, "scheduler", s.res.Scheduler.Run)
	}

	if s.res.HTTP != nil && s.res.HTTPAddr != "" {
		// The status page is optional: a bind failure is logged, not fatal.
		ln, err := s.listen("tcp", s.res.HTTPAddr)
		if err != nil {
			log.Printf("supervisor: status page disabled: %v", err)
		} else {
			log.Printf("supervisor: status page on %s", ln.Addr())
			s.spawn(gctx, g, "http", func(ctx context.Context) error {
				return s.res.HTTP.Run(ctx, ln)
			})
		}
	}

	return g.Wait()
}

// bind opens one listener per channel. Listeners stay open across link
// drops and are only closed during teardown.
func (s *Supervisor) bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.res.Channels {
		addr := net.JoinHostPort(s.res.Host, strconv.Itoa(ch.Port))
		ln, err := s.listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("bind %s (%s): %w", ch.Name, addr, err)
		}
		log.Printf("supervisor: channel %s listening on %s", ch.Name, ln.Addr())
		s.listeners = append(s.listeners, ln)
	}
	return nil
}

// spawn runs fn in the group, turning a panic into a task error. Task
// errors already carry their component prefix.
func (s *Supervisor) spawn(ctx context.Context, g *errgroup.Group, name string, fn func(context.Context) error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		return fn(ctx)
	})
}

// teardown releases every resource. An empty reason means a requested stop.
func (s *Supervisor) teardown(ctx context.Context, reason string) {
	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
	s.mu.Unlock()

	if s.res.Advertiser != nil {
		s.res.Advertiser.Shutdown()
	}

	now := s.now()
	event := mqtt.SystemEvent{Timestamp: now, Session: s.res.Session, Retained: true}
	if reason != "" {
		if s.res.Store != nil {
			if err := s.res.Store.RecordFault(store.Fault{Reason: reason, Session: s.res.Session, At: now}); err != nil {
				log.Printf("supervisor: record fault: %v", err)
			}
		}
		event.Event = "FAULT"
		event.Reason = reason
	} else {
		event.Event = "SHUTDOWN"
		event.Reason = context.Cause(ctx).Error()
	}
	if err := s.res.Publisher.PublishSystem(event); err != nil {
		log.Printf("supervisor: publish %s: %v", event.Event, err)
	}
	s.res.Publisher.Close()

	for _, c := range s.res.Closers {
		if err := c.Close(); err != nil {
			log.Printf("supervisor: close: %v", err)
		}
	}

	log.Printf("supervisor: teardown complete")
	if s.res.LogSink != nil {
		s.res.LogSink.Close()
	}
}

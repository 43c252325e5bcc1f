package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pc-switch/internal/gpio"
	"github.com/sweeney/pc-switch/internal/logic"
	"github.com/sweeney/pc-switch/internal/mqtt"
	"github.com/sweeney/pc-switch/internal/netlink"
	"github.com/sweeney/pc-switch/internal/relay"
	"github.com/sweeney/pc-switch/internal/store"
)

const (
	testShort = 10 * time.Millisecond
	testLong  = 30 * time.Millisecond
)

type fakeLink struct {
	joins atomic.Int32
}

func (f *fakeLink) Join(ctx context.Context) (netlink.Info, error) {
	f.joins.Add(1)
	return netlink.Info{IP: "127.0.0.1", HardwareAddr: "02:00:00:00:00:01"}, nil
}

type fakeProber struct {
	failures atomic.Int32
}

func (f *fakeProber) Probe(ctx context.Context) error {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("probe: no route")
	}
	return nil
}

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRestarter) Restart(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeRestarter) Reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

type fakeStore struct {
	mu     sync.Mutex
	faults []store.Fault
}

func (f *fakeStore) RecordFault(fault store.Fault) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault)
	return nil
}

type fakeAdvertiser struct {
	shutdowns atomic.Int32
}

func (f *fakeAdvertiser) Shutdown() { f.shutdowns.Add(1) }

type fakeSink struct {
	closed atomic.Bool
}

func (f *fakeSink) Close() error {
	f.closed.Store(true)
	return nil
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

type fixture struct {
	link      *fakeLink
	prober    *fakeProber
	net       *netlink.Supervisor
	line      *gpio.FakeLine
	pub       *mqtt.FakePublisher
	store     *fakeStore
	adv       *fakeAdvertiser
	sink      *fakeSink
	restarter *fakeRestarter
	res       Resources
}

func newFixture(checkInterval time.Duration) *fixture {
	f := &fixture{
		link:      &fakeLink{},
		prober:    &fakeProber{},
		line:      gpio.NewFakeLine(),
		pub:       mqtt.NewFakePublisher(),
		store:     &fakeStore{},
		adv:       &fakeAdvertiser{},
		sink:      &fakeSink{},
		restarter: &fakeRestarter{},
	}
	f.net = netlink.New(f.link, f.prober, netlink.Config{
		ConnectTimeout: time.Second,
		RetryBackoff:   10 * time.Millisecond,
		CheckInterval:  checkInterval,
	}, nil)
	f.res = Resources{
		Network:     f.net,
		Channels:    []Channel{{Name: "pc", Port: 0, Actuator: relay.NewActuator("pc", f.line, testShort, testLong, nil)}},
		Host:        "127.0.0.1",
		ReadTimeout: 200 * time.Millisecond,
		Advertiser:  f.adv,
		Store:       f.store,
		Publisher:   f.pub,
		LogSink:     f.sink,
		Session:     "sess-1",
		Closers:     []io.Closer{f.line},
		Restarter:   f.restarter,
	}
	return f
}

func start(t *testing.T, sup *Supervisor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-sup.Ready():
	case err := <-done:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never became ready")
	}
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func send(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	conn.(*net.TCPConn).CloseWrite()
	// The server closes once it has decided.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	conn.Read(buf)
}

func TestRunPulsesAndStopsCleanly(t *testing.T) {
	f := newFixture(0)
	sup := New(f.res)
	cancel, done := start(t, sup)

	addrs := sup.Addrs()
	require.Len(t, addrs, 1)

	send(t, addrs[0], `{"gpio":"on"}`)
	require.Eventually(t, func() bool { return len(f.line.Pulses()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))

	assert.Empty(t, f.restarter.Reasons(), "a requested stop must not restart")
	assert.Equal(t, []string{"SHUTDOWN"}, f.pub.SystemEventNames())
	assert.Equal(t, "sess-1", f.pub.SystemEvents[0].Session)
	assert.True(t, f.pub.Closed)
	assert.Equal(t, int32(1), f.adv.shutdowns.Load())
	assert.True(t, f.sink.closed.Load())
	assert.Empty(t, f.store.faults)
	assert.True(t, f.line.Closed(), "relay line should be released")

	_, err := net.DialTimeout("tcp", addrs[0].String(), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed after teardown")
}

func TestReconnectKeepsServersListening(t *testing.T) {
	f := newFixture(20 * time.Millisecond)
	f.prober.failures.Store(2)

	sup := New(f.res)
	cancel, done := start(t, sup)
	addr := sup.Addrs()[0]

	require.Eventually(t, func() bool { return f.net.Reconnects() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.link.joins.Load(), int32(3))

	send(t, addr, `{"gpio":"fs"}`)
	require.Eventually(t, func() bool { return len(f.line.Pulses()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.line.Pulses()[0], testLong)

	cancel()
	require.NoError(t, wait(t, done))
	assert.Empty(t, f.restarter.Reasons())
}

func TestActuationFaultTearsDownAndRestarts(t *testing.T) {
	f := newFixture(0)
	f.line.SetError = errors.New("gpio: line busy")

	sup := New(f.res)
	_, done := start(t, sup)

	send(t, sup.Addrs()[0], `{"gpio":"on"}`)
	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server pc")
	assert.Contains(t, err.Error(), "line busy")

	reasons := f.restarter.Reasons()
	require.Len(t, reasons, 1)
	assert.Equal(t, err.Error(), reasons[0])

	require.Len(t, f.store.faults, 1)
	assert.Equal(t, "sess-1", f.store.faults[0].Session)
	assert.Equal(t, err.Error(), f.store.faults[0].Reason)

	assert.Equal(t, []string{"FAULT"}, f.pub.SystemEventNames())
	assert.True(t, f.pub.SystemEvents[0].Retained)
	assert.Equal(t, int32(1), f.adv.shutdowns.Load())
	assert.True(t, f.sink.closed.Load())
}

func TestRejectedCommandIsNotAFault(t *testing.T) {
	f := newFixture(0)
	var mu sync.Mutex
	var events []logic.Event
	f.res.Notifier = logic.NotifierFunc(func(e logic.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	sup := New(f.res)
	cancel, done := start(t, sup)

	send(t, sup.Addrs()[0], `{"gpio":"xyz"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, logic.EventRejected, events[0].Type)
	mu.Unlock()
	assert.Empty(t, f.line.Transitions())

	cancel()
	require.NoError(t, wait(t, done))
}

func TestSchedulerPanicIsAFault(t *testing.T) {
	f := newFixture(0)
	f.res.Scheduler = runnerFunc(func(ctx context.Context) error {
		panic("clock went backwards")
	})

	sup := New(f.res)
	err := wait(t, runAsync(sup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler: panic: clock went backwards")
	assert.Len(t, f.restarter.Reasons(), 1)
}

func TestSchedulerErrorIsAFault(t *testing.T) {
	f := newFixture(0)
	f.res.Scheduler = runnerFunc(func(ctx context.Context) error {
		return errors.New("force shutdown failed")
	})

	err := wait(t, runAsync(New(f.res)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force shutdown failed")
}

func TestBindFailureIsAFault(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	f := newFixture(0)
	f.res.Channels[0].Port = busy.Addr().(*net.TCPAddr).Port

	err = wait(t, runAsync(New(f.res)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind pc")
	assert.Len(t, f.restarter.Reasons(), 1)
	assert.Len(t, f.store.faults, 1)
}

func TestCancelDuringConnectIsCleanStop(t *testing.T) {
	f := newFixture(0)
	f.res.Network = blockingNetwork{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(f.res).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, wait(t, done))
	assert.Empty(t, f.restarter.Reasons())
	assert.Equal(t, []string{"SHUTDOWN"}, f.pub.SystemEventNames())
}

func TestHTTPTaskRunsAndStops(t *testing.T) {
	f := newFixture(0)
	var served atomic.Bool
	f.res.HTTPAddr = "127.0.0.1:0"
	f.res.HTTP = httpFunc(func(ctx context.Context, ln net.Listener) error {
		served.Store(true)
		<-ctx.Done()
		return ln.Close()
	})

	sup := New(f.res)
	cancel, done := start(t, sup)
	require.Eventually(t, served.Load, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestMultipleChannelsBindIndependently(t *testing.T) {
	f := newFixture(0)
	nas := gpio.NewFakeLine()
	f.res.Channels = append(f.res.Channels, Channel{
		Name:     "nas",
		Actuator: relay.NewActuator("nas", nas, testShort, testLong, nil),
	})

	sup := New(f.res)
	cancel, done := start(t, sup)
	addrs := sup.Addrs()
	require.Len(t, addrs, 2)
	assert.NotEqual(t, addrs[0].String(), addrs[1].String())

	send(t, addrs[1], `{"gpio":"on"}`)
	require.Eventually(t, func() bool { return len(nas.Pulses()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.line.Pulses())

	cancel()
	require.NoError(t, wait(t, done))
}

type blockingNetwork struct{}

func (blockingNetwork) Connect(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingNetwork) Watch(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type httpFunc func(ctx context.Context, ln net.Listener) error

func (f httpFunc) Run(ctx context.Context, ln net.Listener) error { return f(ctx, ln) }

func runAsync(sup *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()
	return done
}

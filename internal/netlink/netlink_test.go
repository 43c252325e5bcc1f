package netlink

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pc-switch/internal/logic"
)

type fakeLink struct {
	mu       sync.Mutex
	failures int // fail this many joins before succeeding
	joins    int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
	info     Info
}

func (f *fakeLink) Join(ctx context.Context) (Info, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.failures > 0 {
		f.failures--
		return Info{}, errors.New("association failed")
	}
	return f.info, nil
}

func (f *fakeLink) Joins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

type fakeProber struct {
	failures atomic.Int32
	probes   atomic.Int32
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.probes.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("no route to host")
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []logic.Event
}

func (r *recorder) Notify(e logic.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Types() []logic.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logic.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var testCfg = Config{
	ConnectTimeout: 100 * time.Millisecond,
	RetryBackoff:   5 * time.Millisecond,
	CheckInterval:  10 * time.Millisecond,
}

func TestConnectFirstTry(t *testing.T) {
	link := &fakeLink{info: Info{IP: "192.168.1.100", HardwareAddr: "28:cd:c1:00:00:01"}}
	rec := &recorder{}
	s := New(link, &fakeProber{}, testCfg, rec)

	assert.Equal(t, Disconnected, s.State())
	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, "192.168.1.100", s.Info().IP)
	assert.Equal(t, "28:cd:c1:00:00:01", s.Info().HardwareAddr)
	assert.Equal(t, int64(1), s.Attempts())
	assert.Equal(t, []logic.EventType{logic.EventLinkUp}, rec.Types())
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	link := &fakeLink{failures: 5, info: Info{IP: "10.0.0.5"}}
	s := New(link, &fakeProber{}, testCfg, nil)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 6, link.Joins())
	assert.Equal(t, Connected, s.State())
}

func TestConnectStopsOnContextCancel(t *testing.T) {
	link := &fakeLink{failures: 1 << 30}
	s := New(link, &fakeProber{}, testCfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Disconnected, s.State())
	assert.Greater(t, link.Joins(), 1)
}

func TestConnectAttemptIsBoundedByTimeout(t *testing.T) {
	blocking := linkFunc(func(ctx context.Context) (Info, error) {
		<-ctx.Done()
		return Info{}, ctx.Err()
	})
	s := New(blocking, &fakeProber{}, Config{ConnectTimeout: 20 * time.Millisecond, RetryBackoff: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	s.Connect(ctx)
	assert.GreaterOrEqual(t, s.Attempts(), int64(3), "each attempt must give up after ConnectTimeout")
}

func TestConnectSingleAttemptInFlight(t *testing.T) {
	link := &fakeLink{hold: 10 * time.Millisecond}
	s := New(link, &fakeProber{}, testCfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Connect(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), link.maxSeen.Load())
	assert.Equal(t, 4, link.Joins())
}

func TestWatchReconnectsWithSameProcedure(t *testing.T) {
	link := &fakeLink{info: Info{IP: "10.0.0.5"}}
	prober := &fakeProber{}
	rec := &recorder{}
	s := New(link, prober, testCfg, rec)

	var hookCalls atomic.Int32
	s.OnConnected(func(Info) { hookCalls.Add(1) })

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, 1, link.Joins())

	prober.failures.Store(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.Eventually(t, func() bool { return s.Reconnects() == 1 && s.State() == Connected }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 2, link.Joins(), "watchdog must rejoin through Connect")
	assert.Equal(t, int32(2), hookCalls.Load(), "hooks run on boot and on reconnect")
	assert.Equal(t, []logic.EventType{logic.EventLinkUp, logic.EventLinkDown, logic.EventLinkUp}, rec.Types())
}

func TestWatchDisabled(t *testing.T) {
	prober := &fakeProber{}
	s := New(&fakeLink{}, prober, Config{ConnectTimeout: time.Second}, nil)

	assert.NoError(t, s.Watch(context.Background()))
	assert.Equal(t, int32(0), prober.probes.Load())
}

func TestWatchHealthyNeverRejoins(t *testing.T) {
	link := &fakeLink{}
	prober := &fakeProber{}
	s := New(link, prober, testCfg, nil)
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Watch(ctx)

	assert.Greater(t, prober.probes.Load(), int32(1))
	assert.Equal(t, 1, link.Joins())
	assert.Equal(t, Connected, s.State())
}

type linkFunc func(ctx context.Context) (Info, error)

func (f linkFunc) Join(ctx context.Context) (Info, error) { return f(ctx) }

func TestInterfaceLinkJoin(t *testing.T) {
	var gotArgs []string
	lookups := 0
	l := NewInterfaceLink("wlan0", "lab", "pw")
	l.run = func(ctx context.Context, name string, args ...string) error {
		gotArgs = append([]string{name}, args...)
		return nil
	}
	l.lookup = func(name string) (Info, error) {
		lookups++
		if lookups < 3 {
			return Info{}, ErrNoAddress
		}
		return Info{IP: "192.168.1.7", HardwareAddr: "aa:bb:cc:dd:ee:ff"}, nil
	}

	info, err := l.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.7", info.IP)
	assert.Equal(t, []string{"nmcli", "device", "wifi", "connect", "lab", "password", "pw", "ifname", "wlan0"}, gotArgs)
	assert.Equal(t, 3, lookups)
}

func TestInterfaceLinkJoinWithoutSSIDOnlyWaits(t *testing.T) {
	l := NewInterfaceLink("eth0", "", "")
	l.run = func(ctx context.Context, name string, args ...string) error {
		t.Fatal("no join command expected without an SSID")
		return nil
	}
	l.lookup = func(name string) (Info, error) { return Info{IP: "10.0.0.2"}, nil }

	info, err := l.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", info.IP)
}

func TestInterfaceLinkJoinTimeout(t *testing.T) {
	l := NewInterfaceLink("wlan0", "", "")
	l.lookup = func(name string) (Info, error) { return Info{}, ErrDown }
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Join(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInterfaceLinkJoinCommandError(t *testing.T) {
	l := NewInterfaceLink("wlan0", "lab", "")
	l.run = func(ctx context.Context, name string, args ...string) error {
		return errors.New("secrets were required")
	}

	_, err := l.Join(context.Background())
	assert.ErrorContains(t, err, "secrets were required")
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := TCPProber{Addr: ln.Addr().String(), Timeout: time.Second}
	assert.NoError(t, p.Probe(context.Background()))

	addr := ln.Addr().String()
	ln.Close()
	p = TCPProber{Addr: addr, Timeout: 200 * time.Millisecond}
	assert.Error(t, p.Probe(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
	assert.Equal(t, "CONNECTING", Connecting.String())
	assert.Equal(t, "CONNECTED", Connected.String())
}

// Command pc-switch pulses GPIO relays wired to a PC's power button when a
// JSON command arrives on a TCP port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/pc-switch/internal/clock"
	"github.com/sweeney/pc-switch/internal/config"
	"github.com/sweeney/pc-switch/internal/discovery"
	"github.com/sweeney/pc-switch/internal/gpio"
	"github.com/sweeney/pc-switch/internal/logic"
	"github.com/sweeney/pc-switch/internal/mqtt"
	"github.com/sweeney/pc-switch/internal/netlink"
	"github.com/sweeney/pc-switch/internal/relay"
	"github.com/sweeney/pc-switch/internal/scheduler"
	"github.com/sweeney/pc-switch/internal/status"
	"github.com/sweeney/pc-switch/internal/store"
	"github.com/sweeney/pc-switch/internal/supervisor"
	"github.com/sweeney/pc-switch/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (empty for built-in defaults)")
	envFile := flag.String("env-file", config.DefaultEnvFile, "Env file with network credentials")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	pulse := flag.String("pulse", "", `Pulse one channel locally and exit, e.g. "pc:on" or "pc:fs"`)

	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if *printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(data)
		return
	}

	if *pulse != "" {
		if err := runPulse(cfg, *pulse); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parsePulse splits a -pulse value into a channel name and command.
func parsePulse(s string) (string, logic.CommandKind, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return "", logic.CommandInvalid, fmt.Errorf("pulse %q: want channel:%s or channel:%s", s, logic.ValuePowerOn, logic.ValueForceShutdown)
	}
	switch value {
	case logic.ValuePowerOn:
		return name, logic.CommandPowerOn, nil
	case logic.ValueForceShutdown:
		return name, logic.CommandForceShutdown, nil
	default:
		return "", logic.CommandInvalid, fmt.Errorf("pulse %q: unknown command %q", s, value)
	}
}

// runPulse drives one pulse without touching the network. For bench tests.
func runPulse(cfg *config.Config, arg string) error {
	name, kind, err := parsePulse(arg)
	if err != nil {
		return err
	}
	ch, ok := cfg.Channel(name)
	if !ok {
		return fmt.Errorf("pulse: no channel %q", name)
	}

	chip, err := gpio.OpenChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()
	line, err := chip.Output(ch.Pin)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer line.Close()

	act := relay.NewActuator(ch.Name, line, ch.Short, ch.Long, nil)
	d, err := act.Actuate(context.Background(), kind)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s pulse of %v on pin %d\n", ch.Name, kind, d, ch.Pin)
	return nil
}

// setupLogging routes the standard logger through the clock's timestamp
// writer, tee'd to a file when enabled. The returned closer is nil when no
// file is open.
func setupLogging(clk *clock.Clock, cfg config.Logging) (io.Closer, error) {
	log.SetFlags(0)
	var out io.Writer = os.Stderr
	var sink io.Closer
	if cfg.Enabled {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		sink = f
	}
	log.SetOutput(clock.NewLogWriter(clk, out))
	return sink, nil
}

func newClock(cfg *config.Config) *clock.Clock {
	var syncer clock.Syncer
	if cfg.Clock.NTPServer != "" {
		syncer = clock.NTPSyncer{Server: cfg.Clock.NTPServer, Timeout: 5 * time.Second}
	}
	clk := clock.New(clock.Config{TZOffset: cfg.TZOffset(), DST: cfg.Clock.DST}, syncer, nil)
	clk.RecomputeDST()
	return clk
}

func statusConfig(cfg *config.Config) status.Config {
	sc := status.Config{
		Node:            cfg.Node,
		Broker:          cfg.MQTT.Broker,
		HTTPAddr:        cfg.HTTP.Listen,
		ReadTimeout:     cfg.Server.ReadTimeout,
		CheckInterval:   cfg.Network.CheckInterval,
		MaintenanceHour: cfg.Maintenance.Hour,
		Reboot:          cfg.Maintenance.Reboot,
	}
	for _, ch := range cfg.Channels {
		sc.Channels = append(sc.Channels, status.ChannelConfig{Name: ch.Name, Pin: ch.Pin, Port: ch.Port})
	}
	return sc
}

func services(cfg *config.Config) []discovery.Service {
	out := make([]discovery.Service, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		out = append(out, discovery.Service{
			Instance: cfg.Node + "-" + ch.Name,
			Port:     ch.Port,
			Channel:  ch.Name,
			Pin:      ch.Pin,
		})
	}
	return out
}

func newPublisher(cfg *config.Config) mqtt.Publisher {
	if cfg.MQTT.Broker == "" {
		log.Printf("mqtt: no broker configured, events are not published")
		return mqtt.NopPublisher{}
	}
	events, system := mqtt.Topics(cfg.MQTT.TopicPrefix, cfg.Node)
	return mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    "pc-switch-" + cfg.Node,
		EventsTopic: events,
		SystemTopic: system,
	})
}

func run(cfg *config.Config) error {
	clk := newClock(cfg)
	logSink, err := setupLogging(clk, cfg.Logging)
	if err != nil {
		return err
	}

	session := uuid.New().String()
	log.Printf("main: beginning a new session %s on %s", session, cfg.Node)

	// Everything opened from here on is released by the supervisor's
	// teardown, or by closeAll if start-up fails first.
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	closers = append(closers, st)

	boot, err := st.RecordBoot(session, time.Now())
	if err != nil {
		closeAll()
		return fmt.Errorf("record boot: %w", err)
	}
	log.Printf("main: boot #%d", boot.Count)

	var lastFault *status.Fault
	switch f, err := st.PreviousFault(boot); {
	case err == nil:
		log.Printf("main: previous session %s ended with fault: %s", f.Session, f.Reason)
		lastFault = &status.Fault{Reason: f.Reason, At: f.At}
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("main: read last fault: %v", err)
	}

	actuators, hw, err := openRelays(cfg)
	if err != nil {
		closeAll()
		return err
	}
	closers = append(closers, hw...)

	publisher := newPublisher(cfg)

	tracker := status.NewTracker(time.Now(), session, statusConfig(cfg))
	tracker.SetBoot(boot.Count, lastFault)
	if totals, err := st.PulseTotals(); err != nil {
		log.Printf("main: read pulse totals: %v", err)
	} else {
		for name, t := range totals {
			tracker.SetTotals(name, t.PowerOn, t.ForceShutdown)
		}
	}

	sink := newEventSink(publisher, tracker, st)
	sink.clock = clk

	link := netlink.NewInterfaceLink(cfg.WiFi.Interface, cfg.WiFi.SSID, cfg.WiFi.Password)
	prober := netlink.TCPProber{Addr: cfg.Network.ProbeAddr, Timeout: cfg.Network.ProbeTimeout}
	network := netlink.New(link, prober, netlink.Config{
		ConnectTimeout: cfg.Network.ConnectTimeout,
		RetryBackoff:   cfg.Network.RetryBackoff,
		CheckInterval:  cfg.Network.CheckInterval,
	}, sink)

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(cfg.WiFi.Interface)
	}
	network.OnConnected(func(info netlink.Info) {
		log.Printf("main: connected, ip=%s mac=%s", info.IP, info.HardwareAddr)
		tracker.SetLinkInfo(info.IP, info.HardwareAddr)
		syncClock(clk, tracker, sink)
		if advertiser != nil {
			if err := advertiser.Advertise(services(cfg)); err != nil {
				log.Printf("main: %v", err)
			}
		}
	})

	var maint scheduler.Actuator
	if a, ok := actuators[cfg.Maintenance.Channel]; ok {
		maint = a
	}
	sched := scheduler.New(clk, maint, scheduler.Config{
		Hour:   cfg.Maintenance.Hour,
		Reboot: cfg.Maintenance.Reboot,
	}, sink)

	restarter, err := supervisor.NewRestarter(cfg.Restart.Mode)
	if err != nil {
		closeAll()
		return err
	}

	res := supervisor.Resources{
		Network:     network,
		ReadTimeout: cfg.Server.ReadTimeout,
		Notifier:    sink,
		Scheduler:   sched,
		Store:       st,
		Publisher:   publisher,
		Session:     session,
		Closers:     closers,
		Restarter:   restarter,
	}
	for _, ch := range cfg.Channels {
		res.Channels = append(res.Channels, supervisor.Channel{Name: ch.Name, Port: ch.Port, Actuator: actuators[ch.Name]})
	}
	if advertiser != nil {
		res.Advertiser = advertiser
	}
	if cfg.HTTP.Listen != "" {
		res.HTTP = web.New(cfg.HTTP.Listen, tracker)
		res.HTTPAddr = cfg.HTTP.Listen
	}
	if logSink != nil {
		res.LogSink = logSink
	}

	publishStartup(publisher, tracker)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("main: received %v, shutting down", s)
		cancel(errors.New(signalName(s)))
	}()

	return supervisor.New(res).Run(ctx)
}

// openRelays requests one output line per channel plus the optional
// indicator. The returned closers release every line and the chip.
func openRelays(cfg *config.Config) (map[string]*relay.Actuator, []io.Closer, error) {
	chip, err := gpio.OpenChip(cfg.GPIO.Chip)
	if err != nil {
		return nil, nil, fmt.Errorf("init gpio: %w", err)
	}
	closers := []io.Closer{chip}
	fail := func(err error) (map[string]*relay.Actuator, []io.Closer, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, nil, err
	}

	var indicator *relay.Indicator
	if cfg.GPIO.IndicatorPin >= 0 {
		line, err := chip.Output(cfg.GPIO.IndicatorPin)
		if err != nil {
			return fail(fmt.Errorf("init indicator: %w", err))
		}
		closers = append(closers, line)
		indicator = relay.NewIndicator(line)
	}

	actuators := make(map[string]*relay.Actuator, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		line, err := chip.Output(ch.Pin)
		if err != nil {
			return fail(fmt.Errorf("init channel %s: %w", ch.Name, err))
		}
		closers = append(closers, line)
		actuators[ch.Name] = relay.NewActuator(ch.Name, line, ch.Short, ch.Long, indicator)
		log.Printf("main: channel %s on pin %d, port %d, pulses %v/%v", ch.Name, ch.Pin, ch.Port, ch.Short, ch.Long)
	}

	// Lines must be released before the chip.
	for i, j := 0, len(closers)-1; i < j; i, j = i+1, j-1 {
		closers[i], closers[j] = closers[j], closers[i]
	}
	return actuators, closers, nil
}

// syncClock resyncs after every (re)connection so the first sync happens
// as soon as the network allows.
func syncClock(clk *clock.Clock, tracker *status.Tracker, n logic.Notifier) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := clk.Sync(ctx)
	dst := clk.RecomputeDST()
	tracker.SetClock(clk.Synced(), dst, clk.LastSync())
	if err != nil {
		log.Printf("main: %v", err)
		return
	}
	n.Notify(logic.Event{Timestamp: clk.LocalTime(), Type: logic.EventClockSync})
}

func publishStartup(publisher mqtt.Publisher, tracker *status.Tracker) {
	if cs, ok := publisher.(mqtt.ConnectionStatus); ok {
		tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Session:    snap.Session,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Printf("main: failed to publish startup event: %v", err)
	} else {
		log.Printf("main: published startup event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

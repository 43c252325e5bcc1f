// Package config loads the node configuration: a YAML file, credentials
// from an env file, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is written by pi-helper with network details and secrets.
const DefaultEnvFile = "/run/pi-helper.env"

// Environment overrides.
const (
	EnvWiFiSSID     = "PCSWITCH_WIFI_SSID"
	EnvWiFiPassword = "PCSWITCH_WIFI_PASSWORD"
	EnvMQTTBroker   = "PCSWITCH_MQTT_BROKER"
)

// Restart modes.
const (
	RestartExit   = "exit"   // exit non-zero and let the service manager restart us
	RestartReboot = "reboot" // reboot the whole device
	RestartNone   = "none"   // log only; for bench testing
)

// Config is the whole node configuration.
type Config struct {
	Node        string      `yaml:"node"`
	WiFi        WiFi        `yaml:"wifi"`
	Network     Network     `yaml:"network"`
	GPIO        GPIO        `yaml:"gpio"`
	Channels    []Channel   `yaml:"channels"`
	Server      Server      `yaml:"server"`
	Clock       Clock       `yaml:"clock"`
	Maintenance Maintenance `yaml:"maintenance"`
	Logging     Logging     `yaml:"logging"`
	MQTT        MQTT        `yaml:"mqtt"`
	HTTP        HTTP        `yaml:"http"`
	Store       Store       `yaml:"store"`
	Discovery   Discovery   `yaml:"discovery"`
	Restart     Restart     `yaml:"restart"`
}

// WiFi is the network the node joins.
type WiFi struct {
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
}

// Network controls joining and the connectivity watchdog.
type Network struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	CheckInterval  time.Duration `yaml:"check_interval"` // 0 disables the watchdog
	ProbeAddr      string        `yaml:"probe_addr"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

// GPIO selects the chip and the optional indicator LED.
type GPIO struct {
	Chip         string `yaml:"chip"`
	IndicatorPin int    `yaml:"indicator_pin"` // -1 disables the blink
}

// Channel binds one relay output to one listening port.
type Channel struct {
	Name  string        `yaml:"name"`
	Pin   int           `yaml:"pin"`
	Port  int           `yaml:"port"`
	Short time.Duration `yaml:"short"`
	Long  time.Duration `yaml:"long"`
}

// Server controls the command listeners.
type Server struct {
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Clock controls NTP and local time.
type Clock struct {
	NTPServer     string `yaml:"ntp_server"` // empty: trust the system clock
	TZOffsetHours int    `yaml:"tz_offset_hours"`
	DST           bool   `yaml:"dst"`
}

// Maintenance schedules the daily power-cycle and resync.
type Maintenance struct {
	Hour    int    `yaml:"hour"` // -1 disables
	Reboot  bool   `yaml:"reboot"`
	Channel string `yaml:"channel"` // defaults to the first channel
}

// Logging optionally tees the log to a file.
type Logging struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTT is the event broker.
type MQTT struct {
	Broker      string `yaml:"broker"` // empty disables publishing
	TopicPrefix string `yaml:"topic_prefix"`
}

// HTTP is the status page.
type HTTP struct {
	Listen string `yaml:"listen"` // empty disables the status page
}

// Store is the state database.
type Store struct {
	Path string `yaml:"path"`
}

// Discovery toggles mDNS advertisement.
type Discovery struct {
	Enabled bool `yaml:"enabled"`
}

// Restart selects what happens after a fault.
type Restart struct {
	Mode string `yaml:"mode"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Node: hostname(),
		WiFi: WiFi{Interface: "wlan0"},
		Network: Network{
			ConnectTimeout: 10 * time.Second,
			RetryBackoff:   time.Second,
			CheckInterval:  180 * time.Second,
			ProbeAddr:      "1.1.1.1:53",
			ProbeTimeout:   3 * time.Second,
		},
		GPIO: GPIO{Chip: "gpiochip0", IndicatorPin: -1},
		Channels: []Channel{
			{Name: "pc", Pin: 2, Port: 7776},
		},
		Server:      Server{ReadTimeout: 3 * time.Second},
		Clock:       Clock{TZOffsetHours: -5, DST: true},
		Maintenance: Maintenance{Hour: 4},
		Logging:     Logging{Path: "pc-switch.log"},
		MQTT:        MQTT{TopicPrefix: "pcswitch"},
		HTTP:        HTTP{Listen: ":80"},
		Store:       Store{Path: "/var/lib/pc-switch/state.db"},
		Discovery:   Discovery{Enabled: true},
		Restart:     Restart{Mode: RestartExit},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// credentials from envFile and the environment. An empty path means
// defaults only; a missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvWiFiSSID); v != "" {
		cfg.WiFi.SSID = v
	}
	if v := os.Getenv(EnvWiFiPassword); v != "" {
		cfg.WiFi.Password = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
	}
}

// applyDefaults fills per-channel values the YAML list cannot inherit.
func applyDefaults(cfg *Config) {
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.Short == 0 {
			ch.Short = 200 * time.Millisecond
		}
		if ch.Long == 0 {
			ch.Long = 7000 * time.Millisecond
		}
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("relay%d", i+1)
		}
	}
	if cfg.Maintenance.Channel == "" && len(cfg.Channels) > 0 {
		cfg.Maintenance.Channel = cfg.Channels[0].Name
	}
	if cfg.Node == "" {
		cfg.Node = hostname()
	}
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	names := make(map[string]bool)
	ports := make(map[int]bool)
	pins := make(map[int]bool)
	for _, ch := range c.Channels {
		if names[ch.Name] {
			return fmt.Errorf("channel %q: duplicate name", ch.Name)
		}
		names[ch.Name] = true
		if ch.Port < 1 || ch.Port > 65535 {
			return fmt.Errorf("channel %q: port must be 1-65535, got %d", ch.Name, ch.Port)
		}
		if ports[ch.Port] {
			return fmt.Errorf("channel %q: port %d already bound to another channel", ch.Name, ch.Port)
		}
		ports[ch.Port] = true
		if ch.Pin < 0 {
			return fmt.Errorf("channel %q: pin must not be negative", ch.Name)
		}
		if pins[ch.Pin] {
			return fmt.Errorf("channel %q: pin %d already driven by another channel", ch.Name, ch.Pin)
		}
		pins[ch.Pin] = true
		if ch.Short <= 0 {
			return fmt.Errorf("channel %q: short pulse must be positive", ch.Name)
		}
		if ch.Long <= ch.Short {
			return fmt.Errorf("channel %q: long pulse (%v) must exceed short pulse (%v)", ch.Name, ch.Long, ch.Short)
		}
	}
	if c.GPIO.IndicatorPin >= 0 && pins[c.GPIO.IndicatorPin] {
		return fmt.Errorf("gpio.indicator_pin %d is also a relay pin", c.GPIO.IndicatorPin)
	}
	if c.Server.ReadTimeout <= 0 {
		return errors.New("server.read_timeout must be positive")
	}
	if c.Network.ConnectTimeout <= 0 {
		return errors.New("network.connect_timeout must be positive")
	}
	if c.Network.RetryBackoff < 0 || c.Network.CheckInterval < 0 {
		return errors.New("network durations must not be negative")
	}
	if c.Network.CheckInterval > 0 && c.Network.ProbeAddr == "" {
		return errors.New("network.probe_addr is required when check_interval is set")
	}
	if c.Clock.TZOffsetHours < -12 || c.Clock.TZOffsetHours > 14 {
		return fmt.Errorf("clock.tz_offset_hours must be -12..14, got %d", c.Clock.TZOffsetHours)
	}
	if c.Maintenance.Hour < -1 || c.Maintenance.Hour > 23 {
		return fmt.Errorf("maintenance.hour must be -1..23, got %d", c.Maintenance.Hour)
	}
	if c.Maintenance.Reboot && !names[c.Maintenance.Channel] {
		return fmt.Errorf("maintenance.channel %q is not a configured channel", c.Maintenance.Channel)
	}
	switch c.Restart.Mode {
	case RestartExit, RestartReboot, RestartNone:
	default:
		return fmt.Errorf("restart.mode must be exit, reboot or none, got %q", c.Restart.Mode)
	}
	return nil
}

// Channel returns the named channel.
func (c *Config) Channel(name string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// TZOffset returns the standard-time offset as a duration.
func (c *Config) TZOffset() time.Duration {
	return time.Duration(c.Clock.TZOffsetHours) * time.Hour
}

// Marshal renders the effective configuration with the password masked.
func (c *Config) Marshal() ([]byte, error) {
	masked := *c
	if masked.WiFi.Password != "" {
		masked.WiFi.Password = "********"
	}
	return yaml.Marshal(&masked)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "pc-switch"
	}
	return h
}

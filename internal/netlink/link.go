package netlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"time"
)

// ErrNoAddress is returned when the interface is up but has no IPv4 address yet.
var ErrNoAddress = errors.New("netlink: interface has no IPv4 address")

// ErrDown is returned when the interface is not up and running.
var ErrDown = errors.New("netlink: interface is down")

// pollInterval is how often Join re-reads the interface while waiting.
const pollInterval = 250 * time.Millisecond

// InterfaceLink joins a Wi-Fi network through NetworkManager and waits for
// the interface to come up with an IPv4 address. With no SSID it only
// waits, which suits wired links and networks managed elsewhere.
type InterfaceLink struct {
	Name     string
	SSID     string
	Password string

	// run executes the join command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
	// lookup reads interface state; replaced in tests.
	lookup func(name string) (Info, error)
}

// NewInterfaceLink creates a link for the named interface, e.g. "wlan0".
func NewInterfaceLink(name, ssid, password string) *InterfaceLink {
	return &InterfaceLink{
		Name:     name,
		SSID:     ssid,
		Password: password,
		run:      runCommand,
		lookup:   lookupInterface,
	}
}

// Join implements Link.
func (l *InterfaceLink) Join(ctx context.Context) (Info, error) {
	if l.SSID != "" {
		args := []string{"device", "wifi", "connect", l.SSID}
		if l.Password != "" {
			args = append(args, "password", l.Password)
		}
		args = append(args, "ifname", l.Name)
		if err := l.run(ctx, "nmcli", args...); err != nil {
			return Info{}, fmt.Errorf("join %q: %w", l.SSID, err)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		info, err := l.lookup(l.Name)
		if err == nil {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return Info{}, fmt.Errorf("wait for %s: %w (last: %v)", l.Name, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

func lookupInterface(name string) (Info, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Info{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
		return Info{}, ErrDown
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return Info{}, fmt.Errorf("addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.To4() == nil || ipn.IP.IsLoopback() {
			continue
		}
		return Info{IP: ipn.IP.String(), HardwareAddr: iface.HardwareAddr.String()}, nil
	}
	return Info{}, ErrNoAddress
}

// TCPProber dials a well-known external host to prove the path beyond the
// local network works.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

// Probe implements Prober.
func (p TCPProber) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.Addr, err)
	}
	return conn.Close()
}

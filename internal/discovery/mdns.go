// Package discovery advertises the relay command ports over mDNS so
// clients can find a node without knowing its address.
package discovery

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service identifiers.
const (
	ServiceType = "_pcswitch._tcp"
	Domain      = "local."
)

// Service is one advertised command port.
type Service struct {
	Instance string
	Port     int
	Channel  string
	Pin      int
}

func (s Service) txt() []string {
	return []string{
		"channel=" + s.Channel,
		"pin=" + strconv.Itoa(s.Pin),
		"proto=json-gpio",
	}
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

// Advertiser keeps one mDNS registration per service.
type Advertiser struct {
	iface    string
	register registerFunc

	mu      sync.Mutex
	servers []server
}

// NewAdvertiser creates an advertiser bound to the named interface, or
// all interfaces when iface is empty.
func NewAdvertiser(iface string) *Advertiser {
	return &Advertiser{iface: iface, register: zeroconfRegister}
}

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// interfaces returns the interfaces to advertise on; nil means all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise replaces any current registrations with services. Called
// after every (re)connection since the address may have changed.
func (a *Advertiser) Advertise(services []Service) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()
	ifaces := a.interfaces()
	for _, svc := range services {
		srv, err := a.register(svc.Instance, ServiceType, Domain, svc.Port, svc.txt(), ifaces)
		if err != nil {
			a.shutdownLocked()
			return fmt.Errorf("register %s: %w", svc.Instance, err)
		}
		a.servers = append(a.servers, srv)
	}
	log.Printf("discovery: advertising %d service(s) as %s", len(services), ServiceType)
	return nil
}

// Count returns the number of active registrations.
func (a *Advertiser) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.servers)
}

// Shutdown withdraws every registration.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	for _, s := range a.servers {
		s.Shutdown()
	}
	a.servers = nil
}

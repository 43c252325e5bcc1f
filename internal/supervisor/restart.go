package supervisor

import (
	"fmt"
	"log"
	"os"

	"github.com/sweeney/pc-switch/internal/config"
)

// Restarter performs the crash-only restart after teardown.
type Restarter interface {
	Restart(reason string) error
}

// NewRestarter returns the restarter for a configured mode.
func NewRestarter(mode string) (Restarter, error) {
	switch mode {
	case config.RestartExit, "":
		return ExitRestarter{Code: 1}, nil
	case config.RestartReboot:
		return RebootRestarter{}, nil
	case config.RestartNone:
		return NopRestarter{}, nil
	default:
		return nil, fmt.Errorf("unknown restart mode %q", mode)
	}
}

// ExitRestarter exits the process so the service manager starts it again.
type ExitRestarter struct {
	Code int
	exit func(int)
}

// Restart exits with Code. It only returns in tests.
func (r ExitRestarter) Restart(reason string) error {
	log.Printf("supervisor: exiting with status %d: %s", r.Code, reason)
	exit := r.exit
	if exit == nil {
		exit = os.Exit
	}
	exit(r.Code)
	return nil
}

// NopRestarter only logs; the caller decides what happens next.
type NopRestarter struct{}

// Restart logs the reason.
func (NopRestarter) Restart(reason string) error {
	log.Printf("supervisor: restart suppressed: %s", reason)
	return nil
}

// RebootRestarter reboots the whole device.
type RebootRestarter struct{}

// Restart syncs filesystems and reboots. On success it does not return.
func (RebootRestarter) Restart(reason string) error {
	log.Printf("supervisor: rebooting: %s", reason)
	return reboot()
}

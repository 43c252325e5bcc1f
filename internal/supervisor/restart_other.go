//go:build !linux

package supervisor

import "errors"

func reboot() error {
	return errors.New("reboot: not supported on this platform")
}

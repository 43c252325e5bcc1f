//go:build linux

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func reboot() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

//go:build unix

package usbhost

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// hasReadWriteAccess reports whether the process may open the device node
func hasReadWriteAccess(path string) error {
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("no read/write access to %s: %w", path, err)
	}
	return nil
}

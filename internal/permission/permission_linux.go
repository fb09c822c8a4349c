//go:build linux

package permission

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"hotcrypt/internal/input"
	"hotcrypt/internal/shortcut"
)

// DeviceOracle checks that at least one keyboard is readable and that the
// uinput node is writable.
type DeviceOracle struct {
	keyboards func() ([]string, error)
	uinput    string
}

// NewPlatformOracle returns the device-node oracle.
func NewPlatformOracle() Oracle {
	return &DeviceOracle{keyboards: shortcut.KeyboardDevices, uinput: input.UinputPath}
}

// Granted implements Oracle.
func (o *DeviceOracle) Granted() (bool, string) {
	devices, err := o.keyboards()
	if err != nil {
		return false, fmt.Sprintf("cannot list keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	readable := false
	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			readable = true
			break
		}
	}
	if !readable {
		return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
	}

	if err := unix.Access(o.uinput, unix.W_OK); err != nil {
		return false, fmt.Sprintf("cannot write %s: %v (add a udev rule or join the 'input' group)", o.uinput, err)
	}
	return true, ""
}

// Prompt is a no-op on Linux; access is granted through group membership.
func Prompt() bool {
	granted, _ := NewPlatformOracle().Granted()
	return granted
}

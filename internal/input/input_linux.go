//go:build linux

package input

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// uinput ioctls from linux/uinput.h.
const (
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	busVirtual      = 0x06
	uinputMaxName   = 80
	uinputAbsCnt    = 64
	uinputUserDevSz = uinputMaxName + 8 + 4 + 4*uinputAbsCnt*4
)

// UinputPath is the uinput control node.
const UinputPath = "/dev/uinput"

// settleDelay gives the display server time to pick up a new device before
// the first chord is sent through it.
const settleDelay = 200 * time.Millisecond

// UinputInjector sends chords through a virtual keyboard.
type UinputInjector struct {
	mu sync.Mutex
	f  *os.File
}

// NewPlatformInjector creates the uinput virtual keyboard.
func NewPlatformInjector() (Injector, error) {
	f, err := os.OpenFile(UinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("input: open %s: %w", UinputPath, err)
	}
	if err := setupDevice(f); err != nil {
		f.Close()
		return nil, err
	}
	time.Sleep(settleDelay)
	return &UinputInjector{f: f}, nil
}

func setupDevice(f *os.File) error {
	fd := int(f.Fd())
	for _, bit := range []int{evKey, evSyn} {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, bit); err != nil {
			return fmt.Errorf("input: UI_SET_EVBIT: %w", err)
		}
	}
	for _, key := range []int{keyLeftCtrl, keyC, keyV} {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, key); err != nil {
			return fmt.Errorf("input: UI_SET_KEYBIT: %w", err)
		}
	}

	dev := make([]byte, uinputUserDevSz)
	copy(dev[:uinputMaxName-1], DeviceName)
	binary.LittleEndian.PutUint16(dev[uinputMaxName:], busVirtual)
	binary.LittleEndian.PutUint16(dev[uinputMaxName+2:], 0x1)
	binary.LittleEndian.PutUint16(dev[uinputMaxName+4:], 0x1)
	binary.LittleEndian.PutUint16(dev[uinputMaxName+6:], 1)
	if _, err := f.Write(dev); err != nil {
		return fmt.Errorf("input: write device description: %w", err)
	}

	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("input: UI_DEV_CREATE: %w", err)
	}
	return nil
}

// PressCopyChord implements Injector.
func (u *UinputInjector) PressCopyChord() error {
	return u.press(keyC)
}

// PressPasteChord implements Injector.
func (u *UinputInjector) PressPasteChord() error {
	return u.press(keyV)
}

func (u *UinputInjector) press(key uint16) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return os.ErrClosed
	}
	if err := writeChord(u.f, []uint16{keyLeftCtrl}, key); err != nil {
		return fmt.Errorf("input: write chord: %w", err)
	}
	return nil
}

// Close destroys the virtual keyboard.
func (u *UinputInjector) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return nil
	}
	unix.IoctlSetInt(int(u.f.Fd()), uiDevDestroy, 0)
	err := u.f.Close()
	u.f = nil
	return err
}

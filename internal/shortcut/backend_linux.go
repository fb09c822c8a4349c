//go:build linux

package shortcut

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"hotcrypt/internal/input"
)

const procInputDevices = "/proc/bus/input/devices"

const (
	evKey         = 1
	inputEventLen = 24
)

// EvdevBackend matches chords by reading every keyboard under /dev/input.
// Events are observed, not grabbed, so the focused application still sees
// the chord.
type EvdevBackend struct {
	mu      sync.Mutex
	handler func(uint32)
	files   []*os.File
	wg      sync.WaitGroup
	match   *matcher

	devicesFile string
}

// NewPlatformBackend returns the evdev backend.
func NewPlatformBackend() Backend {
	return &EvdevBackend{match: newMatcher(), devicesFile: procInputDevices}
}

// Install implements Backend. It opens every readable keyboard.
func (b *EvdevBackend) Install(handler func(uint32)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler != nil {
		return errors.New("evdev: handler already installed")
	}

	devices, err := findKeyboardDevices(b.devicesFile)
	if err != nil {
		return fmt.Errorf("evdev: find keyboards: %w", err)
	}

	var lastErr error
	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err != nil {
			lastErr = err
			continue
		}
		b.files = append(b.files, f)
	}
	if len(b.files) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no keyboard devices found")
		}
		return fmt.Errorf("evdev: %w (need to be in 'input' group or run as root)", lastErr)
	}

	b.handler = handler
	for _, f := range b.files {
		b.wg.Add(1)
		go b.readLoop(f, handler)
	}
	return nil
}

// Register implements Backend.
func (b *EvdevBackend) Register(bind Binding) (uint32, error) {
	code, ok := EvdevCode(bind.Key)
	if !ok {
		return 0, fmt.Errorf("evdev: no key code for %q", bind.Key)
	}
	id, ok := b.match.add(chord{code: code, mods: bind.Modifiers})
	if !ok {
		return 0, fmt.Errorf("evdev: %s is already registered", bind.Chord())
	}
	return id, nil
}

// Unregister implements Backend.
func (b *EvdevBackend) Unregister(osID uint32) error {
	if !b.match.remove(osID) {
		return fmt.Errorf("evdev: unknown registration %d", osID)
	}
	return nil
}

// Uninstall implements Backend. Closing the devices unblocks the readers.
func (b *EvdevBackend) Uninstall() error {
	b.mu.Lock()
	files := b.files
	b.files = nil
	b.handler = nil
	b.mu.Unlock()

	for _, f := range files {
		f.Close()
	}
	b.wg.Wait()
	b.match.clear()
	return nil
}

func (b *EvdevBackend) readLoop(f *os.File, handler func(uint32)) {
	defer b.wg.Done()
	scanEvents(f, b.match, handler)
}

// scanEvents reads input_event records until r fails.
func scanEvents(r io.Reader, m *matcher, handler func(uint32)) {
	tracker := newModTracker()
	buf := make([]byte, inputEventLen)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		typ := binary.LittleEndian.Uint16(buf[16:18])
		if typ != evKey {
			continue
		}
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		c, ok := tracker.feed(code, value)
		if !ok {
			continue
		}
		if osID, ok := m.lookup(c); ok {
			handler(osID)
		}
	}
}

// KeyboardDevices lists the keyboard event nodes the backend would open.
func KeyboardDevices() ([]string, error) {
	return findKeyboardDevices(procInputDevices)
}

// findKeyboardDevices parses /proc/bus/input/devices for devices with an
// event handler and key capabilities, skipping our own virtual keyboard.
func findKeyboardDevices(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseInputDevices(f), nil
}

func parseInputDevices(r io.Reader) []string {
	var (
		devices []string
		handler string
		name    string
		hasKeys bool
		hasKbd  bool
	)
	flush := func() {
		if handler != "" && hasKeys && hasKbd && name != input.DeviceName {
			devices = append(devices, "/dev/input/"+handler)
		}
		handler, name, hasKeys, hasKbd = "", "", false, false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "N: Name="):
			name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				switch {
				case strings.HasPrefix(part, "event"):
					handler = part
				case part == "kbd":
					hasKbd = true
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			// Short bitmaps belong to power buttons and the like.
			hasKeys = len(strings.TrimPrefix(line, "B: KEY=")) > 20
		}
	}
	flush()
	return devices
}

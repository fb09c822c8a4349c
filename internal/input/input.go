// Package input synthesizes the copy and paste chords the transform pipeline
// uses to move text through the clipboard.
//
// Platform support:
//   - macOS: CGEventPost of Cmd+C and Cmd+V (requires Accessibility permission)
//   - Linux: a uinput virtual keyboard sending Ctrl+C and Ctrl+V (requires
//     write access to /dev/uinput)
package input

import (
	"encoding/binary"
	"errors"
	"io"
)

// Injector posts synthetic key chords to the focused application.
type Injector interface {
	PressCopyChord() error
	PressPasteChord() error
	Close() error
}

// ErrNotSupported is returned where no injection facility exists.
var ErrNotSupported = errors.New("input: key injection not supported on this platform")

// DeviceName names the Linux virtual keyboard. The shortcut listener skips
// it so injected chords are never mistaken for user presses.
const DeviceName = "hotcrypt virtual keyboard"

// Linux input event constants.
const (
	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	keyLeftCtrl = 29
	keyC        = 46
	keyV        = 47
)

const inputEventSize = 24

// writeChord encodes the key-down and key-up sequence for mods+key as
// input_event records, with a SYN_REPORT after each transition.
func writeChord(w io.Writer, mods []uint16, key uint16) error {
	var seq [][3]int32
	emit := func(typ, code uint16, value int32) {
		seq = append(seq, [3]int32{int32(typ), int32(code), value})
	}
	report := func() { emit(evSyn, synReport, 0) }

	for _, m := range mods {
		emit(evKey, m, 1)
		report()
	}
	emit(evKey, key, 1)
	report()
	emit(evKey, key, 0)
	report()
	for i := len(mods) - 1; i >= 0; i-- {
		emit(evKey, mods[i], 0)
		report()
	}

	buf := make([]byte, 0, len(seq)*inputEventSize)
	for _, ev := range seq {
		rec := make([]byte, inputEventSize)
		binary.LittleEndian.PutUint16(rec[16:18], uint16(ev[0]))
		binary.LittleEndian.PutUint16(rec[18:20], uint16(ev[1]))
		binary.LittleEndian.PutUint32(rec[20:24], uint32(ev[2]))
		buf = append(buf, rec...)
	}
	_, err := w.Write(buf)
	return err
}

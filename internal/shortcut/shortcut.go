// Package shortcut registers global keyboard shortcuts with the OS and
// dispatches presses to logical shortcut IDs.
//
// Platform support:
//   - macOS: CGEventTap (requires Accessibility permission)
//   - Linux: /dev/input/event* (requires the input group or root)
//
// Matching presses are reported once per key-down; key repeat is ignored.
package shortcut

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ID is a logical shortcut.
type ID int

const (
	Encrypt ID = iota + 1
	Decrypt
)

func (id ID) String() string {
	switch id {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("shortcut(%d)", int(id))
	}
}

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

var modifierNames = []struct {
	mod  Modifier
	name string
}{
	{ModCtrl, "ctrl"},
	{ModAlt, "alt"},
	{ModShift, "shift"},
	{ModSuper, "super"},
}

var modifierAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"opt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
	"win":     ModSuper,
}

func (m Modifier) String() string {
	var parts []string
	for _, mn := range modifierNames {
		if m&mn.mod != 0 {
			parts = append(parts, mn.name)
		}
	}
	return strings.Join(parts, "+")
}

// Key is a lowercase key name: a letter, a digit or "space".
type Key string

// Binding ties a logical shortcut to a chord.
type Binding struct {
	ID        ID
	Key       Key
	Modifiers Modifier
}

// Chord returns the canonical chord string, e.g. "ctrl+shift+e".
func (b Binding) Chord() string {
	if b.Modifiers == 0 {
		return string(b.Key)
	}
	return b.Modifiers.String() + "+" + string(b.Key)
}

func (b Binding) String() string {
	return b.ID.String() + "=" + b.Chord()
}

// ErrInvalidChord is returned by ParseBinding.
var ErrInvalidChord = errors.New("shortcut: invalid chord")

// ParseBinding parses a chord such as "ctrl+shift+e". At least one modifier
// is required so the shortcut cannot swallow ordinary typing.
func ParseBinding(id ID, chord string) (Binding, error) {
	b := Binding{ID: id}
	parts := strings.Split(strings.ToLower(strings.TrimSpace(chord)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if _, ok := keyTable[Key(p)]; !ok {
				return Binding{}, fmt.Errorf("%w %q: unknown key %q", ErrInvalidChord, chord, p)
			}
			b.Key = Key(p)
			break
		}
		mod, ok := modifierAliases[p]
		if !ok {
			return Binding{}, fmt.Errorf("%w %q: unknown modifier %q", ErrInvalidChord, chord, p)
		}
		if b.Modifiers&mod != 0 {
			return Binding{}, fmt.Errorf("%w %q: repeated modifier %q", ErrInvalidChord, chord, p)
		}
		b.Modifiers |= mod
	}
	if b.Modifiers == 0 {
		return Binding{}, fmt.Errorf("%w %q: at least one modifier is required", ErrInvalidChord, chord)
	}
	return b, nil
}

// ValidateChord reports whether chord parses.
func ValidateChord(chord string) error {
	_, err := ParseBinding(0, chord)
	return err
}

// ErrorKind classifies registration failures.
type ErrorKind int

const (
	RegistrationFailed ErrorKind = iota + 1
	HandlerInstallFailed
)

func (k ErrorKind) String() string {
	switch k {
	case RegistrationFailed:
		return "registration failed"
	case HandlerInstallFailed:
		return "handler install failed"
	default:
		return "unknown"
	}
}

// Error is returned by Listener.Register.
type Error struct {
	Kind ErrorKind
	ID   ID
	Err  error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("shortcut %s: %s: %v", e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("shortcut: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrBusy is wrapped when Register is re-entered.
	ErrBusy = errors.New("registration already in progress")

	// ErrDuplicate is wrapped when two bindings share an ID or a chord.
	ErrDuplicate = errors.New("duplicate binding")

	// ErrNotSupported is returned by the backend on platforms without a
	// global shortcut facility.
	ErrNotSupported = errors.New("global shortcuts not supported on this platform")
)

func sortedBindings(m map[ID]Binding) []Binding {
	out := make([]Binding, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Package clipboard wraps the system clipboard for the transform pipeline.
// Only plain text is handled; rich content is read as whatever text form
// the platform tool offers.
package clipboard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard facility exists, e.g. Linux
// without xclip, xsel or wl-clipboard.
var ErrUnavailable = errors.New("clipboard: unavailable")

// Clipboard is plain-text clipboard access.
type Clipboard interface {
	// Read returns the current text. present is false for an empty
	// clipboard.
	Read() (text string, present bool, err error)
	Write(text string) error
	Clear() error
	Available() bool
}

// System is the OS clipboard. Calls are serialized because the Linux
// backends shell out to a helper process.
type System struct {
	mu sync.Mutex
}

// NewSystem returns the OS clipboard.
func NewSystem() *System {
	return &System{}
}

// Available implements Clipboard.
func (s *System) Available() bool {
	return !clipboard.Unsupported
}

// Read implements Clipboard.
func (s *System) Read() (string, bool, error) {
	if clipboard.Unsupported {
		return "", false, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := clipboard.ReadAll()
	if err != nil {
		return "", false, fmt.Errorf("clipboard: read: %w", err)
	}
	return text, text != "", nil
}

// Write implements Clipboard.
func (s *System) Write(text string) error {
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard: write: %w", err)
	}
	return nil
}

// Clear implements Clipboard.
func (s *System) Clear() error {
	return s.Write("")
}

// Memory is an in-process Clipboard. The zero value is empty and usable.
type Memory struct {
	mu      sync.Mutex
	text    string
	writes  int
	ReadErr error
	WriteFn func(text string) error
}

// NewMemory returns a Memory holding text.
func NewMemory(text string) *Memory {
	return &Memory{text: text}
}

// Available implements Clipboard.
func (m *Memory) Available() bool { return true }

// Read implements Clipboard.
func (m *Memory) Read() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return "", false, m.ReadErr
	}
	return m.text, m.text != "", nil
}

// Write implements Clipboard.
func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteFn != nil {
		if err := m.WriteFn(text); err != nil {
			return err
		}
	}
	m.text = text
	m.writes++
	return nil
}

// Clear implements Clipboard.
func (m *Memory) Clear() error { return m.Write("") }

// Text returns the current content.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Writes returns how many writes succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Set replaces the content without counting a write, as another
// application would.
func (m *Memory) Set(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
}

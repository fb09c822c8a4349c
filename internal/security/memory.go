// Package security holds the small set of memory and file primitives hotcrypt
// uses to keep the passphrase out of swap, core dumps and world-readable
// files.
package security

import (
	"crypto/subtle"
	"errors"
	"runtime"
	"sync"
)

// ErrDestroyed is returned when reading from a SecureBytes after Destroy.
var ErrDestroyed = errors.New("security: secure buffer destroyed")

// SecureBytes is a byte buffer that is locked into RAM where the platform
// allows it and zeroed when destroyed.
type SecureBytes struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewSecureBytes allocates a zeroed buffer of size bytes.
func NewSecureBytes(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	if len(sb.data) > 0 && lockMemory(sb.data) == nil {
		sb.locked = true
	}
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

// FromBytes moves data into a new SecureBytes and zeroes the source slice.
func FromBytes(data []byte) *SecureBytes {
	sb := NewSecureBytes(len(data))
	copy(sb.data, data)
	Wipe(data)
	return sb
}

// Copy returns a fresh copy of the contents. The caller must Wipe it.
func (s *SecureBytes) Copy() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, ErrDestroyed
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Clone returns an independent SecureBytes holding the same contents.
func (s *SecureBytes) Clone() (*SecureBytes, error) {
	b, err := s.Copy()
	if err != nil {
		return nil, err
	}
	return FromBytes(b), nil
}

// Use calls fn with the live buffer while holding the lock. fn must not
// retain the slice.
func (s *SecureBytes) Use(fn func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return ErrDestroyed
	}
	return fn(s.data)
}

// Equal reports whether the contents equal b, in constant time.
func (s *SecureBytes) Equal(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil && subtle.ConstantTimeCompare(s.data, b) == 1
}

// Len returns the buffer length, or 0 once destroyed.
func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Destroyed reports whether Destroy has run.
func (s *SecureBytes) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// Destroy zeroes and releases the buffer. It is safe to call more than once
// and on a nil receiver.
func (s *SecureBytes) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return
	}
	Wipe(s.data)
	if s.locked {
		unlockMemory(s.data)
		s.locked = false
	}
	s.data = nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

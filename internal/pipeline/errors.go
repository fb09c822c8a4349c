package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSelection means the synthetic copy produced no new text.
	ErrNoSelection = errors.New("no text selected")

	// ErrClipboardUnavailable means the clipboard could not be read or
	// written.
	ErrClipboardUnavailable = errors.New("clipboard unavailable")
)

// CryptoError carries the cipher's message, shown to the user verbatim.
type CryptoError struct {
	Message string
	Err     error
}

func (e *CryptoError) Error() string { return e.Message }

func (e *CryptoError) Unwrap() error { return e.Err }

// InjectionError means a synthetic chord could not be posted.
type InjectionError struct {
	Chord string
	Err   error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("could not send %s keystroke: %v", e.Chord, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

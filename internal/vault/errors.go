package vault

import (
	"errors"
	"fmt"
)

// Load and Store outcomes other than success. They are returned unwrapped so
// callers can compare with errors.Is.
var (
	// ErrNotFound means no passphrase is configured.
	ErrNotFound = errors.New("vault: no passphrase configured")

	// ErrUserCancelled means the user dismissed the authentication prompt.
	// It is a normal outcome, not a failure.
	ErrUserCancelled = errors.New("vault: authentication cancelled")

	// ErrAuthenticationFailed means the user failed biometric verification.
	ErrAuthenticationFailed = errors.New("vault: authentication failed")

	// ErrPlatformUnavailable means no usable authenticator or store exists.
	ErrPlatformUnavailable = errors.New("vault: platform support unavailable")
)

// UnexpectedError carries a platform status code the vault does not map.
type UnexpectedError struct {
	Code int
	Err  error
}

func (e *UnexpectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault: unexpected error (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("vault: unexpected error (code %d)", e.Code)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// unexpected wraps err unless it already is one of the vault outcomes.
func unexpected(code int, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUserCancelled),
		errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrPlatformUnavailable):
		return err
	}
	var ue *UnexpectedError
	if errors.As(err, &ue) {
		return err
	}
	return &UnexpectedError{Code: code, Err: err}
}

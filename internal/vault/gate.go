package vault

import "context"

// Gate is a biometric authenticator run before the secret entry is read.
type Gate interface {
	// Available reports whether an authenticator is present and enrolled.
	Available() bool

	// Authenticate blocks until the user passes or fails verification.
	// It returns nil, ErrUserCancelled, ErrAuthenticationFailed,
	// ErrPlatformUnavailable or an *UnexpectedError.
	Authenticate(ctx context.Context, reason string) error
}

// NoGate is a Gate with no authenticator.
type NoGate struct{}

// Available always reports false.
func (NoGate) Available() bool { return false }

// Authenticate always fails with ErrPlatformUnavailable.
func (NoGate) Authenticate(context.Context, string) error { return ErrPlatformUnavailable }

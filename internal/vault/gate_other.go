//go:build !linux && !(darwin && cgo)

package vault

// NewPlatformGate returns NoGate; this platform has no supported
// biometric authenticator.
func NewPlatformGate() Gate { return NoGate{} }

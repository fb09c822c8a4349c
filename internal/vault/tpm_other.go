//go:build !linux

package vault

import "fmt"

// TPMSealer is unavailable on this platform.
type TPMSealer struct{}

// NewTPMSealer always fails with ErrPlatformUnavailable.
func NewTPMSealer(string) (*TPMSealer, error) {
	return nil, fmt.Errorf("%w: TPM sealing is only supported on Linux", ErrPlatformUnavailable)
}

// Seal implements Sealer.
func (*TPMSealer) Seal([]byte) ([]byte, error) { return nil, ErrPlatformUnavailable }

// Unseal implements Sealer.
func (*TPMSealer) Unseal([]byte) ([]byte, error) { return nil, ErrPlatformUnavailable }

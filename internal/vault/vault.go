// Package vault keeps the single hotcrypt passphrase in a platform secret
// store behind a biometric gate.
//
// Two entries are kept under one service identifier: the gated secret and
// an unprotected marker holding its SHA-256. The marker exists exactly when
// the secret does, which lets IsConfigured answer without prompting.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"hotcrypt/internal/logging"
	"hotcrypt/internal/security"
)

// Vault is the credential vault. It never retries authentication.
type Vault struct {
	store        EntryStore
	gate         Gate
	reason       string
	allowUngated bool
	logger       *logging.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithReason sets the text shown by the biometric prompt.
func WithReason(reason string) Option {
	return func(v *Vault) { v.reason = reason }
}

// WithAllowUngated lets Load read the secret without a biometric prompt
// when the gate has no authenticator. The store's own access control is
// then the only protection. Off by default.
func WithAllowUngated(allow bool) Option {
	return func(v *Vault) { v.allowUngated = allow }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New creates a Vault over store, gated by gate. A nil gate means no
// authenticator, so Load fails unless WithAllowUngated is set.
func New(store EntryStore, gate Gate, opts ...Option) *Vault {
	if gate == nil {
		gate = NoGate{}
	}
	v := &Vault{
		store:  store,
		gate:   gate,
		reason: "unlock the hotcrypt passphrase",
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store replaces any configured passphrase with secret. The caller keeps
// ownership of secret and should wipe it afterwards.
func (v *Vault) Store(secret []byte) error {
	if len(secret) == 0 {
		return errors.New("vault: empty passphrase")
	}
	if err := v.Delete(); err != nil {
		return fmt.Errorf("clear previous passphrase: %w", err)
	}

	if err := v.store.Set(AccountSecret, secret, true); err != nil {
		return unexpected(-1, fmt.Errorf("write secret entry: %w", err))
	}

	if err := v.store.Set(AccountMarker, markerFor(secret), false); err != nil {
		if rbErr := v.store.Remove(AccountSecret); rbErr != nil && !errors.Is(rbErr, ErrEntryNotFound) {
			v.logger.Error("rollback of secret entry failed", "error", rbErr)
		}
		return unexpected(-1, fmt.Errorf("write marker entry: %w", err))
	}

	v.logger.Info("passphrase stored", "length", len(secret))
	return nil
}

// IsConfigured reports whether a passphrase is stored. It reads only the
// marker and never prompts.
func (v *Vault) IsConfigured() bool {
	data, err := v.store.Get(AccountMarker)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			v.logger.Warn("marker lookup failed", "error", err)
		}
		return false
	}
	return len(data) > 0
}

// BiometryAvailable reports whether the gate can prompt. It has no side
// effects.
func (v *Vault) BiometryAvailable() bool {
	return v.gate.Available()
}

// Load authenticates the user and returns the passphrase. It may block for
// as long as the OS prompt is on screen; cancelling ctx dismisses it.
// Without an authenticator it returns ErrPlatformUnavailable.
func (v *Vault) Load(ctx context.Context) (*security.SecureBytes, error) {
	if !v.IsConfigured() {
		return nil, ErrNotFound
	}

	switch {
	case v.gate.Available():
		if err := v.gate.Authenticate(ctx, v.reason); err != nil {
			return nil, unexpected(-1, err)
		}
	case !v.allowUngated:
		return nil, ErrPlatformUnavailable
	default:
		v.logger.Warn("reading passphrase without biometric gate")
	}

	data, err := v.store.Get(AccountSecret)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			v.logger.Warn("marker present without secret entry")
			return nil, ErrNotFound
		}
		return nil, unexpected(-1, fmt.Errorf("read secret entry: %w", err))
	}

	return security.FromBytes(data), nil
}

// Delete removes both entries. An unconfigured vault is not an error.
func (v *Vault) Delete() error {
	marker, err := v.store.Get(AccountMarker)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return unexpected(-1, fmt.Errorf("read marker entry: %w", err))
	}

	if err := v.store.Remove(AccountMarker); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return unexpected(-1, fmt.Errorf("remove marker entry: %w", err))
	}

	if err := v.store.Remove(AccountSecret); err != nil && !errors.Is(err, ErrEntryNotFound) {
		if marker != nil {
			if rbErr := v.store.Set(AccountMarker, marker, false); rbErr != nil {
				v.logger.Error("rollback of marker entry failed", "error", rbErr)
			}
		}
		return unexpected(-1, fmt.Errorf("remove secret entry: %w", err))
	}
	return nil
}

// Close releases the underlying store.
func (v *Vault) Close() error {
	return v.store.Close()
}

func markerFor(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return []byte(hex.EncodeToString(sum[:]))
}

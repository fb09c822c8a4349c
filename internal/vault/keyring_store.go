package vault

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringStore is an EntryStore over the OS secret store: Keychain on
// macOS, Secret Service or KWallet on Linux desktops, the kernel keyring on
// headless Linux, Credential Manager on Windows.
type KeyringStore struct {
	ring keyring.Keyring
}

// KeyringOptions configures OpenKeyringStore.
type KeyringOptions struct {
	// Service is the identifier entries are filed under.
	Service string

	// Backends lists allowed backend names in preference order. Empty
	// means the platform default order.
	Backends []string
}

// OpenKeyringStore opens the first usable OS keyring.
func OpenKeyringStore(opts KeyringOptions) (*KeyringStore, error) {
	cfg := keyring.Config{
		ServiceName: opts.Service,

		KeychainName:                   "login",
		KeychainTrustApplication:       true,
		KeychainSynchronizable:         false,
		KeychainAccessibleWhenUnlocked: true,

		LibSecretCollectionName: "login",

		KWalletAppID:  opts.Service,
		KWalletFolder: opts.Service,

		KeyCtlScope: "user",

		WinCredPrefix: opts.Service,

		PassPrefix: opts.Service,
	}
	for _, b := range opts.Backends {
		cfg.AllowedBackends = append(cfg.AllowedBackends, keyring.BackendType(b))
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		if errors.Is(err, keyring.ErrNoAvailImpl) {
			return nil, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
		}
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Get implements EntryStore.
func (s *KeyringStore) Get(account string) ([]byte, error) {
	item, err := s.ring.Get(account)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return item.Data, nil
}

// Set implements EntryStore. The keyring's own access control guards
// protected entries; they are also kept off iCloud sync.
func (s *KeyringStore) Set(account string, data []byte, protected bool) error {
	label := "hotcrypt passphrase marker"
	if protected {
		label = "hotcrypt passphrase"
	}
	return s.ring.Set(keyring.Item{
		Key:                       account,
		Data:                      data,
		Label:                     label,
		Description:               "hotcrypt",
		KeychainNotSynchronizable: protected,
	})
}

// Remove implements EntryStore.
func (s *KeyringStore) Remove(account string) error {
	err := s.ring.Remove(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrEntryNotFound
	}
	return err
}

// Close implements EntryStore.
func (s *KeyringStore) Close() error { return nil }

// AvailableKeyringBackends lists the backends compiled in for this platform.
func AvailableKeyringBackends() []string {
	var out []string
	for _, b := range keyring.AvailableBackends() {
		out = append(out, string(b))
	}
	return out
}

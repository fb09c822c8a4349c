package vault

import "errors"

// Account names of the two entries filed under the service identifier.
const (
	// AccountSecret holds the passphrase and is read only after the gate.
	AccountSecret = "globalPassphrase"

	// AccountMarker holds the hex SHA-256 of the passphrase and answers
	// "is a passphrase configured?" without prompting.
	AccountMarker = "passphraseHash"
)

// ErrEntryNotFound is returned by an EntryStore for an absent account.
var ErrEntryNotFound = errors.New("vault: entry not found")

// EntryStore is a key/value store of small secrets scoped to one service
// identifier. Protected entries must be encrypted at rest or otherwise
// guarded by the platform.
type EntryStore interface {
	Get(account string) ([]byte, error)
	Set(account string, data []byte, protected bool) error
	Remove(account string) error
	Close() error
}

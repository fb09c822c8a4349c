package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hotcrypt/internal/security"
)

// Sealer binds protected entries to a device. Seal output is opaque and
// only Unseal on the same device recovers the input.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Unseal(sealed []byte) ([]byte, error)
}

const entriesSchema = `
CREATE TABLE IF NOT EXISTS vault_entries (
    service     TEXT NOT NULL,
    account     TEXT NOT NULL,
    sealed      INTEGER NOT NULL DEFAULT 0,
    value       BLOB NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (service, account)
);
`

// SQLiteStore is an EntryStore in a local sqlite file. Protected entries
// are passed through a Sealer before they are written, so the file alone
// never reveals the passphrase.
type SQLiteStore struct {
	mu      sync.Mutex
	db      *sql.DB
	service string
	sealer  Sealer
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path, service string, sealer Sealer) (*SQLiteStore, error) {
	if sealer == nil {
		return nil, errors.New("vault: sqlite store requires a sealer")
	}
	if err := security.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(entriesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := os.Chmod(path, security.PermSecretFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return &SQLiteStore{db: db, service: service, sealer: sealer}, nil
}

// Get implements EntryStore.
func (s *SQLiteStore) Get(account string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sealed bool
		value  []byte
	)
	err := s.db.QueryRow(
		`SELECT sealed, value FROM vault_entries WHERE service = ? AND account = ?`,
		s.service, account,
	).Scan(&sealed, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}

	if !sealed {
		return value, nil
	}
	plain, err := s.sealer.Unseal(value)
	if err != nil {
		return nil, fmt.Errorf("unseal entry: %w", err)
	}
	return plain, nil
}

// Set implements EntryStore.
func (s *SQLiteStore) Set(account string, data []byte, protected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := data
	if protected {
		sealed, err := s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("seal entry: %w", err)
		}
		value = sealed
	}

	_, err := s.db.Exec(
		`INSERT INTO vault_entries (service, account, sealed, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(service, account) DO UPDATE SET
		     sealed = excluded.sealed,
		     value = excluded.value,
		     updated_at = excluded.updated_at`,
		s.service, account, protected, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Remove implements EntryStore.
func (s *SQLiteStore) Remove(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM vault_entries WHERE service = ? AND account = ?`,
		s.service, account,
	)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Close implements EntryStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

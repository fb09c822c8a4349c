package vault

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EntryStore with per-account failure injection.
type memStore struct {
	mu        sync.Mutex
	entries   map[string][]byte
	failSet   map[string]error
	failGet   map[string]error
	failDel   map[string]error
	protected map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		entries:   map[string][]byte{},
		failSet:   map[string]error{},
		failGet:   map[string]error{},
		failDel:   map[string]error{},
		protected: map[string]bool{},
	}
}

func (m *memStore) Get(account string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[account]; err != nil {
		return nil, err
	}
	v, ok := m.entries[account]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Set(account string, data []byte, protected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSet[account]; err != nil {
		return err
	}
	m.entries[account] = append([]byte(nil), data...)
	m.protected[account] = protected
	return nil
}

func (m *memStore) Remove(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDel[account]; err != nil {
		return err
	}
	if _, ok := m.entries[account]; !ok {
		return ErrEntryNotFound
	}
	delete(m.entries, account)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[account]
	return ok
}

type mockGate struct {
	mock.Mock
}

func (g *mockGate) Available() bool {
	return g.Called().Bool(0)
}

func (g *mockGate) Authenticate(ctx context.Context, reason string) error {
	return g.Called(ctx, reason).Error(0)
}

func TestStoreThenIsConfigured(t *testing.T) {
	store := newMemStore()
	v := New(store, nil)

	assert.False(t, v.IsConfigured())
	require.NoError(t, v.Store([]byte("correct horse")))
	assert.True(t, v.IsConfigured())
	assert.True(t, store.protected[AccountSecret])
	assert.False(t, store.protected[AccountMarker])
	assert.Equal(t, markerFor([]byte("correct horse")), store.entries[AccountMarker])

	require.NoError(t, v.Delete())
	assert.False(t, v.IsConfigured())
	assert.False(t, store.has(AccountSecret))
}

func TestDeleteUnconfiguredSucceeds(t *testing.T) {
	v := New(newMemStore(), nil)
	assert.NoError(t, v.Delete())
	assert.NoError(t, v.Delete())
}

func TestStoreRollsBackWhenMarkerFails(t *testing.T) {
	store := newMemStore()
	store.failSet[AccountMarker] = errors.New("disk full")
	v := New(store, nil)

	err := v.Store([]byte("correct horse"))
	require.Error(t, err)
	var ue *UnexpectedError
	assert.ErrorAs(t, err, &ue)

	assert.False(t, store.has(AccountSecret), "secret entry must be rolled back")
	assert.False(t, v.IsConfigured())
}

func TestStoreReplacesExisting(t *testing.T) {
	store := newMemStore()
	v := New(store, nil, WithAllowUngated(true))

	require.NoError(t, v.Store([]byte("first pass")))
	require.NoError(t, v.Store([]byte("second pass")))

	sb, err := v.Load(context.Background())
	require.NoError(t, err)
	defer sb.Destroy()
	assert.True(t, sb.Equal([]byte("second pass")))
}

func TestDeleteRestoresMarkerWhenSecretRemovalFails(t *testing.T) {
	store := newMemStore()
	v := New(store, nil)
	require.NoError(t, v.Store([]byte("correct horse")))

	store.failDel[AccountSecret] = errors.New("keychain locked")
	require.Error(t, v.Delete())
	assert.True(t, v.IsConfigured(), "marker must follow the secret entry")
}

func TestLoadRunsGateFirst(t *testing.T) {
	store := newMemStore()
	gate := &mockGate{}
	v := New(store, gate, WithReason("unlock"))
	require.NoError(t, v.Store([]byte("correct horse")))

	gate.On("Available").Return(true)
	gate.On("Authenticate", mock.Anything, "unlock").Return(nil).Once()

	sb, err := v.Load(context.Background())
	require.NoError(t, err)
	defer sb.Destroy()
	assert.True(t, sb.Equal([]byte("correct horse")))
	gate.AssertExpectations(t)
}

func TestLoadGateOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		gateErr error
		want    error
	}{
		{"cancelled", ErrUserCancelled, ErrUserCancelled},
		{"failed", ErrAuthenticationFailed, ErrAuthenticationFailed},
		{"unavailable", ErrPlatformUnavailable, ErrPlatformUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			gate := &mockGate{}
			v := New(store, gate)
			require.NoError(t, v.Store([]byte("correct horse")))

			gate.On("Available").Return(true)
			gate.On("Authenticate", mock.Anything, mock.Anything).Return(tc.gateErr)

			sb, err := v.Load(context.Background())
			assert.Nil(t, sb)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoadUnexpectedGateError(t *testing.T) {
	store := newMemStore()
	gate := &mockGate{}
	v := New(store, gate)
	require.NoError(t, v.Store([]byte("correct horse")))

	gate.On("Available").Return(true)
	gate.On("Authenticate", mock.Anything, mock.Anything).Return(&UnexpectedError{Code: -1004})

	_, err := v.Load(context.Background())
	var ue *UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, -1004, ue.Code)
}

func TestLoadNotConfiguredSkipsGate(t *testing.T) {
	gate := &mockGate{}
	v := New(newMemStore(), gate)

	_, err := v.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	gate.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestLoadWithoutAuthenticatorRefusedByDefault(t *testing.T) {
	for name, gate := range map[string]Gate{"no gate": NoGate{}, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			v := New(store, gate)
			require.NoError(t, v.Store([]byte("correct horse")))

			sb, err := v.Load(context.Background())
			assert.Nil(t, sb)
			assert.ErrorIs(t, err, ErrPlatformUnavailable)
			assert.False(t, v.BiometryAvailable())
			assert.True(t, v.IsConfigured(), "refusal must not touch the entries")
		})
	}
}

func TestLoadAllowUngated(t *testing.T) {
	store := newMemStore()
	v := New(store, NoGate{}, WithAllowUngated(true))
	require.NoError(t, v.Store([]byte("correct horse")))

	sb, err := v.Load(context.Background())
	require.NoError(t, err)
	defer sb.Destroy()
	assert.True(t, sb.Equal([]byte("correct horse")))
}

func TestAllowUngatedStillUsesAvailableGate(t *testing.T) {
	store := newMemStore()
	gate := &mockGate{}
	v := New(store, gate, WithAllowUngated(true))
	require.NoError(t, v.Store([]byte("correct horse")))

	gate.On("Available").Return(true)
	gate.On("Authenticate", mock.Anything, mock.Anything).Return(ErrUserCancelled).Once()

	_, err := v.Load(context.Background())
	assert.ErrorIs(t, err, ErrUserCancelled)
	gate.AssertExpectations(t)
}

func TestLoadStoreReadFailure(t *testing.T) {
	store := newMemStore()
	v := New(store, nil, WithAllowUngated(true))
	require.NoError(t, v.Store([]byte("correct horse")))

	store.failGet[AccountSecret] = errors.New("io")
	_, err := v.Load(context.Background())
	var ue *UnexpectedError
	assert.ErrorAs(t, err, &ue)
}

func TestKeyringStore(t *testing.T) {
	s := NewKeyringStore(keyring.NewArrayKeyring(nil))
	v := New(s, nil, WithAllowUngated(true))

	require.NoError(t, v.Store([]byte("correct horse")))
	assert.True(t, v.IsConfigured())

	sb, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, sb.Equal([]byte("correct horse")))
	sb.Destroy()

	require.NoError(t, v.Delete())
	assert.False(t, v.IsConfigured())
	_, err = s.Get(AccountSecret)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

// xorSealer stands in for the TPM.
type xorSealer struct{ calls int }

func (x *xorSealer) Seal(p []byte) ([]byte, error) {
	x.calls++
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (x *xorSealer) Unseal(p []byte) ([]byte, error) { return x.Seal(p) }

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault", "vault.db")
	sealer := &xorSealer{}
	s, err := OpenSQLiteStore(path, "io.hotcrypt.test", sealer)
	require.NoError(t, err)
	defer s.Close()

	v := New(s, nil, WithAllowUngated(true))
	require.NoError(t, v.Store([]byte("correct horse")))
	assert.Equal(t, 1, sealer.calls, "only the secret entry is sealed")

	var raw []byte
	require.NoError(t, s.db.QueryRow(
		`SELECT value FROM vault_entries WHERE account = ?`, AccountSecret,
	).Scan(&raw))
	assert.NotEqual(t, []byte("correct horse"), raw)

	sb, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, sb.Equal([]byte("correct horse")))
	sb.Destroy()

	require.NoError(t, v.Delete())
	assert.ErrorIs(t, s.Remove(AccountSecret), ErrEntryNotFound)
}

func TestSQLiteStoreIsolatesServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	a, err := OpenSQLiteStore(path, "svc.a", &xorSealer{})
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLiteStore(path, "svc.b", &xorSealer{})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set(AccountMarker, []byte("x"), false))
	_, err = b.Get(AccountMarker)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotcrypt/internal/runloop"
	"hotcrypt/internal/security"
)

type fakeLoader struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	err     error
	secret  string
}

func newFakeLoader(secret string) *fakeLoader {
	return &fakeLoader{secret: secret, started: make(chan struct{}, 16)}
}

func (f *fakeLoader) Load(ctx context.Context) (*security.SecureBytes, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return security.FromBytes([]byte(f.secret)), nil
}

func TestEnsureActiveLoadsOnce(t *testing.T) {
	loader := newFakeLoader("correct horse")
	s := New(loader, runloop.NewManual())

	require.NoError(t, s.EnsureActive(context.Background()))
	require.NoError(t, s.EnsureActive(context.Background()))

	assert.Equal(t, int32(1), loader.calls.Load())
	assert.True(t, s.Active())

	sb, err := s.Secret()
	require.NoError(t, err)
	defer sb.Destroy()
	assert.True(t, sb.Equal([]byte("correct horse")))
}

func TestEnsureActiveSingleFlight(t *testing.T) {
	loader := newFakeLoader("correct horse")
	loader.gate = make(chan struct{})
	s := New(loader, runloop.NewManual())

	const callers = 5
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- s.EnsureActive(context.Background())
	}()
	<-loader.started
	assert.True(t, s.Loading())

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureActive(context.Background())
		}()
	}

	close(loader.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.False(t, s.Loading())
}

func TestEnsureActiveSharesFailure(t *testing.T) {
	loader := newFakeLoader("")
	loader.err = errors.New("cancelled")
	s := New(loader, runloop.NewManual())

	assert.EqualError(t, s.EnsureActive(context.Background()), "cancelled")
	assert.False(t, s.Active())
	_, err := s.Secret()
	assert.ErrorIs(t, err, ErrInactive)

	// A failed load does not stick; the next call tries again.
	loader.err = nil
	loader.secret = "correct horse"
	require.NoError(t, s.EnsureActive(context.Background()))
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestExpiryWipesSecret(t *testing.T) {
	sched := runloop.NewManual()
	expired := 0
	s := New(newFakeLoader("correct horse"), sched,
		WithTimeout(time.Minute),
		OnExpire(func() { expired++ }),
	)

	require.NoError(t, s.EnsureActive(context.Background()))
	held := s.secret
	assert.Equal(t, 1, sched.Pending(), "one expiry timer")

	sched.Advance(59 * time.Second)
	assert.True(t, s.Active())

	sched.Advance(time.Second)
	assert.False(t, s.Active())
	assert.True(t, held.Destroyed())
	assert.Equal(t, 1, expired)

	_, ok := s.ExpiresAt()
	assert.False(t, ok)
}

func TestInvalidateCancelsTimer(t *testing.T) {
	sched := runloop.NewManual()
	expired := 0
	s := New(newFakeLoader("correct horse"), sched, OnExpire(func() { expired++ }))

	require.NoError(t, s.EnsureActive(context.Background()))
	held := s.secret

	s.Invalidate()
	s.Invalidate()
	assert.False(t, s.Active())
	assert.True(t, held.Destroyed())
	assert.Zero(t, sched.Pending())

	sched.Advance(DefaultTimeout * 2)
	assert.Zero(t, expired)
}

func TestReactivateArmsSingleTimer(t *testing.T) {
	sched := runloop.NewManual()
	loader := newFakeLoader("correct horse")
	s := New(loader, sched, WithTimeout(time.Minute))

	require.NoError(t, s.EnsureActive(context.Background()))
	sched.Advance(time.Minute)
	require.False(t, s.Active())

	require.NoError(t, s.EnsureActive(context.Background()))
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestActivateCancelsPriorTimer(t *testing.T) {
	sched := runloop.NewManual()
	expired := 0
	s := New(newFakeLoader("correct horse"), sched, WithTimeout(time.Minute),
		OnExpire(func() { expired++ }))

	s.mu.Lock()
	s.activateLocked(security.FromBytes([]byte("first")))
	s.activateLocked(security.FromBytes([]byte("second")))
	s.mu.Unlock()
	assert.Equal(t, 1, sched.Pending())

	sched.Advance(time.Minute)
	assert.Equal(t, 1, expired)
	assert.False(t, s.Active())
}

func TestInvalidateDuringLoadDiscardsSecret(t *testing.T) {
	loader := newFakeLoader("correct horse")
	loader.gate = make(chan struct{})
	s := New(loader, runloop.NewManual())

	errCh := make(chan error, 1)
	go func() { errCh <- s.EnsureActive(context.Background()) }()
	<-loader.started

	s.Invalidate()
	close(loader.gate)

	assert.ErrorIs(t, <-errCh, ErrInvalidated)
	assert.False(t, s.Active())
}

func TestSecretCopySurvivesExpiry(t *testing.T) {
	sched := runloop.NewManual()
	s := New(newFakeLoader("correct horse"), sched, WithTimeout(time.Second))
	require.NoError(t, s.EnsureActive(context.Background()))

	cp, err := s.Secret()
	require.NoError(t, err)
	defer cp.Destroy()

	sched.Advance(time.Second)
	require.False(t, s.Active())
	assert.True(t, cp.Equal([]byte("correct horse")))
}

func TestExpiresAt(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(newFakeLoader("correct horse"), runloop.NewManual(),
		WithClock(func() time.Time { return base }),
		WithTimeout(5*time.Minute),
	)
	require.NoError(t, s.EnsureActive(context.Background()))

	at, ok := s.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, base.Add(5*time.Minute), at)
}

type panicLoader struct{}

func (panicLoader) Load(context.Context) (*security.SecureBytes, error) {
	panic("keychain exploded")
}

func TestLoadPanicIsContained(t *testing.T) {
	s := New(panicLoader{}, runloop.NewManual())
	assert.Error(t, s.EnsureActive(context.Background()))
	assert.False(t, s.Loading())
}

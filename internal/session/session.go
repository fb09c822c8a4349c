// Package session holds the passphrase in memory for a bounded window after
// one successful vault read, so each shortcut press does not prompt again.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"hotcrypt/internal/logging"
	"hotcrypt/internal/runloop"
	"hotcrypt/internal/security"
)

// DefaultTimeout is how long a session stays active after authentication.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrInactive is returned by Secret when no session is active.
	ErrInactive = errors.New("session: not active")

	// ErrInvalidated is returned by EnsureActive when the session was
	// invalidated while the vault read was in flight. The secret read is
	// discarded.
	ErrInvalidated = errors.New("session: invalidated during load")
)

// Loader reads the passphrase from the vault. It may block on a biometric
// prompt.
type Loader interface {
	Load(ctx context.Context) (*security.SecureBytes, error)
}

// Session is safe for concurrent use. Expiry runs on the Scheduler.
type Session struct {
	mu sync.Mutex

	loader  Loader
	sched   runloop.Scheduler
	timeout time.Duration
	now     func() time.Time
	logger  *logging.Logger

	secret    *security.SecureBytes
	active    bool
	expiresAt time.Time
	cancel    runloop.CancelFunc

	// generation changes on every invalidation so stale timers and loads
	// can tell they lost the race.
	generation uint64
	pending    *call

	onExpire func()
}

type call struct {
	done chan struct{}
	err  error
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the expiry window.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock sets the time source used for ExpiresAt.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// OnExpire registers fn to run on the scheduler after a timeout wiped the
// session. Invalidate does not call it.
func OnExpire(fn func()) Option {
	return func(s *Session) { s.onExpire = fn }
}

// New creates an inactive Session.
func New(loader Loader, sched runloop.Scheduler, opts ...Option) *Session {
	s := &Session{
		loader:  loader,
		sched:   sched,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTimeout changes the expiry window for the next activation. A session
// that is already active keeps its deadline.
func (s *Session) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// EnsureActive loads the passphrase unless a session is already active.
// Concurrent callers share one vault read and all receive its outcome.
func (s *Session) EnsureActive(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	if c := s.pending; c != nil {
		s.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	s.pending = c
	gen := s.generation
	s.mu.Unlock()

	secret, err := s.load(ctx)

	s.mu.Lock()
	s.pending = nil
	switch {
	case err != nil:
		c.err = err
	case gen != s.generation:
		secret.Destroy()
		c.err = ErrInvalidated
	default:
		s.activateLocked(secret)
	}
	s.mu.Unlock()

	close(c.done)
	return c.err
}

func (s *Session) load(ctx context.Context) (secret *security.SecureBytes, err error) {
	defer s.logger.Recover("vault load", func(v any) {
		err = errors.New("session: vault load panicked")
	})
	return s.loader.Load(ctx)
}

func (s *Session) activateLocked(secret *security.SecureBytes) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wipeLocked()
	s.secret = secret
	s.active = true
	s.expiresAt = s.now().Add(s.timeout)

	gen := s.generation
	s.cancel = s.sched.After(s.timeout, func() { s.expire(gen) })
	s.logger.Info("session started", "expires_in", s.timeout.String())
}

// expire runs on the scheduler. A timer from an earlier generation is stale.
func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.active {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.wipeLocked()
	s.generation++
	s.mu.Unlock()

	s.logger.Info("session expired")
	if s.onExpire != nil {
		s.onExpire()
	}
}

// Invalidate wipes the secret and cancels the expiry timer. A vault read in
// flight completes with ErrInvalidated.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive := s.active
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wipeLocked()
	s.generation++
	if wasActive {
		s.logger.Info("session invalidated")
	}
}

func (s *Session) wipeLocked() {
	if s.secret != nil {
		s.secret.Destroy()
		s.secret = nil
	}
	s.active = false
	s.expiresAt = time.Time{}
}

// Secret returns a copy of the passphrase for one transform. The caller must
// Destroy it. The copy stays valid if the session expires meanwhile.
func (s *Session) Secret() (*security.SecureBytes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, ErrInactive
	}
	return s.secret.Clone()
}

// Active reports whether a passphrase is held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Loading reports whether a vault read is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// ExpiresAt returns when the active session ends.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt, s.active
}

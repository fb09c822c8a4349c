package shortcut

import (
	"errors"
	"fmt"
	"sync"

	"hotcrypt/internal/logging"
	"hotcrypt/internal/runloop"
)

// Backend is the narrow OS boundary. Install sets the single handler shared
// by all registrations; the handler receives the OS id Register returned and
// may be called from any goroutine.
type Backend interface {
	Install(handler func(osID uint32)) error
	Register(b Binding) (osID uint32, err error)
	Unregister(osID uint32) error
	Uninstall() error
}

// State is the registration state of a Listener.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	default:
		return "unknown"
	}
}

// Listener owns every live OS registration. Presses are delivered to
// onShortcut on the scheduler, one at a time.
type Listener struct {
	// opMu serializes Register and UnregisterAll across backend calls. mu
	// guards the fields below and is never held while calling the backend,
	// whose handler takes it.
	opMu sync.Mutex
	mu   sync.Mutex

	backend    Backend
	sched      runloop.Scheduler
	onShortcut func(ID)
	logger     *logging.Logger

	state     State
	installed bool
	byOS      map[uint32]ID
	bindings  map[ID]Binding
}

// NewListener creates an unregistered Listener.
func NewListener(backend Backend, sched runloop.Scheduler, onShortcut func(ID), logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Listener{
		backend:    backend,
		sched:      sched,
		onShortcut: onShortcut,
		logger:     logger,
		byOS:       make(map[uint32]ID),
		bindings:   make(map[ID]Binding),
	}
}

// Register replaces any live registrations with bindings. On failure every
// registration made by this call is undone, the handler is removed and an
// *Error is returned.
func (l *Listener) Register(bindings []Binding) error {
	l.mu.Lock()
	if l.state == Registering {
		l.mu.Unlock()
		return &Error{Kind: RegistrationFailed, Err: ErrBusy}
	}
	l.state = Registering
	l.mu.Unlock()

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.unregisterAll()
	byOS, byID, err := l.register(bindings)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = Unregistered
		return err
	}
	l.byOS = byOS
	l.bindings = byID
	l.state = Registered
	l.logger.Info("shortcuts registered", "bindings", fmt.Sprint(sortedBindings(byID)))
	return nil
}

func (l *Listener) register(bindings []Binding) (map[uint32]ID, map[ID]Binding, error) {
	byID := make(map[ID]Binding, len(bindings))
	chords := make(map[string]ID, len(bindings))
	for _, b := range bindings {
		if _, dup := byID[b.ID]; dup {
			return nil, nil, &Error{Kind: RegistrationFailed, ID: b.ID, Err: ErrDuplicate}
		}
		if other, dup := chords[b.Chord()]; dup {
			return nil, nil, &Error{Kind: RegistrationFailed, ID: b.ID,
				Err: fmt.Errorf("%w: %s already bound to %s", ErrDuplicate, b.Chord(), other)}
		}
		byID[b.ID] = b
		chords[b.Chord()] = b.ID
	}

	// The handler resolves ids through l.byOS, which is published only once
	// the whole set succeeded.
	if err := l.backend.Install(l.dispatch); err != nil {
		return nil, nil, &Error{Kind: HandlerInstallFailed, Err: err}
	}
	l.setInstalled(true)

	byOS := make(map[uint32]ID, len(bindings))
	for _, b := range bindings {
		osID, err := l.backend.Register(b)
		if err != nil {
			l.release(byOS)
			return nil, nil, &Error{Kind: RegistrationFailed, ID: b.ID, Err: err}
		}
		byOS[osID] = b.ID
	}
	return byOS, byID, nil
}

// UnregisterAll removes every registration and the handler. It is
// idempotent.
func (l *Listener) UnregisterAll() {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.unregisterAll()

	l.mu.Lock()
	l.state = Unregistered
	l.mu.Unlock()
}

func (l *Listener) unregisterAll() {
	l.mu.Lock()
	byOS := l.byOS
	l.byOS = make(map[uint32]ID)
	l.bindings = make(map[ID]Binding)
	l.mu.Unlock()

	l.release(byOS)
	if len(byOS) > 0 {
		l.logger.Info("shortcuts unregistered")
	}
}

// release unregisters byOS and removes the handler. Callers hold opMu.
func (l *Listener) release(byOS map[uint32]ID) {
	for osID, id := range byOS {
		if err := l.backend.Unregister(osID); err != nil {
			l.logger.Warn("unregister failed", "shortcut", id.String(), "error", err)
		}
	}

	l.mu.Lock()
	installed := l.installed
	l.mu.Unlock()
	if !installed {
		return
	}
	if err := l.backend.Uninstall(); err != nil {
		l.logger.Warn("handler uninstall failed", "error", err)
	}
	l.setInstalled(false)
}

func (l *Listener) setInstalled(v bool) {
	l.mu.Lock()
	l.installed = v
	l.mu.Unlock()
}

// dispatch is the OS handler. It may run on any goroutine.
func (l *Listener) dispatch(osID uint32) {
	l.mu.Lock()
	id, ok := l.byOS[osID]
	l.mu.Unlock()
	if !ok {
		return
	}

	l.sched.Post(func() {
		// Drop presses that raced with UnregisterAll.
		l.mu.Lock()
		current, still := l.byOS[osID]
		l.mu.Unlock()
		if !still || current != id {
			return
		}
		l.onShortcut(id)
	})
}

// State returns the registration state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Bindings returns the live bindings ordered by ID.
func (l *Listener) Bindings() []Binding {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedBindings(l.bindings)
}

// IsRegistrationError reports whether err came from Register.
func IsRegistrationError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

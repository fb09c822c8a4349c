// Package notify surfaces short, auto-dismissing messages to the user.
//
// Notifiers are fire-and-forget: Notify never blocks on the desktop and
// never reports failure to the caller; failures are logged.
package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hotcrypt/internal/logging"
)

// Notifier shows a notification.
type Notifier interface {
	Notify(title, message string)
}

// Backend names accepted by New.
const (
	BackendAuto    = "auto"
	BackendDesktop = "desktop"
	BackendLog     = "log"
	BackendNone    = "none"
)

// ErrNotSupported is returned when the platform has no desktop notifier.
var ErrNotSupported = errors.New("notify: desktop notifications not supported")

// Options configures New.
type Options struct {
	Backend string
	AppName string
	Timeout time.Duration
	Logger  *logging.Logger
}

// New builds the notifier for opts.Backend. Every notifier except "none"
// also logs. "auto" falls back to logging when the desktop is unreachable.
func New(opts Options) (Notifier, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.AppName == "" {
		opts.AppName = "hotcrypt"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	logN := NewLog(logger)

	switch opts.Backend {
	case BackendNone:
		return Nop{}, nil
	case BackendLog:
		return logN, nil
	case BackendDesktop, BackendAuto, "":
		desk, err := newDesktop(opts.AppName, opts.Timeout, logger)
		if err != nil {
			if opts.Backend == BackendDesktop {
				return nil, err
			}
			logger.Warn("desktop notifications unavailable, logging only", "error", err)
			return logN, nil
		}
		return NewMulti(logN, desk), nil
	default:
		return nil, fmt.Errorf("notify: unknown backend %q", opts.Backend)
	}
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(string, string) {}

// Log writes notifications to the logger.
type Log struct {
	logger *logging.Logger
}

// NewLog returns a logging notifier.
func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(title, message string) {
	l.logger.Info("notification", "title", title, "message", message)
}

// Multi fans a notification out to several notifiers.
type Multi struct {
	mu      sync.RWMutex
	targets []Notifier
}

// NewMulti returns a Multi over targets.
func NewMulti(targets ...Notifier) *Multi {
	return &Multi{targets: targets}
}

// Add appends a target.
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, n)
}

// Notify implements Notifier.
func (m *Multi) Notify(title, message string) {
	m.mu.RLock()
	targets := m.targets
	m.mu.RUnlock()
	for _, n := range targets {
		n.Notify(title, message)
	}
}

// Func adapts a function to Notifier.
type Func func(title, message string)

// Notify implements Notifier.
func (f Func) Notify(title, message string) { f(title, message) }

// Notification is one recorded notification.
type Notification struct {
	Title   string
	Message string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	got []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Notification{Title: title, Message: message})
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

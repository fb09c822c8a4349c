// Package permission reports whether the OS lets hotcrypt observe and
// synthesize keyboard input, and watches for that changing.
package permission

import (
	"sync"
	"time"

	"hotcrypt/internal/logging"
	"hotcrypt/internal/runloop"
)

// Oracle answers whether input monitoring and injection are permitted. The
// reason explains a denial in terms the user can act on.
type Oracle interface {
	Granted() (granted bool, reason string)
}

// DefaultInterval is how often the Watcher polls.
const DefaultInterval = 30 * time.Second

// Watcher polls an Oracle on a scheduler and reports transitions.
type Watcher struct {
	mu       sync.Mutex
	oracle   Oracle
	sched    runloop.Scheduler
	interval time.Duration
	onChange func(granted bool, reason string)
	logger   *logging.Logger

	known   bool
	granted bool
	cancel  runloop.CancelFunc
	running bool
}

// NewWatcher creates a stopped Watcher. onChange runs on sched whenever the
// grant flips, and once for the first observation.
func NewWatcher(oracle Oracle, sched runloop.Scheduler, interval time.Duration, onChange func(bool, string), logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Watcher{
		oracle:   oracle,
		sched:    sched,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Start posts the first check and arms the poll.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.sched.Post(w.tick)
}

// Stop cancels the poll. A check already running completes.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Check polls now, outside the regular schedule.
func (w *Watcher) Check() {
	w.sched.Post(func() { w.observe() })
}

// Granted returns the last observation.
func (w *Watcher) Granted() (granted, known bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.granted, w.known
}

func (w *Watcher) tick() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.observe()

	w.mu.Lock()
	if w.running {
		w.cancel = w.sched.After(w.interval, w.tick)
	}
	w.mu.Unlock()
}

func (w *Watcher) observe() {
	granted, reason := w.oracle.Granted()

	w.mu.Lock()
	changed := !w.known || granted != w.granted
	w.known = true
	w.granted = granted
	w.mu.Unlock()

	if !changed {
		return
	}
	if granted {
		w.logger.Info("input permission granted")
	} else {
		w.logger.Warn("input permission missing", "reason", reason)
	}
	if w.onChange != nil {
		w.onChange(granted, reason)
	}
}

// Static is an Oracle with a fixed answer that can be changed.
type Static struct {
	mu      sync.Mutex
	granted bool
	reason  string
}

// NewStatic returns a Static oracle.
func NewStatic(granted bool, reason string) *Static {
	return &Static{granted: granted, reason: reason}
}

// Granted implements Oracle.
func (s *Static) Granted() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, s.reason
}

// Set changes the answer.
func (s *Static) Set(granted bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
	s.reason = reason
}

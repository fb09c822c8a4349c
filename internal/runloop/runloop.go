// Package runloop provides the single execution context the engine runs on.
//
// Shortcut dispatches, timer callbacks and pipeline continuations are all
// posted to one Loop and run one at a time on its goroutine, so engine state
// needs no further locking against itself.
package runloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"hotcrypt/internal/logging"
)

// ErrStopped is returned by Run when the loop was already stopped.
var ErrStopped = errors.New("runloop: stopped")

// CancelFunc cancels a scheduled task. Calling it after the task ran, or more
// than once, does nothing.
type CancelFunc func()

// Scheduler runs tasks on one serial context.
type Scheduler interface {
	// Post queues fn to run as soon as possible.
	Post(fn func())

	// After queues fn to run once d has elapsed.
	After(d time.Duration, fn func()) CancelFunc
}

// Loop is a Scheduler backed by a goroutine draining an unbounded FIFO.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
	stopped bool
	done    chan struct{}
	logger  *logging.Logger
}

// New creates a Loop. Tasks posted before Run are kept and run once it
// starts.
func New(logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post implements Scheduler. Tasks posted after the loop stopped are
// dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Debug("task posted to stopped loop dropped")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After implements Scheduler. The timer fires on its own goroutine and posts
// fn; cancelling also suppresses a task already posted but not yet run.
func (l *Loop) After(d time.Duration, fn func()) CancelFunc {
	var (
		mu        sync.Mutex
		cancelled bool
	)
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			skip := cancelled
			mu.Unlock()
			if !skip {
				fn()
			}
		})
	})
	return func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
		t.Stop()
	}
}

// Sync posts fn and waits for it to run. It returns ctx.Err() if ctx ends
// first, or ErrStopped if the loop stops before running fn. Sync must not be
// called from the loop goroutine.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run drains the queue until ctx is cancelled. A panicking task is logged and
// the loop carries on. Tasks still queued when ctx ends are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped || l.running {
		l.mu.Unlock()
		return ErrStopped
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		dropped := len(l.queue)
		l.queue = nil
		l.mu.Unlock()
		if dropped > 0 {
			l.logger.Debug("run loop stopped with queued tasks", "dropped", dropped)
		}
		close(l.done)
	}()

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.run(fn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer l.logger.Recover("run loop task")
	fn()
}

package runloop

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by hand. Nothing runs until RunPending or
// Advance is called, which makes timing-dependent code deterministic under
// test.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	at        time.Duration
	seq       uint64
	fn        func()
	cancelled bool
}

// NewManual creates a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.After(0, fn)
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{at: m.now + d, seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, t)
	return func() {
		m.mu.Lock()
		t.cancelled = true
		m.mu.Unlock()
	}
}

// Elapsed returns the virtual time passed so far.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of live tasks, due or not.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// RunPending runs every task due at the current virtual time, including
// tasks those tasks post, and returns how many ran.
func (m *Manual) RunPending() int {
	return m.Advance(0)
}

// Advance moves virtual time forward by d, running due tasks in time order,
// and returns how many ran.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	ran := 0
	for {
		t := m.pop(target)
		if t == nil {
			break
		}
		t.fn()
		ran++
	}

	m.mu.Lock()
	if m.now < target {
		m.now = target
	}
	m.mu.Unlock()
	return ran
}

// pop removes and returns the earliest live task due by target.
func (m *Manual) pop(target time.Duration) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := -1
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.tasks = live

	for i, t := range m.tasks {
		if t.at > target {
			continue
		}
		if best < 0 || t.at < m.tasks[best].at ||
			(t.at == m.tasks[best].at && t.seq < m.tasks[best].seq) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	t := m.tasks[best]
	m.tasks = append(m.tasks[:best], m.tasks[best+1:]...)
	if t.at > m.now {
		m.now = t.at
	}
	return t
}

package runloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, l.Sync(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopNeverRunsTasksConcurrently(t *testing.T) {
	l, _ := startLoop(t)

	var inFlight, maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() {
					n := atomic.AddInt32(&inFlight, 1)
					if n > atomic.LoadInt32(&maxSeen) {
						atomic.StoreInt32(&maxSeen, n)
					}
					atomic.AddInt32(&inFlight, -1)
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Sync(context.Background(), func() {}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestLoopPostFromTask(t *testing.T) {
	l, _ := startLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post did not run")
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Sync(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopAfterAndCancel(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan struct{}, 1)
	l.After(10*time.Millisecond, func() { fired <- struct{}{} })

	var cancelledRan atomic.Bool
	cancel := l.After(10*time.Millisecond, func() { cancelledRan.Store(true) })
	cancel()
	cancel()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Sync(context.Background(), func() {}))
	assert.False(t, cancelledRan.Load())
}

func TestLoopStop(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	<-l.Done()

	assert.ErrorIs(t, l.Sync(context.Background(), func() {}), ErrStopped)
	assert.ErrorIs(t, l.Run(context.Background()), ErrStopped)
}

func TestManualOrdering(t *testing.T) {
	m := NewManual()
	var got []string

	m.After(500*time.Millisecond, func() { got = append(got, "restore") })
	m.After(150*time.Millisecond, func() {
		got = append(got, "capture")
		m.Post(func() { got = append(got, "after-capture") })
	})
	m.Post(func() { got = append(got, "now") })

	assert.Equal(t, 1, m.RunPending())
	assert.Equal(t, []string{"now"}, got)

	assert.Equal(t, 2, m.Advance(150*time.Millisecond))
	assert.Equal(t, []string{"now", "capture", "after-capture"}, got)

	m.Advance(349 * time.Millisecond)
	assert.Len(t, got, 3)
	m.Advance(time.Millisecond)
	assert.Equal(t, "restore", got[3])
	assert.Equal(t, 500*time.Millisecond, m.Elapsed())
	assert.Zero(t, m.Pending())
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	ran := false
	cancel := m.After(time.Second, func() { ran = true })
	assert.Equal(t, 1, m.Pending())

	cancel()
	assert.Zero(t, m.Pending())
	m.Advance(2 * time.Second)
	assert.False(t, ran)
}

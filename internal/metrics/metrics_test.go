package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="2"}`, Labels{"b": "2", "a": "1"}.String())
}

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("hc")

	c := r.Counter("presses_total", "help", nil)
	c.Inc()
	c.Add(2)
	assert.Equal(t, uint64(3), c.Value())
	assert.Same(t, c, r.Counter("presses_total", "help", nil))

	g := r.Gauge("enabled", "help", nil)
	g.SetBool(true)
	assert.Equal(t, int64(1), g.Value())
	g.Add(-1)
	assert.Equal(t, int64(0), g.Value())
}

func TestLabelledSeriesAreDistinct(t *testing.T) {
	r := NewRegistry("")
	r.Counter("runs_total", "", Labels{"result": "success"}).Inc()
	r.Counter("runs_total", "", Labels{"result": "failed"}).Add(2)

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap[`runs_total{result="success"}`])
	assert.Equal(t, 2.0, snap[`runs_total{result="failed"}`])
}

func TestTypeMismatchPanics(t *testing.T) {
	r := NewRegistry("")
	r.Counter("x", "", nil)
	assert.Panics(t, func() { r.Gauge("x", "", nil) })
}

func TestHistogram(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("latency_seconds", "", nil, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.ObserveDuration(2 * time.Second)

	assert.Equal(t, uint64(3), h.Count())
	assert.InDelta(t, 2.55, h.Sum(), 1e-9)
	assert.InDelta(t, 0.85, h.Mean(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "# TYPE latency_seconds histogram")
	assert.Contains(t, out, `latency_seconds_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `latency_seconds_bucket{le="1"} 2`)
	assert.Contains(t, out, `latency_seconds_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "latency_seconds_count 3")
}

func TestWritePrometheusIsSorted(t *testing.T) {
	r := NewRegistry("hc")
	r.Counter("b_total", "B.", nil).Inc()
	r.Counter("a_total", "A.", Labels{"k": "2"}).Inc()
	r.Counter("a_total", "A.", Labels{"k": "1"}).Inc()

	var first, second bytes.Buffer
	require.NoError(t, r.WritePrometheus(&first))
	require.NoError(t, r.WritePrometheus(&second))
	assert.Equal(t, first.String(), second.String())

	out := first.String()
	assert.Less(t, strings.Index(out, "hc_a_total"), strings.Index(out, "hc_b_total"))
	assert.Less(t, strings.Index(out, `hc_a_total{k="1"}`), strings.Index(out, `hc_a_total{k="2"}`))
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry("")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Counter("n", "", nil).Inc()
				r.Histogram("h", "", nil, nil).Observe(0.2)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800.0, r.Snapshot()["n"])
	assert.Equal(t, 800.0, r.Snapshot()["h_count"])
}

func TestEngineMetrics(t *testing.T) {
	r := NewRegistry("hotcrypt")
	m := NewEngine(r)

	m.Press(false)
	m.Press(true)
	m.Unlock(300*time.Millisecond, false)
	m.Unlock(time.Second, true)
	m.Run("encrypt", "success", 100*time.Millisecond)
	m.Run("encrypt", "success", 100*time.Millisecond)
	m.Run("decrypt", "failed", 50*time.Millisecond)
	m.Enabled(true)

	snap := r.Snapshot()
	assert.Equal(t, 2.0, snap["hotcrypt_shortcut_presses_total"])
	assert.Equal(t, 1.0, snap["hotcrypt_shortcut_presses_dropped_total"])
	assert.Equal(t, 1.0, snap["hotcrypt_unlock_failures_total"])
	assert.Equal(t, 2.0, snap["hotcrypt_unlock_duration_seconds_count"])
	assert.Equal(t, 2.0, snap[`hotcrypt_runs_total{direction="encrypt",result="success"}`])
	assert.Equal(t, 1.0, snap[`hotcrypt_runs_total{direction="decrypt",result="failed"}`])
	assert.Equal(t, 2.0, snap[`hotcrypt_run_duration_seconds_count{direction="encrypt"}`])
	assert.Equal(t, 1.0, snap["hotcrypt_shortcuts_enabled"])
}

func TestNilEngineMetrics(t *testing.T) {
	var m *Engine
	assert.NotPanics(t, func() {
		m.Press(true)
		m.Unlock(time.Second, true)
		m.Run("encrypt", "success", time.Second)
		m.Enabled(true)
	})
	assert.Nil(t, m.Registry())
}

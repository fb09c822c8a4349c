// Package metrics keeps in-process counters for hotcryptd.
//
// Metrics are never exported over the network. The daemon reports a
// snapshot in its status reply and can dump them in Prometheus text form.
// A series is a name plus a label set; one name may carry several label
// sets, e.g. runs_total{direction="encrypt",result="success"}.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the Prometheus type name.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels sorted by key, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns a copy of l with key set to value.
func (l Labels) with(key, value string) Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[key] = value
	return out
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds v to the counter.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Value returns the current value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	value atomic.Int64
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// SetBool stores 1 for true and 0 for false.
func (g *Gauge) SetBool(v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// Add adds v to the gauge.
func (g *Gauge) Add(v int64) {
	g.value.Add(v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// DurationBuckets are upper bounds in seconds, sized for press-to-paste
// latency and biometric prompts.
var DurationBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Histogram tracks the distribution of values.
type Histogram struct {
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, not cumulative; last slot is +Inf
	sum    float64
	count  uint64
}

func newHistogram(buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.buckets, v)

	h.mu.Lock()
	h.counts[idx]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Mean returns the mean of observed values.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

type series struct {
	labels    Labels
	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
}

type family struct {
	name   string
	help   string
	typ    MetricType
	series map[string]*series // keyed by Labels.String()
}

// Registry holds all registered metrics.
type Registry struct {
	mu        sync.RWMutex
	families  map[string]*family
	namespace string
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace and an underscore.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		families:  make(map[string]*family),
		namespace: namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// lookup returns the series for name and labels, creating it with mk on
// first use. Asking for a registered name with another type panics.
func (r *Registry) lookup(name, help string, typ MetricType, labels Labels, mk func(*series)) *series {
	full := r.fullName(name)
	key := labels.String()

	r.mu.RLock()
	if f, ok := r.families[full]; ok && f.typ == typ {
		if s, ok := f.series[key]; ok {
			r.mu.RUnlock()
			return s
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[full]
	if !ok {
		f = &family{name: full, help: help, typ: typ, series: make(map[string]*series)}
		r.families[full] = f
	}
	if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", full, f.typ, typ))
	}
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: labels}
		mk(s)
		f.series[key] = s
	}
	return s
}

// Counter returns the counter for name and labels.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	return r.lookup(name, help, TypeCounter, labels, func(s *series) {
		s.counter = &Counter{}
	}).counter
}

// Gauge returns the gauge for name and labels.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	return r.lookup(name, help, TypeGauge, labels, func(s *series) {
		s.gauge = &Gauge{}
	}).gauge
}

// Histogram returns the histogram for name and labels. Nil buckets means
// DurationBuckets. Buckets are fixed when the series is first created.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	return r.lookup(name, help, TypeHistogram, labels, func(s *series) {
		s.histogram = newHistogram(buckets)
	}).histogram
}

func (r *Registry) sortedFamilies() []*family {
	out := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (f *family) sortedKeys() []string {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes all metrics in Prometheus text format, sorted by
// name and then label set.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.sortedFamilies() {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.typ); err != nil {
			return err
		}
		for _, key := range f.sortedKeys() {
			s := f.series[key]
			var err error
			switch f.typ {
			case TypeCounter:
				_, err = fmt.Fprintf(w, "%s%s %d\n", f.name, key, s.counter.Value())
			case TypeGauge:
				_, err = fmt.Fprintf(w, "%s%s %d\n", f.name, key, s.gauge.Value())
			case TypeHistogram:
				err = writeHistogram(w, f.name, s.labels, s.histogram)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeHistogram(w io.Writer, name string, labels Labels, h *Histogram) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		le := labels.with("le", fmt.Sprintf("%g", bound))
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", name, le, cumulative); err != nil {
			return err
		}
	}
	cumulative += h.counts[len(h.buckets)]
	if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", name, labels.with("le", "+Inf"), cumulative); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s_sum%s %g\n%s_count%s %d\n", name, labels, h.sum, name, labels, h.count)
	return err
}

// Snapshot flattens every series into a number keyed by name and labels.
// Histograms contribute _count, _sum and _mean entries.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]float64)
	for _, f := range r.families {
		for key, s := range f.series {
			switch f.typ {
			case TypeCounter:
				snap[f.name+key] = float64(s.counter.Value())
			case TypeGauge:
				snap[f.name+key] = float64(s.gauge.Value())
			case TypeHistogram:
				snap[f.name+"_count"+key] = float64(s.histogram.Count())
				snap[f.name+"_sum"+key] = s.histogram.Sum()
				snap[f.name+"_mean"+key] = s.histogram.Mean()
			}
		}
	}
	return snap
}

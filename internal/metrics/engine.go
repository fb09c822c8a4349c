package metrics

import "time"

// Engine groups the series the daemon core updates. All methods are safe
// on a nil *Engine, so callers without a registry need no checks.
type Engine struct {
	reg *Registry

	presses        *Counter
	dropped        *Counter
	unlockFailures *Counter
	unlockDuration *Histogram
	enabled        *Gauge
}

// NewEngine registers the engine series in reg.
func NewEngine(reg *Registry) *Engine {
	return &Engine{
		reg:            reg,
		presses:        reg.Counter("shortcut_presses_total", "Shortcut presses received.", nil),
		dropped:        reg.Counter("shortcut_presses_dropped_total", "Presses ignored because an operation was in flight.", nil),
		unlockFailures: reg.Counter("unlock_failures_total", "Vault reads that did not produce a passphrase.", nil),
		unlockDuration: reg.Histogram("unlock_duration_seconds", "Time from press to unlocked session.", nil, nil),
		enabled:        reg.Gauge("shortcuts_enabled", "1 while the shortcuts are registered.", nil),
	}
}

// Registry returns the registry the series live in.
func (m *Engine) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Press counts a shortcut press. dropped marks one ignored while busy.
func (m *Engine) Press(dropped bool) {
	if m == nil {
		return
	}
	m.presses.Inc()
	if dropped {
		m.dropped.Inc()
	}
}

// Unlock records a finished vault read. Cancelled reads are not failures.
func (m *Engine) Unlock(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.unlockDuration.ObserveDuration(d)
	if failed {
		m.unlockFailures.Inc()
	}
}

// Run records a finished pipeline run.
func (m *Engine) Run(direction, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := Labels{"direction": direction, "result": result}
	m.reg.Counter("runs_total", "Pipeline runs by direction and result.", labels).Inc()
	m.reg.Histogram("run_duration_seconds", "Pipeline run time by direction.",
		Labels{"direction": direction}, nil).ObserveDuration(elapsed)
}

// Enabled mirrors whether the shortcuts are registered.
func (m *Engine) Enabled(on bool) {
	if m == nil {
		return
	}
	m.enabled.SetBool(on)
}

package engine

import (
	"time"
)

// Status is a point-in-time view of the engine.
type Status struct {
	Enabled           bool         `json:"enabled"`
	Configured        bool         `json:"configured"`
	PermissionGranted bool         `json:"permission_granted"`
	PermissionReason  string       `json:"permission_reason,omitempty"`
	BiometryAvailable bool         `json:"biometry_available"`
	SessionActive     bool         `json:"session_active"`
	SessionExpiresAt  time.Time    `json:"session_expires_at,omitempty"`
	ListenerState     string       `json:"listener_state"`
	Bindings          []string     `json:"bindings,omitempty"`
	PipelineState     string       `json:"pipeline_state"`
	LastOutcome       *OutcomeInfo `json:"last_outcome,omitempty"`
}

// Status queries every component. The vault and the permission oracle are
// asked directly, so the answer reflects the present, not the last poll.
func (e *Engine) Status() Status {
	granted, reason := e.oracle.Granted()
	st := Status{
		Configured:        e.vault.IsConfigured(),
		PermissionGranted: granted,
		PermissionReason:  reason,
		BiometryAvailable: e.vault.BiometryAvailable(),
		ListenerState:     e.listener.State().String(),
	}
	if exp, ok := e.sess.ExpiresAt(); ok {
		st.SessionActive = true
		st.SessionExpiresAt = exp
	}
	for _, b := range e.listener.Bindings() {
		st.Bindings = append(st.Bindings, b.String())
	}

	e.mu.Lock()
	st.Enabled = e.enabled
	st.PipelineState = e.pipeState.String()
	if e.last != nil {
		last := *e.last
		st.LastOutcome = &last
	}
	e.mu.Unlock()
	return st
}

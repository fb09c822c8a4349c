package engine

import (
	"time"

	"hotcrypt/internal/pipeline"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventNotification EventKind = "notification"
	EventState        EventKind = "state"
	EventOutcome      EventKind = "outcome"
)

// Event is published to subscribers. Events never carry clipboard content
// or secrets.
type Event struct {
	Kind    EventKind    `json:"kind"`
	Time    time.Time    `json:"time"`
	Title   string       `json:"title,omitempty"`
	Message string       `json:"message,omitempty"`
	Outcome *OutcomeInfo `json:"outcome,omitempty"`
}

// OutcomeInfo summarizes a finished pipeline run.
type OutcomeInfo struct {
	Direction string        `json:"direction"`
	Result    string        `json:"result"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	At        time.Time     `json:"at"`
}

// Subscribe registers fn for every event. fn is called synchronously from
// whichever goroutine published the event and must not block. The returned
// function removes the subscription.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) publish(ev Event) {
	ev.Time = e.now()

	e.mu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) publishNotification(title, message string) {
	e.publish(Event{Kind: EventNotification, Title: title, Message: message})
}

func (e *Engine) publishState(message string) {
	e.publish(Event{Kind: EventState, Message: message})
}

// onPipelineState runs on the scheduler.
func (e *Engine) onPipelineState(s pipeline.State) {
	e.mu.Lock()
	e.pipeState = s
	e.mu.Unlock()
}

// onOutcome runs on the scheduler after the run's notification.
func (e *Engine) onOutcome(o pipeline.Outcome) {
	info := &OutcomeInfo{
		Direction: o.Direction.String(),
		Result:    o.Result.String(),
		Elapsed:   o.Elapsed,
		At:        e.now(),
	}
	if o.Err != nil {
		info.Error = o.Err.Error()
	}

	e.mu.Lock()
	e.last = info
	e.mu.Unlock()
	e.metrics.Run(info.Direction, info.Result, o.Elapsed)

	e.publish(Event{Kind: EventOutcome, Outcome: info})
}

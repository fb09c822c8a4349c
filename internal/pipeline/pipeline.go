// Package pipeline moves the user's selection through the clipboard: copy
// it out, transform it, paste the result over it, and put the user's
// original clipboard back.
//
// A run is a state machine driven by the scheduler:
//
//	Idle -> CapturingSelection -> Deciding -> Transforming -> Replacing -> Restoring -> Idle
//	                                  |             |             |
//	                                  v             v             v
//	                               Aborted        Failed        Failed
//
// Every terminal outcome restores the clipboard snapshot and produces
// exactly one notification.
package pipeline

import (
	"errors"
	"time"

	"hotcrypt/internal/clipboard"
	"hotcrypt/internal/input"
	"hotcrypt/internal/logging"
	"hotcrypt/internal/notify"
	"hotcrypt/internal/runloop"
	"hotcrypt/internal/security"
	"hotcrypt/internal/textcrypt"
)

// Default delays. They are empirical: long enough for typical applications
// to service a synthetic copy or paste.
const (
	DefaultCaptureDelay = 150 * time.Millisecond
	DefaultRestoreDelay = 500 * time.Millisecond
)

// Direction selects encryption or decryption.
type Direction int

const (
	Encrypt Direction = iota + 1
	Decrypt
)

func (d Direction) String() string {
	switch d {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// State is a step of a run.
type State int

const (
	Idle State = iota
	CapturingSelection
	Deciding
	Transforming
	Replacing
	Restoring
	Aborted
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	CapturingSelection: "capturing_selection",
	Deciding:           "deciding",
	Transforming:       "transforming",
	Replacing:          "replacing",
	Restoring:          "restoring",
	Aborted:            "aborted",
	Failed:             "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Result is how a run ended.
type Result int

const (
	Succeeded Result = iota + 1
	AbortedNoSelection
	FailedRun
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case AbortedNoSelection:
		return "aborted"
	case FailedRun:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports a finished run.
type Outcome struct {
	Direction Direction
	Result    Result
	Err       error
	Elapsed   time.Duration
}

// Options tunes the delays.
type Options struct {
	CaptureDelay time.Duration
	RestoreDelay time.Duration
	Title        string
}

// Pipeline runs at most one transform at a time. All methods must be called
// on the scheduler's context.
type Pipeline struct {
	clip     clipboard.Clipboard
	inj      input.Injector
	crypto   textcrypt.Engine
	notifier notify.Notifier
	sched    runloop.Scheduler
	opts     Options
	logger   *logging.Logger
	now      func() time.Time
	onState  func(State)

	state State
	cur   *run
}

// run is the state owned by one transform.
type run struct {
	dir     Direction
	secret  *security.SecureBytes
	snap    snapshot
	started time.Time
	done    func(Outcome)
}

// snapshot is the clipboard as it was before the run.
type snapshot struct {
	text    string
	present bool
}

// Option configures a Pipeline beyond its collaborators.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithStateHook calls fn on every state change, terminal states included.
func WithStateHook(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// WithClock sets the time source for Outcome.Elapsed.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates an idle Pipeline.
func New(clip clipboard.Clipboard, inj input.Injector, crypto textcrypt.Engine, notifier notify.Notifier, sched runloop.Scheduler, opts Options, extra ...Option) *Pipeline {
	if opts.CaptureDelay <= 0 {
		opts.CaptureDelay = DefaultCaptureDelay
	}
	if opts.RestoreDelay <= 0 {
		opts.RestoreDelay = DefaultRestoreDelay
	}
	if opts.Title == "" {
		opts.Title = "hotcrypt"
	}
	p := &Pipeline{
		clip:     clip,
		inj:      inj,
		crypto:   crypto,
		notifier: notifier,
		sched:    sched,
		opts:     opts,
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, o := range extra {
		o(p)
	}
	return p
}

// SetDelays changes the delays for runs started afterwards. Zero keeps the
// current value.
func (p *Pipeline) SetDelays(capture, restore time.Duration) {
	if capture > 0 {
		p.opts.CaptureDelay = capture
	}
	if restore > 0 {
		p.opts.RestoreDelay = restore
	}
}

// ErrBusy is returned by Run while another run is in flight.
var ErrBusy = errors.New("pipeline: run in flight")

// Busy reports whether a run is in flight.
func (p *Pipeline) Busy() bool {
	return p.cur != nil
}

// State returns the current step.
func (p *Pipeline) State() State {
	return p.state
}

// Run starts a transform of the current selection. Run takes ownership of
// secret and destroys it once the Transforming step is over. done, if not
// nil, is called on the scheduler after the terminal notification.
func (p *Pipeline) Run(dir Direction, secret *security.SecureBytes, done func(Outcome)) error {
	if p.cur != nil {
		secret.Destroy()
		return ErrBusy
	}
	r := &run{dir: dir, secret: secret, started: p.now(), done: done}
	p.cur = r
	p.logger.Debug("pipeline run started", "direction", dir.String())

	p.setState(CapturingSelection)
	if !p.clip.Available() {
		p.fail(r, ErrClipboardUnavailable, false)
		return nil
	}

	text, present, err := p.clip.Read()
	if err != nil {
		// No snapshot means nothing to restore; end before the copy chord.
		p.logger.Warn("clipboard snapshot failed", "error", err)
		p.fail(r, ErrClipboardUnavailable, false)
		return nil
	}
	r.snap = snapshot{text: text, present: present}

	if err := p.inj.PressCopyChord(); err != nil {
		p.fail(r, &InjectionError{Chord: "copy", Err: err}, true)
		return nil
	}

	p.sched.After(p.opts.CaptureDelay, func() { p.decide(r) })
	return nil
}

func (p *Pipeline) decide(r *run) {
	p.setState(Deciding)

	text, present, err := p.clip.Read()
	if err != nil {
		p.logger.Warn("clipboard read after copy failed", "error", err)
		present = false
	}
	if !present || (r.snap.present && text == r.snap.text) {
		p.abort(r)
		return
	}

	p.setState(Transforming)
	out, err := p.transform(r, text)
	r.secret.Destroy()
	if err != nil {
		p.fail(r, &CryptoError{Message: err.Error(), Err: err}, true)
		return
	}

	p.setState(Replacing)
	if err := p.clip.Write(out); err != nil {
		p.logger.Warn("clipboard write failed", "error", err)
		p.fail(r, ErrClipboardUnavailable, true)
		return
	}
	if err := p.inj.PressPasteChord(); err != nil {
		p.fail(r, &InjectionError{Chord: "paste", Err: err}, true)
		return
	}

	p.sched.After(p.opts.RestoreDelay, func() { p.complete(r) })
}

func (p *Pipeline) transform(r *run, text string) (out string, err error) {
	if r.secret == nil {
		return "", errors.New("passphrase not available")
	}
	err = r.secret.Use(func(pass []byte) error {
		var terr error
		switch r.dir {
		case Encrypt:
			out, terr = textcrypt.EncryptText(p.crypto, text, pass)
		case Decrypt:
			out, terr = textcrypt.DecryptText(p.crypto, text, pass)
		default:
			terr = errors.New("unknown direction")
		}
		return terr
	})
	if errors.Is(err, security.ErrDestroyed) {
		err = errors.New("passphrase not available")
	}
	return out, err
}

func (p *Pipeline) complete(r *run) {
	p.setState(Restoring)
	p.restore(r)

	msg := "Text encrypted"
	if r.dir == Decrypt {
		msg = "Text decrypted"
	}
	p.finish(r, Outcome{Direction: r.dir, Result: Succeeded}, Idle, p.opts.Title, msg)
}

func (p *Pipeline) abort(r *run) {
	p.restore(r)
	r.secret.Destroy()
	p.finish(r, Outcome{Direction: r.dir, Result: AbortedNoSelection, Err: ErrNoSelection},
		Aborted, p.opts.Title, "No text selected")
}

// fail restores the snapshot when one was taken and ends the run.
func (p *Pipeline) fail(r *run, err error, restore bool) {
	if restore {
		p.restore(r)
	}
	r.secret.Destroy()
	p.finish(r, Outcome{Direction: r.dir, Result: FailedRun, Err: err},
		Failed, failureTitle(r.dir, err), failureMessage(err))
}

// restore writes the snapshot back. An absent snapshot clears the
// clipboard so no transformed text is left behind.
func (p *Pipeline) restore(r *run) {
	cur, present, err := p.clip.Read()
	if err == nil && present == r.snap.present && cur == r.snap.text {
		return
	}

	if r.snap.present {
		err = p.clip.Write(r.snap.text)
	} else {
		err = p.clip.Clear()
	}
	if err != nil {
		p.logger.Error("clipboard restore failed", "error", err)
	}
}

func (p *Pipeline) finish(r *run, out Outcome, terminal State, title, message string) {
	out.Elapsed = p.now().Sub(r.started)
	if terminal != Idle {
		p.setState(terminal)
	}
	p.setState(Idle)
	p.cur = nil

	p.logger.Info("pipeline run finished",
		"direction", out.Direction.String(),
		"result", out.Result.String(),
		"elapsed", out.Elapsed.String(),
	)
	p.notifier.Notify(title, message)
	if r.done != nil {
		r.done(out)
	}
}

func (p *Pipeline) setState(s State) {
	p.state = s
	if p.onState != nil {
		p.onState(s)
	}
}

func failureTitle(dir Direction, err error) string {
	var ce *CryptoError
	if errors.As(err, &ce) {
		if dir == Decrypt {
			return "Decryption failed"
		}
		return "Encryption failed"
	}
	return "hotcrypt"
}

func failureMessage(err error) string {
	var ce *CryptoError
	switch {
	case errors.As(err, &ce):
		return ce.Message
	case errors.Is(err, ErrClipboardUnavailable):
		return "Clipboard unavailable"
	default:
		return err.Error()
	}
}

// Package engine wires the credential vault, the session, the shortcut
// listener and the transform pipeline into the hotcrypt daemon core.
//
// Shortcut presses, pipeline steps and timers all run on one scheduler.
// The vault read is the only blocking step and runs on its own goroutine;
// its result is posted back. A press that arrives while a run or a vault
// read is in flight is dropped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"hotcrypt/internal/clipboard"
	"hotcrypt/internal/input"
	"hotcrypt/internal/logging"
	"hotcrypt/internal/metrics"
	"hotcrypt/internal/notify"
	"hotcrypt/internal/permission"
	"hotcrypt/internal/pipeline"
	"hotcrypt/internal/runloop"
	"hotcrypt/internal/security"
	"hotcrypt/internal/session"
	"hotcrypt/internal/shortcut"
	"hotcrypt/internal/textcrypt"
	"hotcrypt/internal/vault"
)

// DefaultMinPassphraseLength applies when Options leaves it unset.
const DefaultMinPassphraseLength = 8

var (
	// ErrNotConfigured means no passphrase is stored.
	ErrNotConfigured = errors.New("no passphrase configured")

	// ErrPermissionDenied means the OS does not allow input monitoring.
	ErrPermissionDenied = errors.New("input permission not granted")

	// ErrPassphraseTooShort is returned by SetPassphrase.
	ErrPassphraseTooShort = errors.New("passphrase too short")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Vault is the part of vault.Vault the engine uses.
type Vault interface {
	session.Loader
	Store(secret []byte) error
	Delete() error
	IsConfigured() bool
	BiometryAvailable() bool
}

// Deps are the collaborators the engine drives. The engine does not close
// them.
type Deps struct {
	Vault     Vault
	Backend   shortcut.Backend
	Clipboard clipboard.Clipboard
	Injector  input.Injector
	Crypto    textcrypt.Engine
	Notifier  notify.Notifier
	Oracle    permission.Oracle
	Scheduler runloop.Scheduler
	Logger    *logging.Logger
	Metrics   *metrics.Registry // optional
}

// Options are the tunables taken from configuration.
type Options struct {
	Bindings            []shortcut.Binding
	SessionTimeout      time.Duration
	CaptureDelay        time.Duration
	RestoreDelay        time.Duration
	PermissionInterval  time.Duration
	AutoEnable          bool
	MinPassphraseLength int
	Title               string
	Clock               func() time.Time
}

// Engine is safe for concurrent use. Methods other than the scheduler
// callbacks may be called from any goroutine.
type Engine struct {
	vault    Vault
	sched    runloop.Scheduler
	oracle   permission.Oracle
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  *metrics.Engine
	now      func() time.Time
	title    string

	sess     *session.Session
	listener *shortcut.Listener
	pipe     *pipeline.Pipeline
	watcher  *permission.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	// loading and loadStart are owned by the scheduler.
	loading   bool
	loadStart time.Time

	mu           sync.Mutex
	opts         Options
	enabled      bool
	userDisabled bool
	closed       bool
	pipeState    pipeline.State
	last         *OutcomeInfo
	subs         map[int]func(Event)
	nextSub      int
}

// New builds an engine. Shortcuts start disabled; call Start to begin
// permission polling and Enable to register them.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Vault == nil || deps.Backend == nil || deps.Clipboard == nil ||
		deps.Injector == nil || deps.Crypto == nil || deps.Scheduler == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Oracle == nil {
		deps.Oracle = permission.NewStatic(true, "")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if opts.MinPassphraseLength <= 0 {
		opts.MinPassphraseLength = DefaultMinPassphraseLength
	}
	if opts.Title == "" {
		opts.Title = "hotcrypt"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	var m *metrics.Engine
	if deps.Metrics != nil {
		m = metrics.NewEngine(deps.Metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		metrics: m,
		vault:   deps.Vault,
		sched:   deps.Scheduler,
		oracle:  deps.Oracle,
		logger:  deps.Logger.WithComponent("engine"),
		now:     opts.Clock,
		title:   opts.Title,
		ctx:     ctx,
		cancel:  cancel,
		opts:    opts,
		subs:    make(map[int]func(Event)),
	}
	e.notifier = notify.NewMulti(deps.Notifier, notify.Func(e.publishNotification))

	e.sess = session.New(deps.Vault, deps.Scheduler,
		session.WithTimeout(opts.SessionTimeout),
		session.WithClock(opts.Clock),
		session.WithLogger(deps.Logger.WithComponent("session")),
		session.OnExpire(e.onSessionExpired),
	)
	e.listener = shortcut.NewListener(deps.Backend, deps.Scheduler, e.onShortcut,
		deps.Logger.WithComponent("shortcut"))
	e.pipe = pipeline.New(deps.Clipboard, deps.Injector, deps.Crypto, e.notifier, deps.Scheduler,
		pipeline.Options{
			CaptureDelay: opts.CaptureDelay,
			RestoreDelay: opts.RestoreDelay,
			Title:        opts.Title,
		},
		pipeline.WithLogger(deps.Logger.WithComponent("pipeline")),
		pipeline.WithClock(opts.Clock),
		pipeline.WithStateHook(e.onPipelineState),
	)
	e.watcher = permission.NewWatcher(deps.Oracle, deps.Scheduler, opts.PermissionInterval,
		e.onPermission, deps.Logger.WithComponent("permission"))
	return e, nil
}

// Start begins permission polling. With AutoEnable set, shortcuts are
// registered as soon as permission and a passphrase are both present.
func (e *Engine) Start() {
	e.watcher.Start()
}

// Close unregisters shortcuts, wipes the session and stops polling. A run
// in flight still restores the clipboard.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.enabled = false
	e.mu.Unlock()

	e.watcher.Stop()
	e.listener.UnregisterAll()
	e.sess.Invalidate()
	e.cancel()
	e.logger.Info("engine closed")
	return nil
}

// drainPoll is how often Shutdown asks the scheduler whether a run is
// still in flight.
const drainPoll = 10 * time.Millisecond

// drainMargin is added to the pipeline delays to bound Shutdown.
const drainMargin = time.Second

// Shutdown closes the engine, then waits until no pipeline run is in
// flight so a pending restore still reaches the clipboard. The wait ends
// after the capture and restore delays plus drainMargin, or when ctx ends.
// The scheduler must keep running until Shutdown returns, and Shutdown
// must not be called from it.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Close()

	e.mu.Lock()
	capture, restore := e.opts.CaptureDelay, e.opts.RestoreDelay
	e.mu.Unlock()
	if capture <= 0 {
		capture = pipeline.DefaultCaptureDelay
	}
	if restore <= 0 {
		restore = pipeline.DefaultRestoreDelay
	}

	ctx, cancel := context.WithTimeout(ctx, capture+restore+drainMargin)
	defer cancel()
	if err := e.drain(ctx); err != nil {
		e.logger.Warn("pipeline run still in flight at shutdown", "error", err)
		return err
	}
	return nil
}

// drain polls the scheduler until the pipeline is idle.
func (e *Engine) drain(ctx context.Context) error {
	tick := time.NewTicker(drainPoll)
	defer tick.Stop()
	for {
		busy := make(chan bool, 1)
		e.sched.Post(func() { busy <- e.pipe.Busy() })
		select {
		case b := <-busy:
			if !b {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CanEnable reports whether Enable would be allowed, and why not.
func (e *Engine) CanEnable() (bool, string) {
	if !e.vault.IsConfigured() {
		return false, ErrNotConfigured.Error()
	}
	if granted, reason := e.oracle.Granted(); !granted {
		if reason == "" {
			reason = ErrPermissionDenied.Error()
		}
		return false, reason
	}
	return true, ""
}

// Enable registers both shortcuts.
func (e *Engine) Enable() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	bindings := append([]shortcut.Binding(nil), e.opts.Bindings...)
	e.mu.Unlock()

	if !e.vault.IsConfigured() {
		return ErrNotConfigured
	}
	if granted, reason := e.oracle.Granted(); !granted {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
	}

	if err := e.listener.Register(bindings); err != nil {
		e.logger.Error("shortcut registration failed", "error", err)
		e.setEnabled(false, false)
		return err
	}
	e.setEnabled(true, false)
	return nil
}

// Disable unregisters the shortcuts and ends the session. An explicit
// Disable also suppresses auto-enable until the next Enable.
func (e *Engine) Disable() {
	e.listener.UnregisterAll()
	e.sess.Invalidate()
	e.setEnabled(false, true)
}

func (e *Engine) setEnabled(enabled, byUser bool) {
	e.mu.Lock()
	changed := e.enabled != enabled
	e.enabled = enabled
	if enabled {
		e.userDisabled = false
	} else if byUser {
		e.userDisabled = true
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	e.metrics.Enabled(enabled)
	if enabled {
		e.logger.Info("shortcuts enabled")
		e.publishState("enabled")
	} else {
		e.logger.Info("shortcuts disabled")
		e.publishState("disabled")
	}
}

// Enabled reports whether shortcuts are registered.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Lock ends the session without disabling shortcuts. The next press
// authenticates again.
func (e *Engine) Lock() {
	e.sess.Invalidate()
	e.publishState("locked")
}

// SetPassphrase stores passphrase, replacing any existing one, and ends the
// session holding the old one. The caller keeps ownership of passphrase.
func (e *Engine) SetPassphrase(passphrase []byte) error {
	e.mu.Lock()
	minLen := e.opts.MinPassphraseLength
	e.mu.Unlock()

	if n := utf8.RuneCount(passphrase); n < minLen {
		return fmt.Errorf("%w: %d characters, need at least %d", ErrPassphraseTooShort, n, minLen)
	}
	if err := e.vault.Store(passphrase); err != nil {
		return fmt.Errorf("store passphrase: %w", err)
	}
	e.sess.Invalidate()
	e.logger.Info("passphrase stored")
	e.publishState("passphrase stored")

	e.sched.Post(e.tryAutoEnable)
	return nil
}

// DeletePassphrase disables the shortcuts and removes the stored
// passphrase.
func (e *Engine) DeletePassphrase() error {
	e.listener.UnregisterAll()
	e.sess.Invalidate()
	e.setEnabled(false, false)

	if err := e.vault.Delete(); err != nil {
		return fmt.Errorf("delete passphrase: %w", err)
	}
	e.logger.Info("passphrase deleted")
	e.publishState("passphrase deleted")
	return nil
}

// Reset returns to the first-run state: shortcuts off, no passphrase, no
// session and no remembered outcome.
func (e *Engine) Reset() error {
	if err := e.DeletePassphrase(); err != nil {
		return err
	}
	e.mu.Lock()
	e.userDisabled = false
	e.last = nil
	e.mu.Unlock()
	e.publishState("reset")
	return nil
}

// Reconfigure applies new options. Bindings are re-registered when the
// shortcuts are on; delays and the session timeout apply to the next run
// and the next unlock.
func (e *Engine) Reconfigure(opts Options) error {
	e.mu.Lock()
	if opts.MinPassphraseLength <= 0 {
		opts.MinPassphraseLength = DefaultMinPassphraseLength
	}
	opts.Title = e.title
	opts.Clock = e.now
	e.opts = opts
	enabled := e.enabled
	e.mu.Unlock()

	e.sess.SetTimeout(opts.SessionTimeout)
	e.sched.Post(func() { e.pipe.SetDelays(opts.CaptureDelay, opts.RestoreDelay) })

	if !enabled {
		return nil
	}
	if err := e.listener.Register(opts.Bindings); err != nil {
		e.logger.Error("shortcut re-registration failed", "error", err)
		e.setEnabled(false, false)
		return err
	}
	e.publishState("reconfigured")
	return nil
}

// onShortcut runs on the scheduler.
func (e *Engine) onShortcut(id shortcut.ID) {
	dir := directionFor(id)
	if e.pipe.Busy() || e.loading {
		e.metrics.Press(true)
		e.logger.Debug("shortcut dropped, operation in flight", "shortcut", id.String())
		return
	}
	e.metrics.Press(false)

	if secret, err := e.sess.Secret(); err == nil {
		e.startRun(dir, secret)
		return
	}

	e.loading = true
	e.loadStart = e.now()
	ctx := e.ctx
	go func() {
		err := e.sess.EnsureActive(ctx)
		e.sched.Post(func() { e.afterLoad(dir, err) })
	}()
}

// afterLoad runs on the scheduler.
func (e *Engine) afterLoad(dir pipeline.Direction, err error) {
	e.loading = false
	elapsed := e.now().Sub(e.loadStart)

	switch {
	case err == nil:
		e.metrics.Unlock(elapsed, false)
	case errors.Is(err, vault.ErrUserCancelled):
		e.logger.Info("authentication cancelled")
		return
	case errors.Is(err, session.ErrInvalidated), errors.Is(err, context.Canceled):
		e.logger.Debug("vault read discarded", "reason", err)
		return
	default:
		e.metrics.Unlock(elapsed, true)
		e.logger.Warn("vault read failed", "error", err)
		e.notifier.Notify(e.title, loadFailureMessage(err))
		return
	}

	if !e.Enabled() {
		e.logger.Debug("shortcut dropped, disabled during authentication")
		return
	}
	secret, err := e.sess.Secret()
	if err != nil {
		e.logger.Debug("session ended before the run started")
		return
	}
	e.startRun(dir, secret)
}

// startRun runs on the scheduler and hands secret to the pipeline.
func (e *Engine) startRun(dir pipeline.Direction, secret *security.SecureBytes) {
	if err := e.pipe.Run(dir, secret, e.onOutcome); err != nil {
		e.logger.Debug("shortcut dropped", "error", err)
	}
}

// onSessionExpired runs on the scheduler after the session timed out.
func (e *Engine) onSessionExpired() {
	e.publishState("session expired")
	e.notifier.Notify(e.title, "Session expired")
}

// onPermission runs on the scheduler whenever the grant flips.
func (e *Engine) onPermission(granted bool, reason string) {
	if granted {
		e.publishState("input permission granted")
		e.tryAutoEnable()
		return
	}

	e.publishState("input permission missing")
	if !e.Enabled() {
		return
	}
	e.logger.Warn("input permission lost, disabling shortcuts", "reason", reason)
	e.listener.UnregisterAll()
	e.sess.Invalidate()
	e.setEnabled(false, false)
	e.notifier.Notify(e.title, "Shortcuts disabled: "+reason)
}

// tryAutoEnable runs on the scheduler. It enables the shortcuts when
// AutoEnable is set, the user has not turned them off and Enable would
// succeed.
func (e *Engine) tryAutoEnable() {
	e.mu.Lock()
	skip := !e.opts.AutoEnable || e.enabled || e.userDisabled || e.closed
	e.mu.Unlock()
	if skip {
		return
	}
	if ok, _ := e.CanEnable(); !ok {
		return
	}
	if err := e.Enable(); err != nil {
		e.notifier.Notify(e.title, "Could not register shortcuts: "+errorReason(err))
	}
}

func directionFor(id shortcut.ID) pipeline.Direction {
	if id == shortcut.Decrypt {
		return pipeline.Decrypt
	}
	return pipeline.Encrypt
}

func loadFailureMessage(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return "No passphrase configured"
	case errors.Is(err, vault.ErrAuthenticationFailed):
		return "Authentication failed"
	case errors.Is(err, vault.ErrPlatformUnavailable):
		return "Secure storage unavailable"
	default:
		return "Could not unlock the passphrase"
	}
}

// errorReason strips the listener's wrapping down to the OS reason.
func errorReason(err error) string {
	var se *shortcut.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

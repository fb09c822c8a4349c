package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotcrypt/internal/config"
	"hotcrypt/internal/engine"
	"hotcrypt/internal/logging"
	"hotcrypt/internal/metrics"
	"hotcrypt/internal/security"
	"hotcrypt/internal/shortcut"
	"hotcrypt/internal/vault"
)

// Controller is the daemon surface the handler drives.
type Controller interface {
	Status() engine.Status
	Enable() error
	Disable()
	Lock()
	SetPassphrase(passphrase []byte) error
	DeletePassphrase() error
	Reset() error
}

// DaemonHandler implements Handler over a Controller.
type DaemonHandler struct {
	ctl       Controller
	reload    func() error
	version   string
	startedAt time.Time
	clients   func() int
	metrics   *metrics.Registry
	logger    *logging.Logger
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Controller Controller
	// Reload re-reads the configuration file. Nil disables reload.
	Reload  func() error
	Version string
	// Clients reports the number of connected clients for status.
	Clients func() int
	// Metrics, when set, is snapshotted into every status reply.
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &DaemonHandler{
		ctl:       cfg.Controller,
		reload:    cfg.Reload,
		version:   cfg.Version,
		startedAt: time.Now(),
		clients:   cfg.Clients,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithComponent("ipc"),
	}
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	h.logger.Debug("request", "client", client.ID, "type", msg.Header.Type.String())

	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(id)

	case MsgEnable:
		return h.result(id, h.ctl.Enable())

	case MsgDisable:
		h.ctl.Disable()
		return h.ok(id)

	case MsgLock:
		h.ctl.Lock()
		return h.ok(id)

	case MsgSetPassphrase:
		return h.handleSetPassphrase(id, msg)

	case MsgDeletePassphrase:
		return h.result(id, h.ctl.DeletePassphrase())

	case MsgReset:
		return h.result(id, h.ctl.Reset())

	case MsgReloadConfig:
		if h.reload == nil {
			return NewErrorMessage(id, ErrNotSupported, "configuration reload not available"), nil
		}
		return h.result(id, h.reload())

	default:
		return NewErrorMessage(id, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

func (h *DaemonHandler) handleStatus(id uint32) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second),
		StartedAt: h.startedAt,
		Engine:    h.ctl.Status(),
	}
	if h.clients != nil {
		resp.Clients = h.clients()
	}
	if h.metrics != nil {
		resp.Metrics = h.metrics.Snapshot()
	}
	return NewResponse(MsgStatusResponse, id, resp)
}

func (h *DaemonHandler) handleSetPassphrase(id uint32, msg *Message) (*Message, error) {
	var req SetPassphraseRequest
	defer security.Wipe(msg.Payload)
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid request"), nil
	}
	defer security.Wipe(req.Passphrase)

	return h.result(id, h.ctl.SetPassphrase(req.Passphrase))
}

func (h *DaemonHandler) ok(id uint32) (*Message, error) {
	return NewMessage(MsgOK, id, nil), nil
}

func (h *DaemonHandler) result(id uint32, err error) (*Message, error) {
	if err == nil {
		return h.ok(id)
	}
	code := errorCode(err)
	if code == ErrInternalError {
		h.logger.Error("request failed", "error", err)
	}
	return NewErrorMessage(id, code, err.Error()), nil
}

// errorCode maps daemon errors onto protocol codes.
func errorCode(err error) int {
	var verrs config.ValidationErrors
	switch {
	case errors.Is(err, engine.ErrNotConfigured), errors.Is(err, vault.ErrNotFound):
		return ErrNotConfigured
	case errors.Is(err, engine.ErrPermissionDenied):
		return ErrInputPermission
	case errors.Is(err, engine.ErrPassphraseTooShort):
		return ErrPassphraseTooShort
	case errors.Is(err, vault.ErrUserCancelled), errors.Is(err, vault.ErrAuthenticationFailed):
		return ErrAuthenticationAbort
	case errors.Is(err, vault.ErrPlatformUnavailable):
		return ErrVaultUnavailable
	case errors.Is(err, shortcut.ErrNotSupported):
		return ErrNotSupported
	case shortcut.IsRegistrationError(err):
		return ErrRegistrationFailed
	case errors.As(err, &verrs):
		return ErrConfigInvalid
	default:
		return ErrInternalError
	}
}

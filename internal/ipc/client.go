package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/security"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with hotcryptd
type IPCClient struct {
	mu           sync.RWMutex
	conn         net.Conn
	connectionID string
	version      string

	connected atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32
	writeMu   sync.Mutex

	// Event handling
	eventChan chan *engine.Event
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "hotcryptctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 90 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *engine.Event, 64),
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
	}
}

// Connect dials the daemon and performs the handshake
func (c *IPCClient) Connect() error {
	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	c.closeOnce.Do(func() { close(c.eventChan) })
	return nil
}

// close drops the connection and fails every pending request
func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// ConnectionID returns the ID the server assigned to this connection
func (c *IPCClient) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// ServerVersion returns the daemon version reported at handshake
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Events returns the channel streamed events arrive on after Subscribe.
// It is closed by Close.
func (c *IPCClient) Events() <-chan *engine.Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *IPCClient) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		InstanceID:      uuid.NewString(),
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.call(MsgHandshake, req, MsgHandshakeAck)
	if err != nil {
		return err
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.connectionID = ack.ConnectionID
	c.version = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// call sends a request and checks the response type. Error responses come
// back as *RemoteError.
func (c *IPCClient) call(msgType MessageType, payload any, want MessageType) (*Message, error) {
	resp, err := c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return nil, fmt.Errorf("decode error response: %w", err)
		}
		return nil, &RemoteError{Code: errResp.Code, Message: errResp.Message}
	}
	if resp.Header.Type != want {
		return nil, fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}
	return resp, nil
}

// requestWithTimeout sends a request and waits for the matching response
func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}
	if msgType == MsgSetPassphrase {
		security.Wipe(data)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(conn)
}

// readLoop reads messages until the connection fails
func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.write(NewMessage(MsgPing, c.nextReqID.Add(1), nil))
				continue
			}
			c.close()
			return
		}
		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPing:
		c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))

	case MsgEvent:
		var event engine.Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
			// Channel full, drop event
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}
	return nil
}

// Status requests the daemon status
func (c *IPCClient) Status() (*StatusResponse, error) {
	resp, err := c.call(MsgStatusRequest, nil, MsgStatusResponse)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Enable turns the shortcuts on.
func (c *IPCClient) Enable() error {
	_, err := c.call(MsgEnable, nil, MsgOK)
	return err
}

// Disable turns the shortcuts off.
func (c *IPCClient) Disable() error {
	_, err := c.call(MsgDisable, nil, MsgOK)
	return err
}

// Lock ends the daemon's passphrase session.
func (c *IPCClient) Lock() error {
	_, err := c.call(MsgLock, nil, MsgOK)
	return err
}

// SetPassphrase stores a new passphrase. The encoded request is wiped once
// written; the caller still owns passphrase.
func (c *IPCClient) SetPassphrase(passphrase []byte) error {
	_, err := c.call(MsgSetPassphrase, &SetPassphraseRequest{Passphrase: passphrase}, MsgOK)
	return err
}

// DeletePassphrase removes the stored passphrase.
func (c *IPCClient) DeletePassphrase() error {
	_, err := c.call(MsgDeletePassphrase, nil, MsgOK)
	return err
}

// Reset returns the daemon to its first-run state.
func (c *IPCClient) Reset() error {
	_, err := c.call(MsgReset, nil, MsgOK)
	return err
}

// Reload asks the daemon to re-read its configuration file.
func (c *IPCClient) Reload() error {
	_, err := c.call(MsgReloadConfig, nil, MsgOK)
	return err
}

// Subscribe starts event streaming. Events arrive on Events. No kinds
// means every kind.
func (c *IPCClient) Subscribe(kinds ...engine.EventKind) error {
	_, err := c.call(MsgSubscribe, &SubscribeRequest{Kinds: kinds}, MsgSubscribeResp)
	return err
}

// Unsubscribe stops event streaming.
func (c *IPCClient) Unsubscribe() error {
	_, err := c.call(MsgUnsubscribe, nil, MsgOK)
	return err
}

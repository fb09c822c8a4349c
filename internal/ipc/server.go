package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/logging"
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server is the IPC server that manages client connections
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	handler     Handler
	clients     map[string]*Client
	subscribers map[string]*subscription
	version     string
	startedAt   time.Time
	logger      *logging.Logger

	maxConns       int
	idleTimeout    time.Duration
	writeTimeout   time.Duration
	requestTimeout time.Duration
	verifyPeer     func(net.Conn) (bool, error)

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32

	// eventChan is closed by Stop under mu.
	eventChan chan engine.Event
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Version      string
	Name         string
	InstanceID   string
	Handshaken   bool
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// subscription tracks event subscriptions
type subscription struct {
	clientID string
	kinds    map[engine.EventKind]bool
}

func (s *subscription) wants(kind engine.EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string // Unix socket path
	Version        string // Server version
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxConnections int
	Logger         *logging.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "dev",
		IdleTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxConnections: 8,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path required")
	}
	def := DefaultServerConfig(cfg.SocketPath)
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:     cfg.SocketPath,
		handler:        handler,
		version:        cfg.Version,
		clients:        make(map[string]*Client),
		subscribers:    make(map[string]*subscription),
		logger:         cfg.Logger.WithComponent("ipc"),
		maxConns:       cfg.MaxConnections,
		idleTimeout:    cfg.IdleTimeout,
		writeTimeout:   cfg.WriteTimeout,
		requestTimeout: cfg.RequestTimeout,
		verifyPeer:     VerifyPeerIsCurrentUser,
		ctx:            ctx,
		cancel:         cancel,
		eventChan:      make(chan engine.Event, 64),
	}, nil
}

// Start begins listening for connections
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("another daemon is listening on %s", s.socketPath)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	if err := SetSocketPermissions(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.eventBroadcaster()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc server stop timed out")
	}

	os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// StartedAt returns when Start succeeded.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for every subscribed client. Events are dropped
// when the queue is full or the server is stopped.
func (s *Server) Broadcast(event engine.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		s.logger.Debug("event dropped, queue full", "kind", string(event.Kind))
	}
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if ok, err := s.verifyPeer(conn); !ok {
			s.logger.Warn("rejected connection from another user", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.maxConns {
			s.mu.Unlock()
			s.logger.Warn("rejected connection, limit reached", "max", s.maxConns)
			conn.Close()
			continue
		}
		now := time.Now()
		client := &Client{
			ID:           uuid.NewString(),
			conn:         conn,
			ConnectedAt:  now,
			LastActivity: now,
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer s.logger.Recover("ipc connection")
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Debug("client disconnected", "client", client.ID)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.sendPing(client)
				continue
			}
			s.logger.Debug("read failed", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgPong:
		return nil, nil

	case MsgHandshake:
		return s.handleHandshake(client, msg)
	}

	client.mu.Lock()
	handshaken := client.Handshaken
	client.mu.Unlock()
	if !handshaken {
		return NewErrorMessage(msg.Header.RequestID, ErrHandshakeRequired, "handshake required"), nil
	}

	switch msg.Header.Type {
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)

	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	defer cancel()
	return s.handler.HandleMessage(ctx, client, msg)
}

// handleHandshake processes handshake request
func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.InstanceID = req.InstanceID
	client.Handshaken = true
	client.mu.Unlock()

	s.logger.Debug("client connected", "client", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	resp := &HandshakeResponse{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		ConnectionID:    client.ID,
	}
	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, resp)
}

// handleSubscribe processes event subscription
func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
		}
	}

	sub := &subscription{
		clientID: client.ID,
		kinds:    make(map[engine.EventKind]bool),
	}
	for _, k := range req.Kinds {
		sub.kinds[k] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{SubscriptionID: client.ID})
}

// handleUnsubscribe processes event unsubscription
func (s *Server) handleUnsubscribe(client *Client, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()

	return NewMessage(MsgOK, msg.Header.RequestID, nil), nil
}

// eventBroadcaster broadcasts events to subscribers
func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for event := range s.eventChan {
		payload, err := Encode(event)
		if err != nil {
			s.logger.Warn("encode event failed", "error", err)
			continue
		}

		s.mu.RLock()
		var targets []*Client
		for clientID, sub := range s.subscribers {
			if !sub.wants(event.Kind) {
				continue
			}
			if client, ok := s.clients[clientID]; ok {
				targets = append(targets, client)
			}
		}
		s.mu.RUnlock()

		for _, client := range targets {
			msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
			if err := s.sendMessage(client, msg); err != nil {
				s.logger.Debug("event delivery failed", "client", client.ID, "error", err)
			}
		}
	}
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return msg.Write(client.conn)
}

// sendPing sends a ping to keep connection alive
func (s *Server) sendPing(client *Client) {
	msg := NewMessage(MsgPing, s.nextRequestID.Add(1), nil)
	s.sendMessage(client, msg)
}

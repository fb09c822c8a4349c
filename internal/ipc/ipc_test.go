package ipc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/metrics"
)

func TestHeaderRoundTrip(t *testing.T) {
	msg := NewMessage(MsgStatusRequest, 42, []byte(`{"a":1}`))
	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+7, buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgStatusRequest, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, uint32(7), got.Header.Length)
	assert.Equal(t, `{"a":1}`, string(got.Payload))
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], 0xdeadbeef)
	buf[4] = ProtocolVersion

	_, err := ReadHeader(bytes.NewReader(buf))
	assert.ErrorContains(t, err, "invalid magic")
}

func TestReadHeaderRejectsNewerVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], ProtocolMagic)
	buf[4] = ProtocolVersion + 1

	_, err := ReadHeader(bytes.NewReader(buf))
	assert.ErrorContains(t, err, "unsupported protocol version")
}

func TestReadMessageRejectsOversizePayload(t *testing.T) {
	h := Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Type:    MsgSetPassphrase,
		Length:  MaxPayload + 1,
	}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadMessage(&buf)
	assert.ErrorContains(t, err, "payload too large")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "set_passphrase", MsgSetPassphrase.String())
	assert.Equal(t, "message(0x7777)", MessageType(0x7777).String())
}

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{engine.ErrNotConfigured, ErrNotConfigured},
		{engine.ErrPermissionDenied, ErrInputPermission},
		{engine.ErrPassphraseTooShort, ErrPassphraseTooShort},
		{errors.New("boom"), ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(tt.err))
		})
	}
}

type fakeController struct {
	mu         sync.Mutex
	status     engine.Status
	enableErr  error
	enabled    bool
	locked     int
	passphrase string
	deleted    bool
	reset      bool
}

func (f *fakeController) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.Enabled = f.enabled
	return st
}

func (f *fakeController) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeController) Disable() {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
}

func (f *fakeController) Lock() {
	f.mu.Lock()
	f.locked++
	f.mu.Unlock()
}

func (f *fakeController) SetPassphrase(p []byte) error {
	if len(p) < engine.DefaultMinPassphraseLength {
		return engine.ErrPassphraseTooShort
	}
	f.mu.Lock()
	f.passphrase = string(p)
	f.mu.Unlock()
	return nil
}

func (f *fakeController) DeletePassphrase() error {
	f.mu.Lock()
	f.deleted = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Reset() error {
	f.mu.Lock()
	f.reset = true
	f.mu.Unlock()
	return nil
}

type serverFixture struct {
	srv     *Server
	ctl     *fakeController
	client  *IPCClient
	metrics *metrics.Registry
	reload  int
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	// Unix socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "hc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	f := &serverFixture{
		ctl:     &fakeController{status: engine.Status{Configured: true, ListenerState: "registered"}},
		metrics: metrics.NewRegistry("hotcrypt"),
	}

	var srv *Server
	handler := NewDaemonHandler(DaemonHandlerConfig{
		Controller: f.ctl,
		Reload: func() error {
			f.ctl.mu.Lock()
			f.reload++
			f.ctl.mu.Unlock()
			return nil
		},
		Version: "test",
		Clients: func() int { return srv.ClientCount() },
		Metrics: f.metrics,
	})
	srv, err = NewServer(ServerConfig{SocketPath: socket, Version: "test"}, handler)
	require.NoError(t, err)
	srv.verifyPeer = func(net.Conn) (bool, error) { return true, nil }
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	f.srv = srv

	cfg := DefaultClientConfig(socket)
	cfg.RequestTimeout = 5 * time.Second
	f.client = NewClient(cfg)
	require.NoError(t, f.client.Connect())
	t.Cleanup(func() { f.client.Close() })
	return f
}

func TestClientHandshake(t *testing.T) {
	f := newServerFixture(t)

	assert.True(t, f.client.IsConnected())
	assert.Equal(t, "test", f.client.ServerVersion())
	assert.NotEmpty(t, f.client.ConnectionID())
	assert.NoError(t, f.client.Ping())
}

func TestClientStatus(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.client.Enable())
	st, err := f.client.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, 1, st.Clients)
	assert.True(t, st.Engine.Enabled)
	assert.True(t, st.Engine.Configured)
	assert.Equal(t, "registered", st.Engine.ListenerState)
}

func TestClientStatusMetrics(t *testing.T) {
	f := newServerFixture(t)
	metrics.NewEngine(f.metrics).Press(true)

	st, err := f.client.Status()
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Metrics["hotcrypt_shortcut_presses_total"])
	assert.Equal(t, 1.0, st.Metrics["hotcrypt_shortcut_presses_dropped_total"])
}

func TestClientCommands(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.client.Lock())
	require.NoError(t, f.client.DeletePassphrase())
	require.NoError(t, f.client.Reset())
	require.NoError(t, f.client.Reload())

	f.ctl.mu.Lock()
	defer f.ctl.mu.Unlock()
	assert.Equal(t, 1, f.ctl.locked)
	assert.True(t, f.ctl.deleted)
	assert.True(t, f.ctl.reset)
	assert.Equal(t, 1, f.reload)
}

func TestClientSetPassphrase(t *testing.T) {
	f := newServerFixture(t)

	pass := []byte("correct horse")
	require.NoError(t, f.client.SetPassphrase(pass))
	assert.Equal(t, "correct horse", string(pass), "caller's buffer is left alone")

	f.ctl.mu.Lock()
	assert.Equal(t, "correct horse", f.ctl.passphrase)
	f.ctl.mu.Unlock()

	err := f.client.SetPassphrase([]byte("short"))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrPassphraseTooShort, remote.Code)
}

func TestClientRemoteError(t *testing.T) {
	f := newServerFixture(t)
	f.ctl.mu.Lock()
	f.ctl.enableErr = engine.ErrPermissionDenied
	f.ctl.mu.Unlock()

	err := f.client.Enable()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInputPermission, remote.Code)
	assert.Equal(t, engine.ErrPermissionDenied.Error(), remote.Message)
}

func TestServerRequiresHandshake(t *testing.T) {
	f := newServerFixture(t)

	conn, err := net.Dial("unix", f.srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, NewMessage(MsgStatusRequest, 1, nil).Write(conn))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, MsgError, resp.Header.Type)

	var er ErrorResponse
	require.NoError(t, Decode(resp.Payload, &er))
	assert.Equal(t, ErrHandshakeRequired, er.Code)
}

func TestServerRejectsSecondInstance(t *testing.T) {
	f := newServerFixture(t)

	other, err := NewServer(ServerConfig{SocketPath: f.srv.SocketPath()}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, other.Start(), "another daemon")
}

func TestSubscribeReceivesEvents(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.client.Subscribe(engine.EventOutcome))

	// Filtered out.
	f.srv.Broadcast(engine.Event{Kind: engine.EventState, Message: "running"})
	f.srv.Broadcast(engine.Event{
		Kind:    engine.EventOutcome,
		Outcome: &engine.OutcomeInfo{Direction: "encrypt", Result: "success"},
	})

	select {
	case ev := <-f.client.Events():
		require.NotNil(t, ev)
		assert.Equal(t, engine.EventOutcome, ev.Kind)
		require.NotNil(t, ev.Outcome)
		assert.Equal(t, "encrypt", ev.Outcome.Direction)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, f.client.Unsubscribe())
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := NewClient(DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock")))
	assert.ErrorIs(t, c.Connect(), ErrDaemonNotRunning)
	_, err := c.Status()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHandlerFunc(t *testing.T) {
	called := false
	h := HandlerFunc(func(ctx context.Context, c *Client, m *Message) (*Message, error) {
		called = true
		return NewMessage(MsgOK, m.Header.RequestID, nil), nil
	})
	resp, err := h.HandleMessage(context.Background(), &Client{}, NewMessage(MsgLock, 3, nil))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, uint32(3), resp.Header.RequestID)
}

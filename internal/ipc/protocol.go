// Package ipc is the control channel between hotcryptd and its clients.
//
// Messages are framed with a fixed 16-byte header followed by a JSON
// payload. Requests carry an ID that the matching response echoes; events
// pushed to subscribers use fresh IDs.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"hotcrypt/internal/engine"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x48435043 // "HCPC"
)

// MaxPayload bounds a single message.
const MaxPayload = 1 << 20

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgOK           MessageType = 0x0006

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Shortcut control (0x02xx)
	MsgEnable  MessageType = 0x0200
	MsgDisable MessageType = 0x0201
	MsgLock    MessageType = 0x0202

	// Passphrase management (0x03xx)
	MsgSetPassphrase    MessageType = 0x0300
	MsgDeletePassphrase MessageType = 0x0301
	MsgReset            MessageType = 0x0302

	// Configuration (0x04xx)
	MsgReloadConfig MessageType = 0x0400

	// Event streaming (0x05xx)
	MsgSubscribe     MessageType = 0x0500
	MsgSubscribeResp MessageType = 0x0501
	MsgUnsubscribe   MessageType = 0x0502
	MsgEvent         MessageType = 0x0504
)

var messageNames = map[MessageType]string{
	MsgPing:             "ping",
	MsgPong:             "pong",
	MsgHandshake:        "handshake",
	MsgHandshakeAck:     "handshake_ack",
	MsgError:            "error",
	MsgOK:               "ok",
	MsgStatusRequest:    "status",
	MsgStatusResponse:   "status_response",
	MsgEnable:           "enable",
	MsgDisable:          "disable",
	MsgLock:             "lock",
	MsgSetPassphrase:    "set_passphrase",
	MsgDeletePassphrase: "delete_passphrase",
	MsgReset:            "reset",
	MsgReloadConfig:     "reload_config",
	MsgSubscribe:        "subscribe",
	MsgSubscribeResp:    "subscribe_response",
	MsgUnsubscribe:      "unsubscribe",
	MsgEvent:            "event",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message(0x%04x)", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message as one buffer so concurrent readers never see a
// header without its payload.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.Header.Magic)
	buf[4] = m.Header.Version
	buf[5] = m.Header.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Header.Type))
	binary.BigEndian.PutUint32(buf[8:12], m.Header.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	InstanceID      string `json:"instance_id"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ConnectionID    string `json:"connection_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrUnknown             = 1
	ErrInvalidRequest      = 2
	ErrPermissionDenied    = 3
	ErrInternalError       = 4
	ErrNotConfigured       = 5
	ErrInputPermission     = 6
	ErrRegistrationFailed  = 7
	ErrPassphraseTooShort  = 8
	ErrHandshakeRequired   = 9
	ErrNotSupported        = 10
	ErrVaultUnavailable    = 11
	ErrConfigInvalid       = 12
	ErrAuthenticationAbort = 13
)

// StatusResponse contains daemon status
type StatusResponse struct {
	Version   string             `json:"version"`
	Uptime    time.Duration      `json:"uptime"`
	StartedAt time.Time          `json:"started_at"`
	Clients   int                `json:"clients"`
	Engine    engine.Status      `json:"engine"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// SetPassphraseRequest carries a new passphrase. The daemon wipes it after
// storing.
type SetPassphraseRequest struct {
	Passphrase []byte `json:"passphrase"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Kinds []engine.EventKind `json:"kinds,omitempty"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// RemoteError is an ErrorResponse surfaced by the client.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

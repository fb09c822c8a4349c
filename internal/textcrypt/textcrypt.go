// Package textcrypt turns a plaintext selection into a printable ciphertext
// and back, keyed by a passphrase.
//
// Wire format (before base64):
//
//	salt (32) | nonce (12) | ciphertext (n) | GCM tag (16)
//
// The AES-256 key is derived from the passphrase with PBKDF2-HMAC-SHA256.
package textcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"hotcrypt/internal/security"
)

// Framing and KDF parameters.
const (
	SaltSize          = 32
	NonceSize         = 12
	KeySize           = 32
	TagSize           = 16
	DefaultIterations = 100_000

	// MinSealedSize is the length of a sealed empty plaintext.
	MinSealedSize = SaltSize + NonceSize + TagSize
)

var (
	ErrEmptyPassphrase = errors.New("empty passphrase")
	ErrInvalidData     = errors.New("invalid encrypted data")
	ErrAuthentication  = errors.New("authentication failed or wrong passphrase")
	ErrInvalidEncoding = errors.New("invalid base64 text")
)

// Engine is the cipher the transform pipeline drives. Every byte slice it
// returns is owned by the caller, who must wipe it.
type Engine interface {
	Encrypt(plaintext, passphrase []byte) ([]byte, error)
	Decrypt(sealed, passphrase []byte) ([]byte, error)
	EncodeText(data []byte) string
	DecodeText(text string) ([]byte, error)
}

// AESGCM implements Engine with PBKDF2 and AES-256-GCM.
type AESGCM struct {
	iterations int
	rand       io.Reader
}

// Option configures an AESGCM.
type Option func(*AESGCM)

// WithIterations overrides the PBKDF2 iteration count. Both ends of a
// ciphertext must agree on it.
func WithIterations(n int) Option {
	return func(a *AESGCM) { a.iterations = n }
}

// WithRandom replaces crypto/rand as the salt and nonce source.
func WithRandom(r io.Reader) Option {
	return func(a *AESGCM) { a.rand = r }
}

// New returns an AESGCM with DefaultIterations.
func New(opts ...Option) *AESGCM {
	a := &AESGCM{iterations: DefaultIterations, rand: rand.Reader}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AESGCM) aead(passphrase, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(passphrase, salt, a.iterations, KeySize, sha256.New)
	defer security.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under a fresh salt and nonce.
func (a *AESGCM) Encrypt(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	out := make([]byte, SaltSize+NonceSize, MinSealedSize+len(plaintext))
	if _, err := io.ReadFull(a.rand, out); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt, nonce := out[:SaltSize], out[SaltSize:]

	gcm, err := a.aead(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (a *AESGCM) Decrypt(sealed, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(sealed) < MinSealedSize {
		return nil, ErrInvalidData
	}

	salt := sealed[:SaltSize]
	nonce := sealed[SaltSize : SaltSize+NonceSize]
	body := sealed[SaltSize+NonceSize:]

	gcm, err := a.aead(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

// EncodeText renders sealed bytes as standard padded base64.
func (a *AESGCM) EncodeText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeText parses base64 text. Surrounding whitespace and line breaks
// picked up with a selection are ignored.
func (a *AESGCM) DecodeText(text string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, text)
	if cleaned == "" {
		return nil, ErrInvalidEncoding
	}

	out, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	return out, nil
}

// EncryptText is Encrypt followed by EncodeText.
func EncryptText(e Engine, plaintext string, passphrase []byte) (string, error) {
	buf := []byte(plaintext)
	defer security.Wipe(buf)

	sealed, err := e.Encrypt(buf, passphrase)
	if err != nil {
		return "", err
	}
	return e.EncodeText(sealed), nil
}

// DecryptText is DecodeText followed by Decrypt.
func DecryptText(e Engine, text string, passphrase []byte) (string, error) {
	sealed, err := e.DecodeText(text)
	if err != nil {
		return "", err
	}
	plain, err := e.Decrypt(sealed, passphrase)
	if err != nil {
		return "", err
	}
	defer security.Wipe(plain)
	return string(plain), nil
}

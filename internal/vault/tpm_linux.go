//go:build linux

package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// TPMSealer seals entries to the storage hierarchy of a TPM 2.0. The
// sealed blob is useless on any other machine.
type TPMSealer struct {
	mu   sync.Mutex
	path string
}

// NewTPMSealer checks that the device at path exists. The device is
// opened per operation so the daemon does not hold it.
func NewTPMSealer(path string) (*TPMSealer, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no TPM device configured", ErrPlatformUnavailable)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	return &TPMSealer{path: path}, nil
}

func (s *TPMSealer) withPrimary(fn func(tpm transport.TPM, parent tpm2.NamedHandle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpm, err := transport.OpenTPM(s.path)
	if err != nil {
		return fmt.Errorf("tpm: open %s: %w", s.path, err)
	}
	defer tpm.Close()

	primary, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHOwner,
		InPublic:      tpm2.New2B(tpm2.ECCSRKTemplate),
	}.Execute(tpm)
	if err != nil {
		return fmt.Errorf("tpm: create primary: %w", err)
	}
	defer tpm2.FlushContext{FlushHandle: primary.ObjectHandle}.Execute(tpm)

	return fn(tpm, tpm2.NamedHandle{Handle: primary.ObjectHandle, Name: primary.Name})
}

// Seal implements Sealer.
func (s *TPMSealer) Seal(plain []byte) ([]byte, error) {
	var out []byte
	err := s.withPrimary(func(tpm transport.TPM, parent tpm2.NamedHandle) error {
		created, err := tpm2.Create{
			ParentHandle: parent,
			InSensitive: tpm2.TPM2BSensitiveCreate{
				Sensitive: &tpm2.TPMSSensitiveCreate{
					Data: tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{Buffer: plain}),
				},
			},
			InPublic: tpm2.New2B(tpm2.TPMTPublic{
				Type:    tpm2.TPMAlgKeyedHash,
				NameAlg: tpm2.TPMAlgSHA256,
				ObjectAttributes: tpm2.TPMAObject{
					FixedTPM:     true,
					FixedParent:  true,
					UserWithAuth: true,
					NoDA:         true,
				},
			}),
		}.Execute(tpm)
		if err != nil {
			return fmt.Errorf("tpm: create sealed object: %w", err)
		}

		out = packBlob(tpm2.Marshal(created.OutPublic), created.OutPrivate.Buffer)
		return nil
	})
	return out, err
}

// Unseal implements Sealer.
func (s *TPMSealer) Unseal(sealed []byte) ([]byte, error) {
	pubBytes, privBytes, err := unpackBlob(sealed)
	if err != nil {
		return nil, err
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](pubBytes)
	if err != nil {
		return nil, fmt.Errorf("tpm: decode public area: %w", err)
	}

	var out []byte
	err = s.withPrimary(func(tpm transport.TPM, parent tpm2.NamedHandle) error {
		loaded, err := tpm2.Load{
			ParentHandle: parent,
			InPrivate:    tpm2.TPM2BPrivate{Buffer: privBytes},
			InPublic:     *pub,
		}.Execute(tpm)
		if err != nil {
			return fmt.Errorf("tpm: load sealed object: %w", err)
		}
		defer tpm2.FlushContext{FlushHandle: loaded.ObjectHandle}.Execute(tpm)

		unsealed, err := tpm2.Unseal{
			ItemHandle: tpm2.NamedHandle{Handle: loaded.ObjectHandle, Name: loaded.Name},
		}.Execute(tpm)
		if err != nil {
			return fmt.Errorf("tpm: unseal: %w", err)
		}
		out = unsealed.OutData.Buffer
		return nil
	})
	return out, err
}

// packBlob frames the two areas as len(pub) | pub | len(priv) | priv.
func packBlob(pub, priv []byte) []byte {
	out := make([]byte, 0, 8+len(pub)+len(priv))
	out = binary.BigEndian.AppendUint32(out, uint32(len(pub)))
	out = append(out, pub...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(priv)))
	return append(out, priv...)
}

func unpackBlob(blob []byte) (pub, priv []byte, err error) {
	errCorrupt := errors.New("tpm: sealed blob corrupted")
	if len(blob) < 4 {
		return nil, nil, errCorrupt
	}
	n := int(binary.BigEndian.Uint32(blob))
	blob = blob[4:]
	if len(blob) < n+4 {
		return nil, nil, errCorrupt
	}
	pub, blob = blob[:n], blob[n:]
	n = int(binary.BigEndian.Uint32(blob))
	blob = blob[4:]
	if len(blob) != n {
		return nil, nil, errCorrupt
	}
	return pub, blob, nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/ipc"
	"hotcrypt/internal/textcrypt"
)

func init() {
	color.NoColor = true
	cryptoEngine = func() textcrypt.Engine { return textcrypt.New(textcrypt.WithIterations(1000)) }
}

// stubPassphrases makes readPassphrase answer from answers in order.
func stubPassphrases(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassphrase
	t.Cleanup(func() { readPassphrase = orig })

	i := 0
	readPassphrase = func(string) ([]byte, error) {
		if i >= len(answers) {
			return nil, errors.New("no more answers")
		}
		a := answers[i]
		i++
		return []byte(a), nil
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		socketPath = ""
		statusMetrics = false
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	stubPassphrases(t, "correct horse", "correct horse")

	sealed, err := execute(t, "attack at dawn\n", "encrypt")
	require.NoError(t, err)
	sealed = strings.TrimSpace(sealed)
	assert.NotContains(t, sealed, "attack")

	plain, err := execute(t, sealed+"\n", "decrypt")
	require.NoError(t, err)
	assert.Equal(t, "attack at dawn\n", plain)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	stubPassphrases(t, "correct horse", "battery staple")

	sealed, err := execute(t, "secret", "encrypt")
	require.NoError(t, err)

	_, err = execute(t, sealed, "decrypt")
	assert.ErrorIs(t, err, textcrypt.ErrAuthentication)
}

func TestPromptNewPassphrase(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		wantErr error
	}{
		{"match", []string{"long enough", "long enough"}, nil},
		{"mismatch", []string{"long enough", "long enougH"}, errPassphraseMismatch},
		{"too short", []string{"short"}, errPassphraseTooShort},
		{"multibyte counts runes", []string{"ééééééé", "ééééééé"}, errPassphraseTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPassphrases(t, tt.answers...)
			got, err := promptNewPassphrase()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.answers[0], string(got))
		})
	}
}

func TestHint(t *testing.T) {
	assert.Contains(t, hint(ipc.ErrDaemonNotRunning), "hotcryptd")
	assert.Contains(t, hint(&ipc.RemoteError{Code: ipc.ErrNotConfigured}), "passphrase set")
	assert.Empty(t, hint(errors.New("other")))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "ok?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "ok?"))
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, &engine.Event{
		Kind:    engine.EventOutcome,
		Outcome: &engine.OutcomeInfo{Direction: "decrypt", Result: "failed", Error: "wrong passphrase"},
	})
	printEvent(&out, &engine.Event{Kind: engine.EventNotification, Title: "hotcrypt", Message: "Text encrypted"})

	got := out.String()
	assert.Contains(t, got, "decrypt failed wrong passphrase")
	assert.Contains(t, got, "hotcrypt: Text encrypted")
}

// startDaemon serves canned responses on a temporary socket.
func startDaemon(t *testing.T, h ipc.HandlerFunc) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hcctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	srv, err := ipc.NewServer(ipc.ServerConfig{SocketPath: sock, Version: "1.2.3"}, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return sock
}

func TestStatusCommand(t *testing.T) {
	sock := startDaemon(t, func(ctx context.Context, c *ipc.Client, m *ipc.Message) (*ipc.Message, error) {
		if m.Header.Type != ipc.MsgStatusRequest {
			return ipc.NewErrorMessage(m.Header.RequestID, ipc.ErrInvalidRequest, "unexpected"), nil
		}
		return ipc.NewResponse(ipc.MsgStatusResponse, m.Header.RequestID, &ipc.StatusResponse{
			Version: "1.2.3",
			Engine: engine.Status{
				Enabled:           true,
				Configured:        true,
				PermissionGranted: true,
				Bindings:          []string{"encrypt: ctrl+shift+e"},
			},
			Metrics: map[string]float64{
				`hotcrypt_runs_total{direction="encrypt",result="succeeded"}`: 3,
				"hotcrypt_shortcut_presses_total":                             4,
			},
		})
	})

	out, err := execute(t, "", "--socket", sock, "status")
	require.NoError(t, err)
	assert.NotContains(t, out, "METRICS")
	assert.Contains(t, out, "1.2.3")
	assert.Contains(t, out, "ENABLED")
	assert.Contains(t, out, "CONFIGURED")
	assert.Contains(t, out, "ctrl+shift+e")

	out, err = execute(t, "", "--socket", sock, "status", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "METRICS")
	assert.Contains(t, out, "hotcrypt_shortcut_presses_total 4")
	assert.Less(t,
		strings.Index(out, "hotcrypt_runs_total"),
		strings.Index(out, "hotcrypt_shortcut_presses_total"))
}

func TestEnableReportsRemoteError(t *testing.T) {
	sock := startDaemon(t, func(ctx context.Context, c *ipc.Client, m *ipc.Message) (*ipc.Message, error) {
		return ipc.NewErrorMessage(m.Header.RequestID, ipc.ErrNotConfigured, "no passphrase configured"), nil
	})

	_, err := execute(t, "", "--socket", sock, "enable")
	var remote *ipc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ipc.ErrNotConfigured, remote.Code)
}

func TestResetAbortsWithoutConfirmation(t *testing.T) {
	out, err := execute(t, "n\n", "--socket", "/nonexistent.sock", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")
}

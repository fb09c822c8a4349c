package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			if tc.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
			assert.Equal(t, strings.TrimSuffix(strings.ToLower(tc.input), "ing"), LevelString(level))
		})
	}
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, &Config{Level: LevelDebug, Format: FormatJSON, Component: "test"})

	l.Info("stored", "passphrase", "hunter22", "clipboard_text", "top secret", "length", 8)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[REDACTED]", rec["passphrase"])
	assert.Equal(t, "[REDACTED]", rec["clipboard_text"])
	assert.EqualValues(t, 8, rec["length"])
	assert.Equal(t, "test", rec["component"])
	assert.NotContains(t, buf.String(), "hunter22")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, &Config{Level: LevelInfo, Format: FormatText})

	l.WithComponent("pipeline").Info("run finished")
	assert.Contains(t, buf.String(), "component=pipeline")
}

func TestRecoverLogsPanic(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, &Config{Level: LevelInfo, Format: FormatText})

	var got any
	func() {
		defer l.Recover("worker", func(v any) { got = v })
		panic("boom")
	}()

	assert.Equal(t, "boom", got)
	assert.Contains(t, buf.String(), "where=worker")
}

func TestFileRotatorRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "hotcryptd.log"),
		MaxSize:    1,
		MaxBackups: 2,
	}

	r, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer r.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	r.openedAt = base

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 4; i++ {
		_, err := r.Write(chunk)
		require.NoError(t, err)
	}

	rotated := r.rotatedFiles()
	assert.Len(t, rotated, 2)

	info, err := os.Stat(cfg.FilePath)
	require.NoError(t, err)
	assert.EqualValues(t, len(chunk), info.Size())
}

func TestFileRotatorCompresses(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "hotcryptd.log"),
		MaxSize:    1,
		MaxBackups: 5,
		Compress:   true,
	}

	r, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer r.Close()

	chunk := bytes.Repeat([]byte("y"), 600*1024)
	_, err = r.Write(chunk)
	require.NoError(t, err)
	_, err = r.Write(chunk)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "hotcryptd-*.log.gz"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestNewFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(dir, "nested", "out.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

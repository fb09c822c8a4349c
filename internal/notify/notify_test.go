package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotcrypt/internal/logging"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := NewMulti(a)
	m.Add(b)

	m.Notify("hotcrypt", "Text encrypted")
	want := []Notification{{Title: "hotcrypt", Message: "Text encrypted"}}
	assert.Equal(t, want, a.All())
	assert.Equal(t, want, b.All())

	a.Reset()
	assert.Empty(t, a.All())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultConfig()
	cfg.Format = logging.FormatJSON
	n := NewLog(logging.NewWriter(&buf, cfg))

	n.Notify("hotcrypt", "No text selected")
	assert.Contains(t, buf.String(), `"message":"No text selected"`)
}

func TestNewBackends(t *testing.T) {
	n, err := New(Options{Backend: BackendNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)

	n, err = New(Options{Backend: BackendLog})
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)

	_, err = New(Options{Backend: "pigeon"})
	assert.Error(t, err)

	// auto never fails: it degrades to logging without a desktop.
	n, err = New(Options{Backend: BackendAuto})
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestFunc(t *testing.T) {
	var got string
	Func(func(_, msg string) { got = msg }).Notify("t", "Session expired")
	assert.Equal(t, "Session expired", got)
}

func TestAppleScriptString(t *testing.T) {
	assert.Equal(t, `"plain"`, appleScriptString("plain"))
	assert.Equal(t, `"say \"hi\" \\ bye"`, appleScriptString(`say "hi" \ bye`))
	assert.Equal(t, `"a b"`, appleScriptString("a\nb"))
}

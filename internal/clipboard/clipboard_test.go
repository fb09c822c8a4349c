package clipboard

import (
	"errors"
	"testing"

	"github.com/atotto/clipboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory("A")

	text, present, err := m.Read()
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "A", text)

	require.NoError(t, m.Write("B"))
	m.Set("C")
	assert.Equal(t, "C", m.Text())
	assert.Equal(t, 1, m.Writes())

	require.NoError(t, m.Clear())
	_, present, err = m.Read()
	require.NoError(t, err)
	assert.False(t, present)
}

func TestMemoryFailures(t *testing.T) {
	m := NewMemory("A")
	m.ReadErr = errors.New("locked")
	_, _, err := m.Read()
	assert.Error(t, err)

	m.WriteFn = func(string) error { return errors.New("denied") }
	assert.Error(t, m.Write("B"))
	assert.Equal(t, "A", m.Text())
	assert.Zero(t, m.Writes())
}

func TestSystemUnsupported(t *testing.T) {
	if !clipboard.Unsupported {
		t.Skip("a clipboard tool is installed")
	}
	s := NewSystem()
	assert.False(t, s.Available())
	_, _, err := s.Read()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Write("x"), ErrUnavailable)
}

package input

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	typ, code uint16
	value     int32
}

func decode(t *testing.T, b []byte) []event {
	t.Helper()
	require.Zero(t, len(b)%inputEventSize)
	var out []event
	for len(b) > 0 {
		out = append(out, event{
			typ:   binary.LittleEndian.Uint16(b[16:18]),
			code:  binary.LittleEndian.Uint16(b[18:20]),
			value: int32(binary.LittleEndian.Uint32(b[20:24])),
		})
		b = b[inputEventSize:]
	}
	return out
}

func TestWriteChordSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChord(&buf, []uint16{keyLeftCtrl}, keyC))

	syn := event{evSyn, synReport, 0}
	want := []event{
		{evKey, keyLeftCtrl, 1}, syn,
		{evKey, keyC, 1}, syn,
		{evKey, keyC, 0}, syn,
		{evKey, keyLeftCtrl, 0}, syn,
	}
	assert.Equal(t, want, decode(t, buf.Bytes()))
}

func TestWriteChordReleasesModifiersInReverse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChord(&buf, []uint16{keyLeftCtrl, 42}, keyV))

	var keys []event
	for _, ev := range decode(t, buf.Bytes()) {
		if ev.typ == evKey {
			keys = append(keys, ev)
		}
	}
	assert.Equal(t, []event{
		{evKey, keyLeftCtrl, 1},
		{evKey, 42, 1},
		{evKey, keyV, 1},
		{evKey, keyV, 0},
		{evKey, 42, 0},
		{evKey, keyLeftCtrl, 0},
	}, keys)
}

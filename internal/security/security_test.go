package security

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesWipesSource(t *testing.T) {
	src := []byte("correct horse")
	sb := FromBytes(src)
	defer sb.Destroy()

	assert.Equal(t, make([]byte, len(src)), src)
	assert.True(t, sb.Equal([]byte("correct horse")))
	assert.Equal(t, 13, sb.Len())
}

func TestDestroyZeroesBuffer(t *testing.T) {
	sb := FromBytes([]byte("battery staple"))

	var live []byte
	require.NoError(t, sb.Use(func(b []byte) error {
		live = b
		return nil
	}))

	sb.Destroy()
	sb.Destroy()

	assert.True(t, sb.Destroyed())
	assert.Equal(t, 0, sb.Len())
	assert.Equal(t, make([]byte, len(live)), live)

	_, err := sb.Copy()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.False(t, sb.Equal(nil))
}

func TestCloneIsIndependent(t *testing.T) {
	sb := FromBytes([]byte("abc"))
	c, err := sb.Clone()
	require.NoError(t, err)

	sb.Destroy()
	assert.True(t, c.Equal([]byte("abc")))
	c.Destroy()
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	require.NoError(t, WriteFileAtomic(path, []byte("a = 1\n"), PermSecretFile))
	require.NoError(t, WriteFileAtomic(path, []byte("a = 2\n"), PermSecretFile))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a = 2\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NoError(t, VerifyPrivate(path))
}

func TestEnsurePrivateDirTightens(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "run")
	require.NoError(t, os.Mkdir(dir, 0o755))

	require.NoError(t, EnsurePrivateDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, PermSecretDir, info.Mode().Perm())
}

func TestInstanceLockExclusive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock")
	}
	path := filepath.Join(t.TempDir(), "hotcryptd.lock")

	first, err := AcquireInstanceLock(path)
	require.NoError(t, err)

	_, err = AcquireInstanceLock(path)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, first.Release())

	again, err := AcquireInstanceLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File permission constants.
const (
	// PermSecretFile is owner read/write only.
	PermSecretFile os.FileMode = 0o600

	// PermSecretDir is owner only.
	PermSecretDir os.FileMode = 0o700
)

var (
	ErrInsecurePermissions = errors.New("security: insecure file permissions")
	ErrAlreadyLocked       = errors.New("security: lock held by another process")
)

// EnsurePrivateDir creates path with 0700, tightening an existing directory
// that is group or world accessible.
func EnsurePrivateDir(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, PermSecretDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(path, PermSecretDir); err != nil {
			return fmt.Errorf("fix directory permissions: %w", err)
		}
	}
	return nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, PermSecretDir); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var suffix [8]byte
	_, _ = rand.Read(suffix[:])
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+hex.EncodeToString(suffix[:]))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// VerifyPrivate fails when path is readable by group or others.
func VerifyPrivate(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrInsecurePermissions, path, mode)
	}
	return nil
}

// InstanceLock is an exclusive advisory lock on a file, held for the life
// of the daemon.
type InstanceLock struct {
	f *os.File
}

// AcquireInstanceLock takes a non-blocking exclusive lock on path. It returns
// ErrAlreadyLocked when another process holds it.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, PermSecretFile)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &InstanceLock{f: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *InstanceLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	name := l.f.Name()
	unlockFile(l.f)
	err := l.f.Close()
	l.f = nil
	os.Remove(name)
	return err
}

//go:build unix

package security

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func tryLockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrAlreadyLocked
	}
	return err
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// DisableCoreDumps sets RLIMIT_CORE to zero so a crash cannot write the
// session secret to disk.
func DisableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}

// CoreDumpsEnabled reports whether the current core limit is non-zero.
func CoreDumpsEnabled() bool {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlimit); err != nil {
		return true
	}
	return rlimit.Cur > 0
}

// RunningAsRoot reports whether the effective uid is 0.
func RunningAsRoot() bool {
	return unix.Geteuid() == 0
}

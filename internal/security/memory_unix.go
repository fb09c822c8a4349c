//go:build unix

package security

import "golang.org/x/sys/unix"

// lockMemory keeps b out of swap. Failure is expected without
// CAP_IPC_LOCK or a large enough RLIMIT_MEMLOCK and is not fatal.
func lockMemory(b []byte) error {
	return unix.Mlock(b)
}

func unlockMemory(b []byte) {
	_ = unix.Munlock(b)
}

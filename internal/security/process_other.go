//go:build !unix

package security

import "os"

func tryLockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}

// DisableCoreDumps is a no-op on this platform.
func DisableCoreDumps() error { return nil }

// CoreDumpsEnabled always reports false on this platform.
func CoreDumpsEnabled() bool { return false }

// RunningAsRoot always reports false on this platform.
func RunningAsRoot() bool { return false }

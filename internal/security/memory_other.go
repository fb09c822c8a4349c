//go:build !unix

package security

import "errors"

func lockMemory([]byte) error {
	return errors.New("security: memory locking not supported")
}

func unlockMemory([]byte) {}

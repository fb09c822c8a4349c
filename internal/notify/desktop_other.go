//go:build !linux && !darwin

package notify

import (
	"time"

	"hotcrypt/internal/logging"
)

func newDesktop(string, time.Duration, *logging.Logger) (Notifier, error) {
	return nil, ErrNotSupported
}

//go:build darwin

package notify

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"hotcrypt/internal/logging"
)

// ScriptNotifier posts through Notification Center with osascript. macOS
// dismisses banners on its own schedule, so the timeout only bounds the
// helper process.
type ScriptNotifier struct {
	path    string
	timeout time.Duration
	logger  *logging.Logger
}

func newDesktop(_ string, timeout time.Duration, logger *logging.Logger) (Notifier, error) {
	path, err := exec.LookPath("osascript")
	if err != nil {
		return nil, err
	}
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	return &ScriptNotifier{path: path, timeout: timeout, logger: logger}, nil
}

// Notify implements Notifier.
func (s *ScriptNotifier) Notify(title, message string) {
	go func() {
		defer s.logger.Recover("osascript notify")
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		script := "display notification " + appleScriptString(message) +
			" with title " + appleScriptString(title)
		if out, err := exec.CommandContext(ctx, s.path, "-e", script).CombinedOutput(); err != nil {
			s.logger.Warn("desktop notification failed", "error", err, "output", strings.TrimSpace(string(out)))
		}
	}()
}

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"hotcrypt/internal/logging"
	"hotcrypt/internal/shortcut"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateConfig performs the semantic checks the schema cannot express.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	validateShortcuts(&c.Shortcuts, &errs)

	if c.Pipeline.CaptureDelayMs < 20 || c.Pipeline.CaptureDelayMs > 2000 {
		errs.add("pipeline.capture_delay_ms", "must be between 20 and 2000")
	}
	if c.Pipeline.RestoreDelayMs < 50 || c.Pipeline.RestoreDelayMs > 10000 {
		errs.add("pipeline.restore_delay_ms", "must be between 50 and 10000")
	}

	if c.Session.TimeoutSec < 10 {
		errs.add("session.timeout_sec", "must be at least 10 seconds")
	}

	switch c.Vault.Backend {
	case VaultBackendKeyring:
	case VaultBackendTPM:
		if c.Vault.DatabasePath == "" {
			errs.add("vault.database_path", "required for the tpm backend")
		} else if !filepath.IsAbs(c.Vault.DatabasePath) {
			errs.add("vault.database_path", "must be an absolute path")
		}
		if c.Vault.TPMPath == "" {
			errs.add("vault.tpm_path", "required for the tpm backend")
		}
	default:
		errs.add("vault.backend", "unknown backend %q", c.Vault.Backend)
	}
	if strings.TrimSpace(c.Vault.Service) == "" {
		errs.add("vault.service", "must not be empty")
	}
	if c.Vault.MinPassphraseLength < 1 {
		errs.add("vault.min_passphrase_length", "must be positive")
	}

	if c.Permission.PollIntervalSec < 1 {
		errs.add("permission.poll_interval_sec", "must be at least 1 second")
	}

	switch c.Notify.Backend {
	case NotifyAuto, NotifyDesktop, NotifyLog, NotifyNone:
	default:
		errs.add("notify.backend", "unknown backend %q", c.Notify.Backend)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.add("logging.level", "%v", err)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	case "file", "both":
		if c.Logging.FilePath == "" {
			errs.add("logging.file_path", "required when output includes a file")
		}
	default:
		errs.add("logging.output", "unknown output %q", c.Logging.Output)
	}

	if c.IPC.SocketPath == "" {
		errs.add("ipc.socket_path", "must not be empty")
	}
	if c.IPC.MaxConnections < 1 {
		errs.add("ipc.max_connections", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateShortcuts(s *ShortcutsConfig, errs *ValidationErrors) {
	enc := parseChord("shortcuts.encrypt", s.Encrypt, shortcut.Encrypt, errs)
	dec := parseChord("shortcuts.decrypt", s.Decrypt, shortcut.Decrypt, errs)
	if enc != nil && dec != nil && enc.Chord() == dec.Chord() {
		errs.add("shortcuts.decrypt", "must differ from shortcuts.encrypt")
	}
}

func parseChord(field, chord string, id shortcut.ID, errs *ValidationErrors) *shortcut.Binding {
	if strings.TrimSpace(chord) == "" {
		errs.add(field, "must not be empty")
		return nil
	}
	b, err := shortcut.ParseBinding(id, chord)
	if err != nil {
		errs.add(field, "%v", err)
		return nil
	}
	return &b
}

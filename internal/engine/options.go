package engine

import (
	"fmt"

	"hotcrypt/internal/config"
	"hotcrypt/internal/shortcut"
)

// OptionsFromConfig parses the configured chords and converts the timing
// fields.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	enc, err := shortcut.ParseBinding(shortcut.Encrypt, cfg.Shortcuts.Encrypt)
	if err != nil {
		return Options{}, fmt.Errorf("shortcuts.encrypt: %w", err)
	}
	dec, err := shortcut.ParseBinding(shortcut.Decrypt, cfg.Shortcuts.Decrypt)
	if err != nil {
		return Options{}, fmt.Errorf("shortcuts.decrypt: %w", err)
	}

	return Options{
		Bindings:            []shortcut.Binding{enc, dec},
		SessionTimeout:      cfg.Session.Timeout(),
		CaptureDelay:        cfg.Pipeline.CaptureDelay(),
		RestoreDelay:        cfg.Pipeline.RestoreDelay(),
		PermissionInterval:  cfg.Permission.PollInterval(),
		AutoEnable:          cfg.Permission.AutoEnable,
		MinPassphraseLength: cfg.Vault.MinPassphraseLength,
		Title:               cfg.Notify.AppName,
	}, nil
}

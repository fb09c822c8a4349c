package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ctrl+shift+e", cfg.Shortcuts.Encrypt)
	assert.Equal(t, "ctrl+shift+d", cfg.Shortcuts.Decrypt)
	assert.Equal(t, 150*time.Millisecond, cfg.Pipeline.CaptureDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RestoreDelay())
	assert.Equal(t, 10*time.Minute, cfg.Session.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Permission.PollInterval())
	assert.Equal(t, 8, cfg.Vault.MinPassphraseLength)
	assert.False(t, cfg.Vault.AllowUngated)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Shortcuts, cfg.Shortcuts)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `version = 1
[shortcuts]
encrypt = "ctrl+alt+e"
[session]
timeout_sec = 120
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"version": 1, "shortcuts": {"encrypt": "ctrl+alt+e"}, "session": {"timeout_sec": 120}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `version: 1
shortcuts:
  encrypt: ctrl+alt+e
session:
  timeout_sec: 120
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "ctrl+alt+e", cfg.Shortcuts.Encrypt)
			assert.Equal(t, "ctrl+shift+d", cfg.Shortcuts.Decrypt, "unset keys keep defaults")
			assert.Equal(t, 2*time.Minute, cfg.Session.Timeout())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOTCRYPT_SHORTCUT_DECRYPT", "ctrl+alt+d")
	t.Setenv("HOTCRYPT_LOG_LEVEL", "debug")
	t.Setenv("HOTCRYPT_VAULT_KEYRING_BACKENDS", "secret-service,kwallet")
	t.Setenv("HOTCRYPT_PERMISSION_AUTO_ENABLE", "false")
	t.Setenv("HOTCRYPT_VAULT_ALLOW_UNGATED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ctrl+alt+d", cfg.Shortcuts.Decrypt)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"secret-service", "kwallet"}, cfg.Vault.KeyringBackends)
	assert.False(t, cfg.Permission.AutoEnable)
	assert.True(t, cfg.Vault.AllowUngated)
	assert.Equal(t, "ctrl+shift+e", cfg.Shortcuts.Encrypt)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"same chords", func(c *Config) { c.Shortcuts.Decrypt = c.Shortcuts.Encrypt }, "shortcuts.decrypt"},
		{"same chords reordered", func(c *Config) {
			c.Shortcuts.Encrypt = "shift+ctrl+x"
			c.Shortcuts.Decrypt = "ctrl+shift+x"
		}, "shortcuts.decrypt"},
		{"chord without modifier", func(c *Config) { c.Shortcuts.Encrypt = "e" }, "shortcuts.encrypt"},
		{"unknown key", func(c *Config) { c.Shortcuts.Decrypt = "ctrl+f13" }, "shortcuts.decrypt"},
		{"capture delay", func(c *Config) { c.Pipeline.CaptureDelayMs = 5 }, "pipeline.capture_delay_ms"},
		{"session timeout", func(c *Config) { c.Session.TimeoutSec = 1 }, "session.timeout_sec"},
		{"tpm relative db", func(c *Config) {
			c.Vault.Backend = VaultBackendTPM
			c.Vault.DatabasePath = "vault.db"
		}, "vault.database_path"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.True(t, verrs.Has(tc.field), "errors: %v", verrs)
		})
	}
}

func TestValidateSchemaRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.Backend = "plaintext"

	err := ValidateSchema(cfg)
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("/vault/backend"), "errors: %v", verrs)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Pipeline.RestoreDelayMs = 750
			cfg.Vault.KeyringBackends = []string{"keychain"}

			require.NoError(t, Save(cfg, path))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 750, loaded.Pipeline.RestoreDelayMs)
			assert.Equal(t, []string{"keychain"}, loaded.Vault.KeyringBackends)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	_, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(_, cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Session.TimeoutSec = 300
	require.NoError(t, Save(cfg, path))

	select {
	case got := <-changed:
		assert.Equal(t, 300, got.Session.TimeoutSec)
		assert.Equal(t, 300, l.Config().Session.TimeoutSec)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoaderReloadKeepsConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version = \"one\"\n"), 0o600))
	assert.Error(t, l.Reload())
	assert.Equal(t, Version, l.Config().Version)

	select {
	case err := <-l.Errors():
		assert.Error(t, err)
	default:
		t.Fatal("expected reported error")
	}
}

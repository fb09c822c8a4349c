// Package config handles configuration loading, validation and hot reload
// for hotcryptd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"hotcrypt/internal/security"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override, e.g. HOTCRYPT_LOG_LEVEL.
const EnvPrefix = "HOTCRYPT_"

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	Shortcuts  ShortcutsConfig  `toml:"shortcuts" json:"shortcuts" yaml:"shortcuts" envPrefix:"SHORTCUT_"`
	Pipeline   PipelineConfig   `toml:"pipeline" json:"pipeline" yaml:"pipeline" envPrefix:"PIPELINE_"`
	Session    SessionConfig    `toml:"session" json:"session" yaml:"session" envPrefix:"SESSION_"`
	Vault      VaultConfig      `toml:"vault" json:"vault" yaml:"vault" envPrefix:"VAULT_"`
	Permission PermissionConfig `toml:"permission" json:"permission" yaml:"permission" envPrefix:"PERMISSION_"`
	Notify     NotifyConfig     `toml:"notify" json:"notify" yaml:"notify" envPrefix:"NOTIFY_"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging" envPrefix:"LOG_"`
	IPC        IPCConfig        `toml:"ipc" json:"ipc" yaml:"ipc" envPrefix:"IPC_"`
}

// ShortcutsConfig holds the two global chords, written like "ctrl+shift+e".
type ShortcutsConfig struct {
	Encrypt string `toml:"encrypt" json:"encrypt" yaml:"encrypt" env:"ENCRYPT"`
	Decrypt string `toml:"decrypt" json:"decrypt" yaml:"decrypt" env:"DECRYPT"`
}

// PipelineConfig holds the clipboard timing of one transform run.
type PipelineConfig struct {
	// CaptureDelayMs is how long the foreground app gets to service the
	// synthetic copy before the clipboard is read.
	CaptureDelayMs int `toml:"capture_delay_ms" json:"capture_delay_ms" yaml:"capture_delay_ms" env:"CAPTURE_DELAY_MS"`

	// RestoreDelayMs is how long the app gets to service the synthetic
	// paste before the original clipboard is put back.
	RestoreDelayMs int `toml:"restore_delay_ms" json:"restore_delay_ms" yaml:"restore_delay_ms" env:"RESTORE_DELAY_MS"`
}

// CaptureDelay returns CaptureDelayMs as a duration.
func (p PipelineConfig) CaptureDelay() time.Duration {
	return time.Duration(p.CaptureDelayMs) * time.Millisecond
}

// RestoreDelay returns RestoreDelayMs as a duration.
func (p PipelineConfig) RestoreDelay() time.Duration {
	return time.Duration(p.RestoreDelayMs) * time.Millisecond
}

// SessionConfig controls how long an unlocked passphrase stays in memory.
type SessionConfig struct {
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec" env:"TIMEOUT_SEC"`
}

// Timeout returns TimeoutSec as a duration.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Vault backends.
const (
	VaultBackendKeyring = "keyring"
	VaultBackendTPM     = "tpm"
)

// VaultConfig selects and configures the credential store.
type VaultConfig struct {
	// Backend is "keyring" (OS secret store) or "tpm" (TPM-sealed sqlite).
	Backend string `toml:"backend" json:"backend" yaml:"backend" env:"BACKEND"`

	// Service is the identifier both vault entries are filed under.
	Service string `toml:"service" json:"service" yaml:"service" env:"SERVICE"`

	// KeyringBackends restricts which OS keyrings may be used, in order of
	// preference. Empty means the platform default order.
	KeyringBackends []string `toml:"keyring_backends" json:"keyring_backends" yaml:"keyring_backends" env:"KEYRING_BACKENDS" envSeparator:","`

	// DatabasePath is the sqlite file used by the tpm backend.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path" env:"DATABASE_PATH"`

	// TPMPath is the TPM character device used by the tpm backend.
	TPMPath string `toml:"tpm_path" json:"tpm_path" yaml:"tpm_path" env:"TPM_PATH"`

	// BiometricReason is shown by the OS biometric prompt.
	BiometricReason string `toml:"biometric_reason" json:"biometric_reason" yaml:"biometric_reason" env:"BIOMETRIC_REASON"`

	// AllowUngated lets the daemon read the secret when no biometric
	// authenticator is available, relying on the store's own access
	// control. Off by default: without an authenticator unlocks fail.
	AllowUngated bool `toml:"allow_ungated" json:"allow_ungated" yaml:"allow_ungated" env:"ALLOW_UNGATED"`

	// MinPassphraseLength is enforced when a passphrase is stored.
	MinPassphraseLength int `toml:"min_passphrase_length" json:"min_passphrase_length" yaml:"min_passphrase_length" env:"MIN_PASSPHRASE_LENGTH"`
}

// PermissionConfig controls input-permission polling.
type PermissionConfig struct {
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec" env:"POLL_INTERVAL_SEC"`

	// AutoEnable turns shortcuts on as soon as permission is granted and a
	// passphrase is configured.
	AutoEnable bool `toml:"auto_enable" json:"auto_enable" yaml:"auto_enable" env:"AUTO_ENABLE"`
}

// PollInterval returns PollIntervalSec as a duration.
func (p PermissionConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSec) * time.Second
}

// Notification backends.
const (
	NotifyAuto    = "auto"
	NotifyDesktop = "desktop"
	NotifyLog     = "log"
	NotifyNone    = "none"
)

// NotifyConfig controls user-facing notifications.
type NotifyConfig struct {
	Backend   string `toml:"backend" json:"backend" yaml:"backend" env:"BACKEND"`
	AppName   string `toml:"app_name" json:"app_name" yaml:"app_name" env:"APP_NAME"`
	TimeoutMs int    `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`
	Format     string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`
	Output     string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path" env:"PATH"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress" env:"COMPRESS"`
}

// IPCConfig configures the control socket.
type IPCConfig struct {
	SocketPath        string `toml:"socket_path" json:"socket_path" yaml:"socket_path" env:"SOCKET_PATH"`
	MaxConnections    int    `toml:"max_connections" json:"max_connections" yaml:"max_connections" env:"MAX_CONNECTIONS"`
	RequestTimeoutSec int    `toml:"request_timeout_sec" json:"request_timeout_sec" yaml:"request_timeout_sec" env:"REQUEST_TIMEOUT_SEC"`
}

// RequestTimeout returns RequestTimeoutSec as a duration.
func (i IPCConfig) RequestTimeout() time.Duration {
	return time.Duration(i.RequestTimeoutSec) * time.Second
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Shortcuts: ShortcutsConfig{
			Encrypt: "ctrl+shift+e",
			Decrypt: "ctrl+shift+d",
		},
		Pipeline: PipelineConfig{
			CaptureDelayMs: 150,
			RestoreDelayMs: 500,
		},
		Session: SessionConfig{
			TimeoutSec: 600,
		},
		Vault: VaultConfig{
			Backend:             VaultBackendKeyring,
			Service:             "io.hotcrypt.passphrase",
			DatabasePath:        filepath.Join(PlatformDataDir(), "vault.db"),
			TPMPath:             DefaultTPMPath(),
			BiometricReason:     "unlock the hotcrypt passphrase",
			MinPassphraseLength: 8,
		},
		Permission: PermissionConfig{
			PollIntervalSec: 30,
			AutoEnable:      true,
		},
		Notify: NotifyConfig{
			Backend:   NotifyAuto,
			AppName:   "hotcrypt",
			TimeoutMs: 2000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "hotcryptd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			SocketPath:        DefaultSocketPath(),
			MaxConnections:    8,
			RequestTimeoutSec: 60,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads path (TOML, JSON or YAML by extension) over the defaults,
// applies environment overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays HOTCRYPT_* variables onto c. Unset variables
// leave fields untouched.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate runs the embedded JSON schema and the semantic checks.
func (c *Config) Validate() error {
	if err := ValidateSchema(c); err != nil {
		return err
	}
	return ValidateConfig(c)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Vault.KeyringBackends = append([]string(nil), c.Vault.KeyringBackends...)
	return &clone
}

// Save writes c to path in the format implied by its extension.
func Save(c *Config, path string) error {
	var buf bytes.Buffer
	switch filepath.Ext(path) {
	case ".json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
	default:
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	}
	return security.WriteFileAtomic(path, buf.Bytes(), security.PermSecretFile)
}

// LoadOrCreate loads path, writing the defaults there first if it does not
// exist. The bool reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		if err := cfg.ApplyEnvOverrides(); err != nil {
			return nil, true, err
		}
		return cfg, true, cfg.Validate()
	}

	cfg, err := Load(path)
	return cfg, false, err
}

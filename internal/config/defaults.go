package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appDir = "hotcrypt"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/hotcrypt/
//   - Linux:   $XDG_DATA_HOME/hotcrypt/ or ~/.local/share/hotcrypt/
//   - Windows: %APPDATA%\hotcrypt\
func PlatformDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDir)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDir)
		}
		return filepath.Join(home, "AppData", "Roaming", appDir)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appDir)
		}
		return filepath.Join(home, ".local", "share", appDir)
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/hotcrypt/
//   - Linux:   $XDG_CONFIG_HOME/hotcrypt/ or ~/.config/hotcrypt/
//   - Windows: %APPDATA%\hotcrypt\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appDir)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appDir)
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appDir)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appDir, "logs")
		}
		return filepath.Join(PlatformDataDir(), "logs")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, appDir)
		}
		return filepath.Join(home, ".local", "state", appDir)
	}
}

// PlatformRuntimeDir returns the directory for the control socket and the
// instance lock.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/hotcrypt/ or /tmp/hotcrypt-$UID/
//   - macOS:   $TMPDIR/hotcrypt-$UID/
func PlatformRuntimeDir() string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return filepath.Join(xdg, appDir)
		}
	}
	return filepath.Join(os.TempDir(), appDir+"-"+strconv.Itoa(os.Getuid()))
}

// DefaultSocketPath returns the control socket path.
func DefaultSocketPath() string {
	return filepath.Join(PlatformRuntimeDir(), "hotcryptd.sock")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(PlatformRuntimeDir(), "hotcryptd.lock")
}

// DefaultTPMPath prefers the kernel resource manager device.
func DefaultTPMPath() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	if _, err := os.Stat("/dev/tpmrm0"); err == nil {
		return "/dev/tpmrm0"
	}
	return "/dev/tpm0"
}

// SupportedConfigFormats returns the config file extensions Load understands.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}

// FindConfigFile returns the first existing config file in the config
// directory, or the default TOML path when none exists.
func FindConfigFile() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	dir := PlatformConfigDir()
	for _, ext := range SupportedConfigFormats() {
		p := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ConfigPath()
}

// hotcryptctl is the control CLI for hotcryptd.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hotcrypt/internal/config"
	"hotcrypt/internal/ipc"
)

// Version is set at build time.
var Version = "dev"

var (
	socketPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "hotcryptctl",
	Short: "hotcryptctl - control the hotcrypt daemon",
	Long: `hotcryptctl talks to a running hotcryptd over its control socket.

Common commands:
  status            Show shortcuts, passphrase and permission state
  passphrase set    Store the passphrase the shortcuts use
  enable, disable   Turn the global shortcuts on or off
  lock              Forget the unlocked passphrase until next use
  watch             Stream daemon notifications

encrypt and decrypt work offline on stdin and need no daemon.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon control socket (default from config)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(statusCmd, enableCmd, disableCmd, lockCmd, resetCmd, reloadCmd, watchCmd)
	rootCmd.AddCommand(passphraseCmd)
	rootCmd.AddCommand(encryptCmd, decryptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveSocket prefers --socket, then the configured path.
func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return config.DefaultSocketPath()
	}
	return cfg.IPC.SocketPath
}

// connect opens a client to the daemon.
func connect() (*ipc.IPCClient, error) {
	cfg := ipc.DefaultClientConfig(resolveSocket())
	cfg.ClientName = "hotcryptctl"
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// withClient runs fn against a connected client.
func withClient(fn func(c *ipc.IPCClient) error) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

// hint returns a follow-up suggestion for well-known failures.
func hint(err error) string {
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return "Start the daemon with: hotcryptd"
	}
	var remote *ipc.RemoteError
	if !errors.As(err, &remote) {
		return ""
	}
	switch remote.Code {
	case ipc.ErrNotConfigured:
		return "Set a passphrase with: hotcryptctl passphrase set"
	case ipc.ErrInputPermission:
		return "Grant input access (Accessibility on macOS, the input group on Linux), then retry"
	case ipc.ErrRegistrationFailed:
		return "Another application may own the shortcut; pick a different chord in the config"
	case ipc.ErrConfigInvalid:
		return fmt.Sprintf("Check %s", config.ConfigPath())
	}
	return ""
}

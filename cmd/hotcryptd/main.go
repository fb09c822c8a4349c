// hotcryptd encrypts and decrypts the selected text in any application
// from two global keyboard shortcuts.
//
//	hotcryptd                  Start in the background
//	hotcryptd --foreground     Run attached to the terminal
//	hotcryptd --config PATH    Use an explicit configuration file
//
// The daemon is controlled with hotcryptctl over a Unix socket.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"hotcrypt/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
	foreground bool
)

var rootCmd = &cobra.Command{
	Use:   "hotcryptd",
	Short: "hotcryptd - encrypt and decrypt selected text from global shortcuts",
	Long: `hotcryptd watches two global shortcuts. Pressing one copies the current
selection, encrypts or decrypts it with the stored passphrase and pastes the
result in place. The original clipboard is restored afterwards.

Set a passphrase with 'hotcryptctl passphrase set' before first use.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !foreground {
			return detach()
		}
		return runDaemon(configPath, logLevel)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigPath(), "configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hotcryptd: %v\n", err)
		os.Exit(1)
	}
}

// detach re-executes the daemon in the foreground as a new session leader
// and returns once it has started.
func detach() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"--foreground", "--config", configPath}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = getDaemonSysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Printf("hotcryptd started (pid %d)\n", cmd.Process.Pid)
	return cmd.Process.Release()
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/ipc"
	"hotcrypt/internal/security"
)

var (
	errPassphraseMismatch = errors.New("passphrases do not match")
	errPassphraseTooShort = fmt.Errorf("passphrase must be at least %d characters", engine.DefaultMinPassphraseLength)
)

var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Manage the stored passphrase",
}

var passphraseSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a new passphrase, replacing any existing one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := promptNewPassphrase()
		if err != nil {
			return err
		}
		defer security.Wipe(pass)

		return withClient(func(c *ipc.IPCClient) error {
			stop := startSpinner("Saving passphrase...")
			err := c.SetPassphrase(pass)
			stop()
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Passphrase saved")
			return nil
		})
	},
}

var passphraseDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the stored passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			stop := startSpinner("Deleting passphrase...")
			err := c.DeletePassphrase()
			stop()
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Passphrase deleted")
			return nil
		})
	},
}

func init() {
	passphraseCmd.AddCommand(passphraseSetCmd, passphraseDeleteCmd)
}

// promptNewPassphrase reads a passphrase twice and checks the local policy
// before anything is sent to the daemon.
func promptNewPassphrase() ([]byte, error) {
	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return nil, err
	}
	if err := checkPassphrase(first); err != nil {
		security.Wipe(first)
		return nil, err
	}

	second, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		security.Wipe(first)
		return nil, err
	}
	defer security.Wipe(second)

	if !bytes.Equal(first, second) {
		security.Wipe(first)
		return nil, errPassphraseMismatch
	}
	return first, nil
}

func checkPassphrase(p []byte) error {
	if utf8.RuneCount(p) < engine.DefaultMinPassphraseLength {
		return errPassphraseTooShort
	}
	return nil
}

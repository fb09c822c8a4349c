package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"hotcrypt/internal/ipc"
	"hotcrypt/internal/security"
	"hotcrypt/internal/textcrypt"
)

// maxInput bounds what encrypt and decrypt read from stdin.
const maxInput = ipc.MaxPayload

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt stdin to stdout with a prompted passphrase",
	Long: `Encrypt reads text from stdin and writes the same base64 ciphertext the
encrypt shortcut produces. It does not use the daemon or the stored
passphrase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(cmd, textcrypt.EncryptText)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt stdin to stdout with a prompted passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(cmd, textcrypt.DecryptText)
	},
}

type textTransform func(e textcrypt.Engine, text string, passphrase []byte) (string, error)

func transform(cmd *cobra.Command, fn textTransform) error {
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxInput+1))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	defer security.Wipe(data)
	if len(data) > maxInput {
		return fmt.Errorf("input larger than %d bytes", maxInput)
	}

	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	defer security.Wipe(pass)

	stop := startSpinner("Working...")
	out, err := fn(cryptoEngine(), strings.TrimRight(string(data), "\r\n"), pass)
	stop()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

// cryptoEngine is swapped in tests for a cheaper key derivation.
var cryptoEngine = func() textcrypt.Engine { return textcrypt.New() }

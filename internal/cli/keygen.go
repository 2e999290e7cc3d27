package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/meridianswap/swapd/internal/config"
)

var keygenOut string

// keygenCmd generates an engine signing key and writes the hex-encoded
// seed to disk.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an engine signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keygenOut); err == nil {
			return fmt.Errorf("refusing to overwrite existing key file %s", keygenOut)
		}

		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return err
		}

		if err := os.WriteFile(keygenOut, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}

		pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		fmt.Printf("key written to %s\n", keygenOut)
		fmt.Printf("remote address: %s\n", base58.Encode(pub))
		return nil
	},
}

// initConfigCmd writes an annotated example configuration file.
var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "swapd.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.SaveExampleConfig(path); err != nil {
			return err
		}
		fmt.Printf("example configuration written to %s\n", path)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "engine.key", "output file for the hex seed")
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(initConfigCmd)
}

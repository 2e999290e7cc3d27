// Package cli defines the swapd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meridianswap/swapd/internal/config"
)

var (
	// Global flags
	configFile string
	verbose    bool
	quiet      bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "swapd",
	Short: "swapd - cross-domain swap daemon",
	Long: `swapd runs the transaction core of a cross-domain token swap
service: constant-product pools over an internal ledger, signed
authorization proofs, and a settlement coordinator bridging a remote
domain through a relay.`,
	Version: "0.1.0-dev",
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}

// loadConfig resolves the configuration from the --conf flag or the
// default locations.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(config.ConfigPaths{Main: configFile})
	}
	return config.LoadDefaultConfig()
}

// newLogger builds the process logger from config and global flags.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	if quiet {
		level = zerolog.ErrorLevel
	}

	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

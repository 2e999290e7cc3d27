package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridianswap/swapd/internal/di"
)

var listenAddr string

// serverCmd starts the daemon. It is also the default action when no
// subcommand is given.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the swap daemon",
	Long: `Start swapd, serving:
- HTTP JSON-RPC on /
- WebSocket request event stream on /ws
- Health check on /health`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.RunE = serverCmd.RunE

	serverCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides config")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	log := newLogger(cfg)

	if !quiet {
		fmt.Printf("swapd listening on %s\n", cfg.Server.ListenAddr)
		fmt.Printf("  - JSON-RPC:     http://%s/\n", cfg.Server.ListenAddr)
		fmt.Printf("  - Event stream: ws://%s/ws\n", cfg.Server.ListenAddr)
		fmt.Printf("  - Health check: http://%s/health\n", cfg.Server.ListenAddr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return di.NewApp(cfg, log).Run(ctx)
}

// Blinky: host telemetry agent and collector in one binary.
// License: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blinky-mon/blinky/internal/agent"
	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/logging"
	"github.com/blinky-mon/blinky/internal/server"
	"github.com/blinky-mon/blinky/internal/version"
)

const asciiLogo = `
  ██████╗ ██╗     ██╗███╗   ██╗██╗  ██╗██╗   ██╗
  ██╔══██╗██║     ██║████╗  ██║██║ ██╔╝╚██╗ ██╔╝
  ██████╔╝██║     ██║██╔██╗ ██║█████╔╝  ╚████╔╝
  ██╔══██╗██║     ██║██║╚██╗██║██╔═██╗   ╚██╔╝
  ██████╔╝███████╗██║██║ ╚████║██║  ██╗   ██║
  ╚═════╝ ╚══════╝╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝   ╚═╝
`

func printBanner(mode string) {
	fmt.Print(asciiLogo)
	fmt.Printf("  ► Blinky %s  |  Mode: %s\n\n", version.Current(), mode)
}

func main() {
	root := &cobra.Command{
		Use:   "blinky",
		Short: "Blinky, the host telemetry agent and collector",
		Long: `Blinky samples host metrics on every machine it runs on, keeps a rotating
local log and streams snapshots to a central collector over WebSocket.`,
		SilenceUsage: true,
	}

	// ── collector subcommand ──────────────────────────────────────────────────
	collectorCmd := &cobra.Command{
		Use:   "collector",
		Short: "Run the collector (WebSocket ingest + HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("COLLECTOR")

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			// CLI flags override config values.
			if cmd.Flags().Changed("ws-port") {
				cfg.Server.WSPort, _ = cmd.Flags().GetInt("ws-port")
			}
			if cmd.Flags().Changed("http-port") {
				cfg.Server.HTTPPort, _ = cmd.Flags().GetInt("http-port")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fmt.Printf("  ✓ WebSocket ingest → ws://0.0.0.0:%d/ws\n", cfg.Server.WSPort)
			fmt.Printf("  ✓ HTTP API         → http://0.0.0.0:%d/api/metrics\n\n", cfg.Server.HTTPPort)

			ctx, stop := signalContext()
			defer stop()
			return server.Run(ctx, cfg, log.Named("collector"))
		},
	}
	collectorCmd.Flags().Int("ws-port", 0, "WebSocket listen port (overrides config)")
	collectorCmd.Flags().Int("http-port", 0, "HTTP API listen port (overrides config)")

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the agent on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
				cfg.Agent.Mode = mode
			}
			if host, _ := cmd.Flags().GetString("server"); host != "" {
				cfg.Collector.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Collector.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("interval") {
				cfg.Agent.Interval, _ = cmd.Flags().GetInt("interval")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fmt.Printf("  ✓ Mode:      %s\n", cfg.Agent.Mode)
			if cfg.PushEnabled() {
				fmt.Printf("  ✓ Collector: %s\n", cfg.CollectorAddr())
			}
			if cfg.StorageEnabled() {
				fmt.Printf("  ✓ Storage:   %s\n", cfg.Storage.Path)
			}
			fmt.Printf("  ✓ Interval:  %ds\n\n", cfg.Agent.Interval)

			ctx, stop := signalContext()
			defer stop()
			return agent.New(cfg, log.Named("agent")).Run(ctx)
		},
	}
	agentCmd.Flags().String("mode", "", "Operating mode: local, pull, push or hybrid")
	agentCmd.Flags().String("server", "", "Collector host (overrides config)")
	agentCmd.Flags().Int("port", 0, "Collector WebSocket port (overrides config)")
	agentCmd.Flags().Int("interval", 0, "Seconds between samples (overrides config)")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print Blinky version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Blinky %s\n", version.Full())
		},
	}

	root.PersistentFlags().String("config", "", "Path to config.toml")
	root.AddCommand(collectorCmd, agentCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config named by --config and builds the logger from it.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

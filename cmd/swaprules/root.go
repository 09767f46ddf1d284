package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/billix-app/swaprules/internal/config"
	"github.com/billix-app/swaprules/internal/domain"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file (default $BILLIX_CONFIG)")
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "swaprules",
	Short: "Billix swap lifecycle and trust-tier rules engine",
	Long: `swaprules runs the rules behind Billix bill swaps: trust tiers, fees,
the swap state machine, proofs, disputes and the points ledger.

Run "swaprules serve" to start the HTTP API and the deadline sweep worker.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "swaprules %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

// loadConfig reads the config and installs the default logger.
func loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}

	level, err := config.LogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	return cfg, nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/insoblok/inso-txpool/internal/config"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "txpoold",
	Short:         "UTXO transaction pool node",
	Long:          "Runs the transaction pool with its block producer and JSON-RPC interface",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml (defaults are used when empty)")
	rootCmd.AddCommand(runCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(cfgFile)
}

// setupLogging installs the default logger for the configured format and level.
func setupLogging(cfg *config.LoggingConfig) error {
	level, err := log.LvlFromString(cfg.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stdout, level)))
	case "", "terminal":
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stdout, level, true)))
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Format)
	}
	return nil
}

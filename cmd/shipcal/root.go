package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipcal/internal/config"
	appLog "shipcal/internal/log"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "shipcal",
	Short: "Shipment calendar",
	Long:  "Imports shipment events from calendar feeds and serves month, week, day and agenda views of them",
	// Errors are printed once by main.
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			if loaded == nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			appLog.Warn("could not write default config; using defaults", "config_path", configPath, "reason", err)
		}
		cfg = loaded

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		appLog.SetLevel(appLog.ParseLevel(level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

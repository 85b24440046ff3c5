package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/mealycache/internal/config"
	"github.com/aretw0/mealycache/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "mealycache",
	Short: "mealycache caches membership queries for automata learning",
	Long: `mealycache sits between a learning algorithm and a noisy system under learning.
It deduplicates queries, remembers observations durably and repairs contradictions
with a majority vote.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log_level from the config (debug, info, warn, error)")
}

// loadConfig reads --config and applies --log-level. It returns the directory
// relative paths in the config resolve against.
func loadConfig(cmd *cobra.Command) (*config.Config, string, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, "", nil, err
	}
	return cfg, filepath.Dir(path), logging.New(level), nil
}

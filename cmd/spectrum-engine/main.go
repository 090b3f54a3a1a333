// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the spectrum-engine CLI.
// Implements: prd007-dispatch, prd008-scoring, prd009-persistence
// (CLI surface). See docs/ARCHITECTURE § Command Interface.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/spectrum-engine/internal/logx"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the spectrum-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "spectrum-engine",
	Short: "Distribute spectrum match scoring across a worker pool",
	Long: `spectrum-engine scores candidate structures against recorded measurement
scans under named chemical modifications. Batches are distributed across a
pool of workers; if workers stall or die, the engine degrades to synchronous
in-process evaluation without losing or duplicating work.

Use the batch subcommand to run a manifest end to end, and evaluate to score
a single (hit, scan) pairing.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		logx.Configure(level)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./spectrum-engine.yaml or ~/.config/spectrum-engine/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error, none")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("spectrum-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "spectrum-engine"))
		}
	}

	viper.SetEnvPrefix("SPECTRUM_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

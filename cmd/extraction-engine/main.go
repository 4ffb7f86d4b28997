// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the extraction-engine CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/extraction-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets secrets.Store

// rootCmd is the base command for the extraction-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "extraction-engine",
	Short: "Cost-minimizing document field extraction",
	Long: `extraction-engine extracts structured fields from documents while calling
the LLM extraction oracle as rarely as possible. Results are cached at three
tiers and per-label templates are learned from oracle answers, so repeated
document layouts are served locally.

Run "serve" for the HTTP API, "extract" for a single document, or "batch"
for a dataset. The cache and template subcommands inspect and manage the
engine's persistent state.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", s.Names())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./extraction-engine.yaml or ~/.config/extraction-engine/config.yaml)")
	rootCmd.PersistentFlags().String("storage-dir", "", "base directory for cache.db and templates.db (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log verbosity: debug, info, warn, error (overrides config)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("extraction-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "extraction-engine"))
		}
	}

	viper.SetEnvPrefix("EXTRACTION_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		// Bind nested keys explicitly so env-only values are visible
		// without a config file entry.
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

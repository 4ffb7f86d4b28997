// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// envKeys are the config keys that may be overridden through
// EXTRACTION_ENGINE_* environment variables (dots become underscores, so
// storage.data_dir reads EXTRACTION_ENGINE_STORAGE_DATA_DIR).
var envKeys = []string{
	"storage.data_dir",
	"logging.level",
	"logging.format",
	"server.host",
	"server.port",
	"oracle.model",
	"oracle.base_url",
	"oracle.api_key",
	"batch.workers",
	"batch.output_dir",
}

// loadConfig assembles the effective configuration: documented defaults,
// then the config file viper discovered, then environment variables, then
// the persistent CLI flags.
func loadConfig(cmd *cobra.Command) (types.Config, error) {
	cfg := types.DefaultConfig()

	if file := viper.ConfigFileUsed(); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", file, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", file, err)
		}
	}

	applyEnvOverrides(&cfg)

	if dir, _ := cmd.Flags().GetString("storage-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// applyEnvOverrides copies any bound environment values over the config.
// Only keys listed in envKeys are consulted.
func applyEnvOverrides(cfg *types.Config) {
	set := func(key string, apply func()) {
		if viper.IsSet(key) {
			apply()
		}
	}

	set("storage.data_dir", func() { cfg.Storage.DataDir = viper.GetString("storage.data_dir") })
	set("logging.level", func() { cfg.Logging.Level = viper.GetString("logging.level") })
	set("logging.format", func() { cfg.Logging.Format = viper.GetString("logging.format") })
	set("server.host", func() { cfg.Server.Host = viper.GetString("server.host") })
	set("server.port", func() { cfg.Server.Port = viper.GetInt("server.port") })
	set("oracle.model", func() { cfg.Oracle.Model = viper.GetString("oracle.model") })
	set("oracle.base_url", func() { cfg.Oracle.BaseURL = viper.GetString("oracle.base_url") })
	set("oracle.api_key", func() { cfg.Oracle.APIKey = viper.GetString("oracle.api_key") })
	set("batch.workers", func() { cfg.Batch.Workers = viper.GetInt("batch.workers") })
	set("batch.output_dir", func() { cfg.Batch.OutputDir = viper.GetString("batch.output_dir") })
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/internal/logging"
	"github.com/pdiddy/extraction-engine/internal/oracle"
	"github.com/pdiddy/extraction-engine/internal/pipeline"
	"github.com/pdiddy/extraction-engine/internal/secrets"
	"github.com/pdiddy/extraction-engine/internal/template"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// engine bundles the wired pipeline with the stores the management
// subcommands operate on directly.
type engine struct {
	cfg       types.Config
	logger    *zap.Logger
	cache     *cache.Manager
	templates *template.Store
	pipeline  *pipeline.Pipeline
}

// newEngine loads configuration and wires the full pipeline: storage,
// cache tiers, template store, layout extractor, and oracle client.
func newEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	apiKey := loadedSecrets.Resolve(secrets.OracleKeyFile, cfg.Oracle.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("no oracle API key configured; oracle calls will fail and degrade to null fields")
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir %s: %w", cfg.Storage.DataDir, err)
	}

	store, err := cache.NewStore(filepath.Join(cfg.Storage.DataDir, "cache.db"), cfg.Cache.L2MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}

	templates, err := template.NewStore(filepath.Join(cfg.Storage.DataDir, "templates.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening template store: %w", err)
	}

	var extractor layout.Extractor
	if poppler, err := layout.NewPopplerExtractor(); err != nil {
		logger.Warn("pdftotext not available, accepting pre-extracted layouts only", zap.Error(err))
		extractor = layout.ElementsExtractor{}
	} else {
		extractor = poppler
	}

	manager := cache.NewManager(cfg.Cache, store, logger)
	p := pipeline.New(pipeline.Options{
		Config:    cfg,
		Cache:     manager,
		Templates: templates,
		Layout:    extractor,
		Oracle:    oracle.NewOpenAI(cfg.Oracle, apiKey, logger),
		Logger:    logger,
	})

	return &engine{
		cfg:       cfg,
		logger:    logger,
		cache:     manager,
		templates: templates,
		pipeline:  p,
	}, nil
}

// Close releases the engine's stores and flushes the logger.
func (e *engine) Close() {
	if err := e.pipeline.Close(); err != nil {
		e.logger.Warn("closing stores", zap.Error(err))
	}
	_ = logging.Sync(e.logger)
}

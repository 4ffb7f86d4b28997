package types

import "time"

// StorageConfig locates the engine's persistent state.
type StorageConfig struct {
	// DataDir is the base directory for persistent state (contains
	// cache.db and templates.db). Default "storage".
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// CacheConfig holds settings for the tiered result cache.
type CacheConfig struct {
	// L1Capacity is the in-process LRU entry cap (default 100).
	L1Capacity int `json:"l1_capacity" yaml:"l1_capacity"`

	// L2MaxBytes is the persistent tier's byte ceiling (default 1 GiB).
	L2MaxBytes int64 `json:"l2_max_bytes" yaml:"l2_max_bytes"`

	// PartialThreshold is the minimum fraction of requested fields a
	// per-field lookup must cover to be usable (default 0.5).
	PartialThreshold float64 `json:"partial_threshold" yaml:"partial_threshold"`

	// EstOracleMillis and EstOracleCost estimate the latency and dollar
	// cost of one oracle call. Every cache hit accrues them (scaled by
	// coverage for partial hits) into the savings counters (defaults
	// 5000 and 0.01).
	EstOracleMillis int64   `json:"est_oracle_millis" yaml:"est_oracle_millis"`
	EstOracleCost   float64 `json:"est_oracle_cost" yaml:"est_oracle_cost"`
}

// MatchingConfig holds the template matcher's similarity weights and the
// gates that decide when a template may replace the oracle.
type MatchingConfig struct {
	// StructuralWeight, TokenWeight and CharWeight blend the three
	// similarity signals; they should sum to 1 (defaults 0.70/0.20/0.10).
	StructuralWeight float64 `json:"structural_weight" yaml:"structural_weight"`
	TokenWeight      float64 `json:"token_weight" yaml:"token_weight"`
	CharWeight       float64 `json:"char_weight" yaml:"char_weight"`

	// RigidThreshold is the minimum match score for rigid labels
	// (default 0.95); FlexibleThreshold for all others (default 0.85).
	RigidThreshold    float64 `json:"rigid_threshold" yaml:"rigid_threshold"`
	FlexibleThreshold float64 `json:"flexible_threshold" yaml:"flexible_threshold"`

	// MinConfidence is the template confidence floor for any template use
	// (default 0.85). Flexible labels need FlexibleMinConfidence
	// (default 0.90).
	MinConfidence         float64 `json:"min_confidence" yaml:"min_confidence"`
	FlexibleMinConfidence float64 `json:"flexible_min_confidence" yaml:"flexible_min_confidence"`

	// MinSamples is the number of learned samples required before a
	// template may be used (default 3).
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// RigidLabels lists labels whose documents share a fixed layout and
	// therefore use RigidThreshold.
	RigidLabels []string `json:"rigid_labels,omitempty" yaml:"rigid_labels,omitempty"`
}

// LearningConfig holds the pattern learner's tolerances and confidence
// coefficients.
type LearningConfig struct {
	// PositionTolX and PositionTolY are the tolerance window stored with
	// position patterns, in points (defaults 30 and 20).
	PositionTolX float64 `json:"position_tol_x" yaml:"position_tol_x"`
	PositionTolY float64 `json:"position_tol_y" yaml:"position_tol_y"`

	// Template confidence after n samples is
	// min(MaxConfidence, BaseConfidence + SampleWeight*n)
	// (defaults 0.95, 0.6, 0.05).
	MaxConfidence  float64 `json:"max_confidence" yaml:"max_confidence"`
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence"`
	SampleWeight   float64 `json:"sample_weight" yaml:"sample_weight"`

	// Position pattern confidence is
	// min(MaxConfidence, PositionBase + PositionScale*score)
	// (defaults 0.7 and 0.2).
	PositionBase  float64 `json:"position_base" yaml:"position_base"`
	PositionScale float64 `json:"position_scale" yaml:"position_scale"`

	// Fixed strategy confidences (defaults 0.9, 0.7, 0.85, 0.3, 0.9).
	RegexConfidence      float64 `json:"regex_confidence" yaml:"regex_confidence"`
	ContextConfidence    float64 `json:"context_confidence" yaml:"context_confidence"`
	HybridConfidence     float64 `json:"hybrid_confidence" yaml:"hybrid_confidence"`
	ValueMatchConfidence float64 `json:"value_match_confidence" yaml:"value_match_confidence"`
	NoneConfidence       float64 `json:"none_confidence" yaml:"none_confidence"`
}

// OracleConfig holds settings for the extraction oracle client.
type OracleConfig struct {
	// Model is the oracle model identifier (default "gpt-5-mini").
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates against the oracle API. Falls back to the
	// OPENAI_API_KEY environment variable when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API root (default "https://api.openai.com/v1").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// MaxRetries is the number of retry attempts for failed calls
	// (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Timeout is the per-call HTTP timeout (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxOutputTokens bounds the oracle's response (default 1024).
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	// Host is the listen address; empty means all interfaces.
	Host string `json:"host" yaml:"host"`

	// Port is the listen port (default 8000).
	Port int `json:"port" yaml:"port"`

	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default "info").
	Level string `json:"level" yaml:"level"`

	// Format is "json" or "console" (default "json").
	Format string `json:"format" yaml:"format"`
}

// BatchConfig holds settings for batch dataset runs.
type BatchConfig struct {
	// Workers is the number of label groups processed concurrently
	// (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// OutputDir receives per-document result files (default "results").
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// Config groups all engine configuration.
type Config struct {
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Matching MatchingConfig `json:"matching" yaml:"matching"`
	Learning LearningConfig `json:"learning" yaml:"learning"`
	Oracle   OracleConfig   `json:"oracle" yaml:"oracle"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
}

// DefaultConfig returns the documented defaults. Callers overlay file and
// environment values on top of it.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: "storage",
		},
		Cache: CacheConfig{
			L1Capacity:       100,
			L2MaxBytes:       1 << 30,
			PartialThreshold: 0.5,
			EstOracleMillis:  5000,
			EstOracleCost:    0.01,
		},
		Matching: MatchingConfig{
			StructuralWeight:      0.70,
			TokenWeight:           0.20,
			CharWeight:            0.10,
			RigidThreshold:        0.95,
			FlexibleThreshold:     0.85,
			MinConfidence:         0.85,
			FlexibleMinConfidence: 0.90,
			MinSamples:            3,
		},
		Learning: LearningConfig{
			PositionTolX:         30,
			PositionTolY:         20,
			MaxConfidence:        0.95,
			BaseConfidence:       0.6,
			SampleWeight:         0.05,
			PositionBase:         0.7,
			PositionScale:        0.2,
			RegexConfidence:      0.9,
			ContextConfidence:    0.7,
			HybridConfidence:     0.85,
			ValueMatchConfidence: 0.3,
			NoneConfidence:       0.9,
		},
		Oracle: OracleConfig{
			Model:           "gpt-5-mini",
			BaseURL:         "https://api.openai.com/v1",
			MaxRetries:      3,
			Timeout:         60 * time.Second,
			MaxOutputTokens: 1024,
		},
		Server: ServerConfig{
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Batch: BatchConfig{
			Workers:   4,
			OutputDir: "results",
		},
	}
}

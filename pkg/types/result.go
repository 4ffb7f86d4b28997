// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ExtractionMethod records which path produced a result.
type ExtractionMethod string

const (
	// MethodCache means the result was served from the exact-key cache.
	MethodCache ExtractionMethod = "cache"

	// MethodTemplate means a learned template extracted every field locally.
	MethodTemplate ExtractionMethod = "template"

	// MethodHybrid means a template or partial cache supplied some fields
	// and a scoped oracle call supplied the rest.
	MethodHybrid ExtractionMethod = "hybrid"

	// MethodLLM means the full schema went to the extraction oracle.
	MethodLLM ExtractionMethod = "llm"
)

// PipelineResult is the outcome of one extraction request.
type PipelineResult struct {
	// Fields maps field name to extracted value. Fields the document does
	// not contain map to the empty string.
	Fields map[string]string `json:"fields"`

	// MethodUsed is the path that produced the fields.
	MethodUsed ExtractionMethod `json:"method_used"`

	// Confidence is the producing component's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// MissingFields lists requested fields no tier could resolve. They
	// appear in Fields as empty strings.
	MissingFields []string `json:"missing_fields"`

	// CacheHit reports whether any cache tier contributed to the result.
	CacheHit bool `json:"cache_hit"`

	// CacheTier names the tier that served a hit: "l1", "l2", or "l3" for
	// partial per-field hits. Empty on a miss.
	CacheTier string `json:"cache_tier,omitempty"`

	// OracleCalled reports whether the extraction oracle was invoked,
	// fully or for a scoped subset.
	OracleCalled bool `json:"oracle_called"`

	// ProcessingMillis is wall time spent serving the request.
	ProcessingMillis int64 `json:"processing_ms"`

	// CacheKey is the derived key the result was stored under.
	CacheKey string `json:"cache_key"`
}

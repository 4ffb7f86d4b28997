// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Stats is the aggregated view served by the stats endpoint.
type Stats struct {
	UptimeSeconds  float64          `json:"uptime_seconds"`
	Requests       int64            `json:"requests"`
	ByMethod       map[string]int64 `json:"by_method"`
	OracleCalls    int64            `json:"oracle_calls"`
	OracleFailures int64            `json:"oracle_failures"`
	OracleTokens   int64            `json:"oracle_tokens"`
	// OracleCallsSaved counts requests served entirely from the cache or a
	// template, where a cold pipeline would have paid for an oracle call.
	OracleCallsSaved int64       `json:"oracle_calls_saved"`
	Templates        int         `json:"templates"`
	Cache            cache.Stats `json:"cache"`
}

// Stats reports request, oracle and cache counters since construction.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	templates, err := p.templates.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting templates: %w", err)
	}
	return Stats{
		UptimeSeconds: time.Since(p.started).Seconds(),
		Requests:      p.requests.Load(),
		ByMethod: map[string]int64{
			string(types.MethodCache):    p.cacheServed.Load(),
			string(types.MethodTemplate): p.templateServed.Load(),
			string(types.MethodHybrid):   p.hybridServed.Load(),
			string(types.MethodLLM):      p.llmServed.Load(),
		},
		OracleCalls:      p.oracleCalls.Load(),
		OracleFailures:   p.oracleFailures.Load(),
		OracleTokens:     p.oracleTokens.Load(),
		OracleCallsSaved: p.cacheServed.Load() + p.templateServed.Load(),
		Templates:        templates,
		Cache:            p.cache.Stats(),
	}, nil
}

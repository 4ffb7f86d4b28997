// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline routes each extraction request to the cheapest tier able
// to serve it: cached answers first, then learned templates, then the
// extraction oracle. Every oracle answer feeds the learner so later
// documents of the same label get cheaper.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/internal/oracle"
	"github.com/pdiddy/extraction-engine/internal/template"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// PostProcess optionally rewrites an extracted value before it is cached
// and returned, e.g. to normalize whitespace or strip currency prefixes.
type PostProcess func(field, value string) string

// Options carries the pipeline's collaborators. Cache, Templates, Layout,
// Oracle and Logger are required; Metrics defaults to the process-wide set
// and PostProcess may be nil.
type Options struct {
	Config      types.Config
	Cache       *cache.Manager
	Templates   *template.Store
	Layout      layout.Extractor
	Oracle      oracle.Oracle
	Logger      *zap.Logger
	Metrics     *Metrics
	PostProcess PostProcess
}

// Pipeline is the engine's decision core. Construct one per process with
// New and share it across request handlers; all state is internally
// synchronized.
type Pipeline struct {
	cfg         types.Config
	cache       *cache.Manager
	templates   *template.Store
	matcher     *template.Matcher
	learner     *template.Learner
	extractor   *template.Extractor
	layout      layout.Extractor
	oracle      oracle.Oracle
	logger      *zap.Logger
	metrics     *Metrics
	postProcess PostProcess

	labels keyedMutex

	started        time.Time
	requests       atomic.Int64
	cacheServed    atomic.Int64
	templateServed atomic.Int64
	hybridServed   atomic.Int64
	llmServed      atomic.Int64
	oracleCalls    atomic.Int64
	oracleFailures atomic.Int64
	oracleTokens   atomic.Int64
}

// New assembles a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Pipeline{
		cfg:         opts.Config,
		cache:       opts.Cache,
		templates:   opts.Templates,
		matcher:     template.NewMatcher(opts.Config.Matching),
		learner:     template.NewLearner(opts.Config.Learning, opts.Logger),
		extractor:   template.NewExtractor(opts.Logger),
		layout:      opts.Layout,
		oracle:      opts.Oracle,
		logger:      opts.Logger,
		metrics:     metrics,
		postProcess: opts.PostProcess,
		started:     time.Now(),
	}
}

// Extract serves one request. It returns an error only for unusable input;
// oracle and persistence failures degrade the result instead, with
// unresolved fields reported as empty strings and listed in MissingFields.
func (p *Pipeline) Extract(ctx context.Context, req types.ExtractRequest) (*types.PipelineResult, error) {
	start := time.Now()

	if req.Label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if len(req.Fields) == 0 {
		return nil, fmt.Errorf("at least one field is required")
	}
	if len(req.Content) == 0 && len(req.Elements) == 0 {
		return nil, fmt.Errorf("document content or elements are required")
	}

	elements := req.Elements
	if len(elements) == 0 {
		var err error
		elements, err = p.layout.Extract(ctx, req.Content)
		if err != nil {
			return nil, fmt.Errorf("partitioning document: %w", err)
		}
		if len(elements) == 0 {
			return nil, fmt.Errorf("document produced no layout elements")
		}
	}
	layout.Sort(elements)

	names := types.FieldNames(req.Fields)
	docHash := p.documentHash(req, elements)

	logger := p.logger.With(zap.String("label", req.Label), zap.String("doc", docHash[:12]))

	lookup, hit := p.cache.Get(docHash, req.Label, req.Fields)
	key := lookup.Key

	var (
		partial cache.Partial
		usable  bool
	)
	if hit {
		p.metrics.RecordCacheHit(lookup.Tier)
		if lookup.Tier != cache.TierPartial {
			logger.Debug("served from cache", zap.String("tier", lookup.Tier))
			return p.finish(start, cacheResult(lookup.Entry.Fields, names, lookup.Entry.Confidence, lookup.Tier, key))
		}
		if lookup.Partial.Complete() {
			logger.Debug("served from field cache", zap.Float64("coverage", lookup.Partial.Coverage))
			return p.finish(start, cacheResult(lookup.Partial.Fields, names, lookup.Partial.Confidence, cache.TierPartial, key))
		}
		partial, usable = lookup.Partial, true
		logger.Debug("field cache partial, scoping oracle to missing fields",
			zap.Float64("coverage", partial.Coverage),
			zap.Strings("missing", partial.Missing))
	} else {
		p.metrics.RecordCacheMiss()
	}

	// LEARN mutates the label's single template, so everything past the
	// cache is serialized per label. Distinct labels proceed in parallel.
	unlock := p.labels.lock(req.Label)
	defer unlock()

	tpl, found, err := p.templates.Get(ctx, req.Label)
	if err != nil {
		logger.Warn("template read failed, treating as miss", zap.Error(err))
		tpl, found = nil, false
	}

	var (
		resolved     map[string]string
		method       types.ExtractionMethod
		confidence   float64
		oracleCalled bool
		tier         string
	)

	switch {
	case usable:
		resolved, confidence, oracleCalled = p.completePartial(ctx, tpl, partial, elements, req, logger)
		method = types.MethodHybrid
		tier = cache.TierPartial
	case found && p.matchable(tpl, elements, req.Label, logger):
		resolved, method, confidence, oracleCalled = p.extractWithTemplate(ctx, tpl, elements, req, logger)
	default:
		resolved, confidence, oracleCalled = p.extractWithOracle(ctx, tpl, elements, req, logger)
		method = types.MethodLLM
	}

	if p.postProcess != nil {
		for field, value := range resolved {
			resolved[field] = p.postProcess(field, value)
		}
	}

	entry := cache.Entry{
		Fields:     resolved,
		Label:      req.Label,
		Schema:     names,
		Method:     method,
		Confidence: confidence,
	}
	if err := p.cache.Set(docHash, key, entry); err != nil {
		logger.Warn("caching result failed", zap.Error(err))
	}

	elapsed := time.Since(start)
	if err := p.templates.RecordHistory(ctx, req.Label, method, len(names), confidence, elapsed); err != nil {
		logger.Warn("recording history failed", zap.Error(err))
	}

	fields, missing := fillSchema(resolved, names)
	return p.finish(start, &types.PipelineResult{
		Fields:        fields,
		MethodUsed:    method,
		Confidence:    confidence,
		MissingFields: missing,
		CacheHit:      tier != "",
		CacheTier:     tier,
		OracleCalled:  oracleCalled,
		CacheKey:      key,
	})
}

// matchable reports whether the stored template is trusted for the label
// and structurally similar enough to the document at hand.
func (p *Pipeline) matchable(tpl *types.Template, elements []types.PositionedElement, label string, logger *zap.Logger) bool {
	if !p.matcher.CanUse(tpl, label) {
		logger.Debug("template not yet trusted",
			zap.Int("samples", tpl.SampleCount),
			zap.Float64("confidence", tpl.Confidence))
		return false
	}
	score := p.matcher.Match(tpl.Reference, elements)
	threshold := p.matcher.Threshold(label)
	if score < threshold {
		logger.Debug("template layout mismatch",
			zap.Float64("score", score),
			zap.Float64("threshold", threshold))
		return false
	}
	logger.Debug("template eligible", zap.Float64("score", score))
	return true
}

// extractWithTemplate runs the template path: local field extraction, then
// a scoped oracle call for whatever the template could not serve. Only the
// oracle-confirmed fields feed the learner.
func (p *Pipeline) extractWithTemplate(ctx context.Context, tpl *types.Template, elements []types.PositionedElement, req types.ExtractRequest, logger *zap.Logger) (map[string]string, types.ExtractionMethod, float64, bool) {
	names := types.FieldNames(req.Fields)
	resolved, failed := p.extractor.Extract(tpl, elements, names)
	p.recordOutcomes(ctx, req.Label, resolved, failed, logger)
	confidence := tpl.Confidence

	if len(failed) == 0 {
		logger.Info("template served full schema", zap.Int("fields", len(resolved)))
		return resolved, types.MethodTemplate, confidence, false
	}

	logger.Info("template partial, scoping oracle to failed fields",
		zap.Int("served", len(resolved)),
		zap.Strings("failed", failed))

	answers, ok := p.callOracle(ctx, req.Label, fieldSubset(req.Fields, failed), elements, logger)
	if !ok {
		return resolved, types.MethodHybrid, confidence, true
	}
	for field, value := range answers {
		resolved[field] = value
	}
	p.learn(ctx, tpl, elements, answers, fieldSubset(req.Fields, failed), logger)
	return resolved, types.MethodHybrid, confidence, true
}

// completePartial finishes an incomplete field-cache hit: cached values are
// kept and the oracle is asked only for the fields the cache lacked. On
// oracle failure the partial stands as-is.
func (p *Pipeline) completePartial(ctx context.Context, tpl *types.Template, partial cache.Partial, elements []types.PositionedElement, req types.ExtractRequest, logger *zap.Logger) (map[string]string, float64, bool) {
	specs := fieldSubset(req.Fields, partial.Missing)
	answers, ok := p.callOracle(ctx, req.Label, specs, elements, logger)
	if !ok {
		return partial.Fields, partial.Confidence, true
	}
	for field, value := range answers {
		partial.Fields[field] = value
	}
	if tpl == nil {
		tpl = &types.Template{Label: req.Label}
	}
	p.learn(ctx, tpl, elements, answers, specs, logger)
	return partial.Fields, partial.Confidence, true
}

// extractWithOracle runs the full schema through the oracle and learns from
// the answers. On oracle failure it returns an empty resolved set so the
// request degrades instead of erroring.
func (p *Pipeline) extractWithOracle(ctx context.Context, tpl *types.Template, elements []types.PositionedElement, req types.ExtractRequest, logger *zap.Logger) (map[string]string, float64, bool) {
	answers, ok := p.callOracle(ctx, req.Label, req.Fields, elements, logger)
	if !ok {
		return map[string]string{}, 0, true
	}
	if tpl == nil {
		tpl = &types.Template{Label: req.Label}
	}
	p.learn(ctx, tpl, elements, answers, req.Fields, logger)
	return answers, 1.0, true
}

// callOracle invokes the oracle for the given fields. The bool reports
// success; failures are logged and counted, never propagated.
func (p *Pipeline) callOracle(ctx context.Context, label string, fields []types.FieldSpec, elements []types.PositionedElement, logger *zap.Logger) (map[string]string, bool) {
	p.oracleCalls.Add(1)
	p.metrics.RecordOracleCall()

	result, err := p.oracle.Extract(ctx, oracle.Request{
		Label:    label,
		Fields:   fields,
		Document: layout.Text(elements),
	})
	if err != nil {
		p.oracleFailures.Add(1)
		p.metrics.RecordOracleFailure()
		logger.Warn("oracle call failed, degrading", zap.Int("fields", len(fields)), zap.Error(err))
		return nil, false
	}

	p.oracleTokens.Add(int64(result.TokensUsed))
	p.metrics.RecordOracleTokens(result.TokensUsed)
	return result.Fields, true
}

// learn feeds oracle-confirmed values into the label's template and
// persists it. Persistence failures cost only this sample.
func (p *Pipeline) learn(ctx context.Context, tpl *types.Template, elements []types.PositionedElement, fields map[string]string, specs []types.FieldSpec, logger *zap.Logger) {
	p.learner.Learn(tpl, elements, fields, specs)
	if err := p.templates.Upsert(ctx, tpl); err != nil {
		logger.Warn("persisting template failed", zap.Error(err))
		return
	}
	logger.Info("template updated",
		zap.Int("samples", tpl.SampleCount),
		zap.Float64("confidence", tpl.Confidence))
	if n, err := p.templates.Count(ctx); err == nil {
		p.metrics.SetTemplateCount(n)
	}
}

// recordOutcomes bumps per-pattern success and failure counters after a
// template extraction.
func (p *Pipeline) recordOutcomes(ctx context.Context, label string, resolved map[string]string, failed []string, logger *zap.Logger) {
	for field := range resolved {
		if err := p.templates.RecordOutcome(ctx, label, field, true); err != nil {
			logger.Warn("recording outcome failed", zap.String("field", field), zap.Error(err))
		}
	}
	for _, field := range failed {
		if err := p.templates.RecordOutcome(ctx, label, field, false); err != nil {
			logger.Warn("recording outcome failed", zap.String("field", field), zap.Error(err))
		}
	}
}

func (p *Pipeline) documentHash(req types.ExtractRequest, elements []types.PositionedElement) string {
	if len(req.Content) > 0 {
		return cache.DocumentHash(req.Content)
	}
	return cache.DocumentHash([]byte(layout.Text(elements)))
}

func (p *Pipeline) finish(start time.Time, result *types.PipelineResult) (*types.PipelineResult, error) {
	result.ProcessingMillis = time.Since(start).Milliseconds()
	p.requests.Add(1)
	switch result.MethodUsed {
	case types.MethodCache:
		p.cacheServed.Add(1)
	case types.MethodTemplate:
		p.templateServed.Add(1)
	case types.MethodHybrid:
		p.hybridServed.Add(1)
	case types.MethodLLM:
		p.llmServed.Add(1)
	}
	p.metrics.RecordRequest(string(result.MethodUsed), time.Since(start).Seconds())
	return result, nil
}

// Close releases the pipeline's persistence handles.
func (p *Pipeline) Close() error {
	return errors.Join(p.cache.Close(), p.templates.Close())
}

// cacheResult shapes a cache entry or partial into a pipeline result.
func cacheResult(stored map[string]string, names []string, confidence float64, tier, key string) *types.PipelineResult {
	fields, missing := fillSchema(stored, names)
	return &types.PipelineResult{
		Fields:        fields,
		MethodUsed:    types.MethodCache,
		Confidence:    confidence,
		MissingFields: missing,
		CacheHit:      true,
		CacheTier:     tier,
		OracleCalled:  false,
		CacheKey:      key,
	}
}

// fillSchema copies resolved values into a fresh map covering every
// requested name. Names with no resolved value map to the empty string and
// are listed in missing, in schema order. The missing list is non-nil so it
// serializes as an empty JSON array rather than null.
func fillSchema(resolved map[string]string, names []string) (map[string]string, []string) {
	fields := make(map[string]string, len(names))
	missing := []string{}
	for _, name := range names {
		value, ok := resolved[name]
		if !ok {
			missing = append(missing, name)
		}
		fields[name] = value
	}
	return fields, missing
}

// fieldSubset returns the specs whose names appear in wanted, preserving
// schema order.
func fieldSubset(specs []types.FieldSpec, wanted []string) []types.FieldSpec {
	want := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		want[name] = struct{}{}
	}
	subset := make([]types.FieldSpec, 0, len(wanted))
	for _, spec := range specs {
		if _, ok := want[spec.Name]; ok {
			subset = append(subset, spec)
		}
	}
	return subset
}

// keyedMutex serializes callers holding the same key while leaving
// distinct keys fully concurrent. Locks are never discarded; the map is
// bounded by label cardinality.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/internal/oracle"
	"github.com/pdiddy/extraction-engine/internal/template"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// oracleStub answers whatever its answers map holds for the requested
// fields, so scoped calls return only what was asked for.
type oracleStub struct {
	mu       sync.Mutex
	calls    int
	requests []oracle.Request
	answers  map[string]string
	tokens   int
	err      error
}

func (o *oracleStub) Extract(_ context.Context, req oracle.Request) (oracle.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.requests = append(o.requests, req)
	if o.err != nil {
		return oracle.Result{}, o.err
	}
	fields := make(map[string]string, len(req.Fields))
	for _, spec := range req.Fields {
		fields[spec.Name] = o.answers[spec.Name]
	}
	return oracle.Result{Fields: fields, TokensUsed: o.tokens}, nil
}

func (o *oracleStub) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *oracleStub) lastRequest() oracle.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[len(o.requests)-1]
}

type failingLayout struct{ err error }

func (f failingLayout) Extract(context.Context, []byte) ([]types.PositionedElement, error) {
	return nil, f.err
}

func testPipeline(t *testing.T, stub *oracleStub, lo layout.Extractor) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.Storage.DataDir = dir

	store, err := cache.NewStore(filepath.Join(dir, "cache.db"), cfg.Cache.L2MaxBytes)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	templates, err := template.NewStore(filepath.Join(dir, "templates.db"))
	if err != nil {
		t.Fatalf("template.NewStore: %v", err)
	}

	if lo == nil {
		lo = layout.ElementsExtractor{}
	}
	p := New(Options{
		Config:    cfg,
		Cache:     cache.NewManager(cfg.Cache, store, zap.NewNop()),
		Templates: templates,
		Layout:    lo,
		Oracle:    stub,
		Logger:    zap.NewNop(),
	})
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func idCardSchema() []types.FieldSpec {
	return []types.FieldSpec{
		{Name: "name", Description: "nome completo do titular"},
		{Name: "id_number", Description: "numero de registro nacional"},
	}
}

// idCardElements lays out one registry card. Only the registry number
// varies between documents, so layouts stay near-identical while document
// hashes differ.
func idCardElements(number string) []types.PositionedElement {
	return []types.PositionedElement{
		{Text: "CADASTRO NACIONAL", X: 60, Y: 30, Page: 1, Category: types.CategoryTitle},
		{Text: "Nome:", X: 60, Y: 90, Page: 1, Category: types.CategoryNarrativeText},
		{Text: "MARIA DA SILVA", X: 140, Y: 90, Page: 1, Category: types.CategoryNarrativeText},
		{Text: "Registro:", X: 60, Y: 130, Page: 1, Category: types.CategoryNarrativeText},
		{Text: number, X: 140, Y: 130, Page: 1, Category: types.CategoryNarrativeText},
	}
}

func idCardRequest(number string) types.ExtractRequest {
	return types.ExtractRequest{
		Elements: idCardElements(number),
		Label:    "id_card",
		Fields:   idCardSchema(),
	}
}

// learnSamples drives enough oracle extractions through the pipeline for
// the id_card template to clear the flexible gates (six samples reach
// confidence 0.90).
func learnSamples(t *testing.T, p *Pipeline, stub *oracleStub, numbers ...string) {
	t.Helper()
	for _, number := range numbers {
		stub.answers = map[string]string{"name": "MARIA DA SILVA", "id_number": number}
		result, err := p.Extract(context.Background(), idCardRequest(number))
		if err != nil {
			t.Fatalf("Extract(%s): %v", number, err)
		}
		if result.MethodUsed != types.MethodLLM {
			t.Fatalf("sample %s: MethodUsed = %q, want %q", number, result.MethodUsed, types.MethodLLM)
		}
	}
}

func learnedNumbers() []string {
	return []string{"100001", "100002", "100003", "100004", "100005", "100006"}
}

func wantFields(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("fields = %v, want %v", got, want)
		return
	}
	for field, value := range want {
		if got[field] != value {
			t.Errorf("fields[%s] = %q, want %q", field, got[field], value)
		}
	}
}

func TestExtractFirstCallLearnsFromOracle(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
		tokens:  42,
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	result, err := p.Extract(ctx, idCardRequest("100001"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if result.MethodUsed != types.MethodLLM {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodLLM)
	}
	if !result.OracleCalled {
		t.Error("OracleCalled = false, want true")
	}
	if result.CacheHit {
		t.Error("CacheHit = true on first call")
	}
	if result.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", result.Confidence)
	}
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", result.MissingFields)
	}
	if result.CacheKey == "" {
		t.Error("CacheKey is empty")
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"})
	if stub.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", stub.callCount())
	}

	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	if tpl.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", tpl.SampleCount)
	}
	if math.Abs(tpl.Confidence-0.65) > 1e-9 {
		t.Errorf("template Confidence = %v, want 0.65", tpl.Confidence)
	}
	if len(tpl.Patterns) != 2 {
		t.Errorf("learned %d patterns, want 2", len(tpl.Patterns))
	}
}

func TestExtractRepeatServedFromMemoryCache(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
		tokens:  42,
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	result, err := p.Extract(ctx, idCardRequest("100001"))
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}

	if result.MethodUsed != types.MethodCache {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodCache)
	}
	if !result.CacheHit {
		t.Error("CacheHit = false, want true")
	}
	if result.CacheTier != cache.TierL1 {
		t.Errorf("CacheTier = %q, want %q", result.CacheTier, cache.TierL1)
	}
	if result.OracleCalled {
		t.Error("OracleCalled = true on a cache hit")
	}
	if result.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", result.Confidence)
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"})
	if stub.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", stub.callCount())
	}
}

func TestExtractTemplatePathAfterLearning(t *testing.T) {
	stub := &oracleStub{tokens: 30}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	learnSamples(t, p, stub, learnedNumbers()...)
	before := stub.callCount()

	result, err := p.Extract(ctx, idCardRequest("777388"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if result.MethodUsed != types.MethodTemplate {
		t.Fatalf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodTemplate)
	}
	if result.OracleCalled {
		t.Error("OracleCalled = true on the template path")
	}
	if stub.callCount() != before {
		t.Errorf("oracle calls = %d, want %d", stub.callCount(), before)
	}
	if math.Abs(result.Confidence-0.90) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.90", result.Confidence)
	}
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", result.MissingFields)
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA", "id_number": "777388"})

	// A pure template hit must not consume a learning sample, but it does
	// exercise the patterns.
	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	if tpl.SampleCount != len(learnedNumbers()) {
		t.Errorf("SampleCount = %d, want %d", tpl.SampleCount, len(learnedNumbers()))
	}
	for _, field := range []string{"name", "id_number"} {
		if got := tpl.Patterns[field].Successes; got != 1 {
			t.Errorf("pattern %s Successes = %d, want 1", field, got)
		}
	}
}

func TestExtractPartialCacheServesSubset(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}

	result, err := p.Extract(ctx, types.ExtractRequest{
		Elements: idCardElements("100001"),
		Label:    "id_card",
		Fields:   []types.FieldSpec{{Name: "name"}},
	})
	if err != nil {
		t.Fatalf("subset Extract: %v", err)
	}

	if result.MethodUsed != types.MethodCache {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodCache)
	}
	if result.CacheTier != cache.TierPartial {
		t.Errorf("CacheTier = %q, want %q", result.CacheTier, cache.TierPartial)
	}
	if result.MissingFields == nil || len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want empty", result.MissingFields)
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA"})
	if stub.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", stub.callCount())
	}
}

func TestExtractPartialBelowThresholdFallsThrough(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}

	// Two of five requested fields are cached: 40% coverage is below the
	// partial threshold, so the request goes back to the oracle.
	wide := []types.FieldSpec{
		{Name: "name"}, {Name: "id_number"}, {Name: "cpf"}, {Name: "rg"}, {Name: "orgao"},
	}
	result, err := p.Extract(ctx, types.ExtractRequest{
		Elements: idCardElements("100001"),
		Label:    "id_card",
		Fields:   wide,
	})
	if err != nil {
		t.Fatalf("wide Extract: %v", err)
	}

	if result.MethodUsed != types.MethodLLM {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodLLM)
	}
	if result.CacheHit {
		t.Error("CacheHit = true, want fall-through")
	}
	if stub.callCount() != 2 {
		t.Errorf("oracle calls = %d, want 2", stub.callCount())
	}
	// The oracle resolved the absent fields as genuinely empty.
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", result.MissingFields)
	}
	wantFields(t, result.Fields, map[string]string{
		"name": "MARIA DA SILVA", "id_number": "100001", "cpf": "", "rg": "", "orgao": "",
	})
}

func TestExtractPartialScopesOracleToMissingFields(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}

	// Two of four requested fields are cached: exactly at the 50% partial
	// threshold, so the cached pair is kept and only cpf and rg go to the
	// oracle.
	stub.answers["cpf"] = "111.222.333-44"
	stub.answers["rg"] = "12.345.678-9"
	wide := []types.FieldSpec{
		{Name: "name"}, {Name: "id_number"}, {Name: "cpf"}, {Name: "rg"},
	}
	result, err := p.Extract(ctx, types.ExtractRequest{
		Elements: idCardElements("100001"),
		Label:    "id_card",
		Fields:   wide,
	})
	if err != nil {
		t.Fatalf("wide Extract: %v", err)
	}

	if result.MethodUsed != types.MethodHybrid {
		t.Fatalf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodHybrid)
	}
	if !result.CacheHit || result.CacheTier != cache.TierPartial {
		t.Errorf("CacheHit, CacheTier = %v, %q; want true, %q", result.CacheHit, result.CacheTier, cache.TierPartial)
	}
	if !result.OracleCalled {
		t.Error("OracleCalled = false, want true")
	}
	if stub.callCount() != 2 {
		t.Fatalf("oracle calls = %d, want 2", stub.callCount())
	}
	scoped := stub.lastRequest()
	if got := types.FieldNames(scoped.Fields); !slices.Equal(got, []string{"cpf", "rg"}) {
		t.Errorf("scoped oracle fields = %v, want [cpf rg]", got)
	}
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", result.MissingFields)
	}
	wantFields(t, result.Fields, map[string]string{
		"name":      "MARIA DA SILVA",
		"id_number": "100001",
		"cpf":       "111.222.333-44",
		"rg":        "12.345.678-9",
	})

	// The scoped answers consume a learning sample.
	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	if tpl.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2", tpl.SampleCount)
	}

	// The merged result was stored under the wide key.
	repeat, err := p.Extract(ctx, types.ExtractRequest{
		Elements: idCardElements("100001"),
		Label:    "id_card",
		Fields:   wide,
	})
	if err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}
	if repeat.MethodUsed != types.MethodCache || repeat.CacheTier != cache.TierL1 {
		t.Errorf("repeat MethodUsed, CacheTier = %q, %q; want cache from l1", repeat.MethodUsed, repeat.CacheTier)
	}
	if stub.callCount() != 2 {
		t.Errorf("oracle calls after repeat = %d, want 2", stub.callCount())
	}
}

func TestExtractPartialOracleFailureKeepsCachedFields(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}

	stub.err = errors.New("oracle down")
	result, err := p.Extract(ctx, types.ExtractRequest{
		Elements: idCardElements("100001"),
		Label:    "id_card",
		Fields: []types.FieldSpec{
			{Name: "name"}, {Name: "id_number"}, {Name: "cpf"}, {Name: "rg"},
		},
	})
	if err != nil {
		t.Fatalf("wide Extract: %v", err)
	}

	if result.MethodUsed != types.MethodHybrid {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodHybrid)
	}
	if !result.CacheHit || result.CacheTier != cache.TierPartial {
		t.Errorf("CacheHit, CacheTier = %v, %q; want true, %q", result.CacheHit, result.CacheTier, cache.TierPartial)
	}
	wantFields(t, result.Fields, map[string]string{
		"name": "MARIA DA SILVA", "id_number": "100001", "cpf": "", "rg": "",
	})
	if !slices.Equal(result.MissingFields, []string{"cpf", "rg"}) {
		t.Errorf("MissingFields = %v, want [cpf rg]", result.MissingFields)
	}

	// The failed scoped call consumed no learning sample.
	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	if tpl.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", tpl.SampleCount)
	}
}

func TestExtractScopedOracleForFailedFields(t *testing.T) {
	stub := &oracleStub{tokens: 25}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	learnSamples(t, p, stub, learnedNumbers()...)

	// Drop the name pattern so the template cannot serve that field.
	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	delete(tpl.Patterns, "name")
	if err := p.templates.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stub.answers = map[string]string{"name": "MARIA DA SILVA"}
	before := stub.callCount()

	result, err := p.Extract(ctx, idCardRequest("777388"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if result.MethodUsed != types.MethodHybrid {
		t.Fatalf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodHybrid)
	}
	if !result.OracleCalled {
		t.Error("OracleCalled = false, want true")
	}
	if stub.callCount() != before+1 {
		t.Fatalf("oracle calls = %d, want %d", stub.callCount(), before+1)
	}

	scoped := stub.lastRequest()
	if len(scoped.Fields) != 1 || scoped.Fields[0].Name != "name" {
		t.Errorf("scoped oracle fields = %v, want just name", scoped.Fields)
	}
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", result.MissingFields)
	}
	if math.Abs(result.Confidence-0.90) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.90", result.Confidence)
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA", "id_number": "777388"})

	// The scoped answers count as one more learning sample and restore the
	// dropped pattern.
	relearned, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get after relearn = %v, %v; want template", ok, err)
	}
	if relearned.SampleCount != len(learnedNumbers())+1 {
		t.Errorf("SampleCount = %d, want %d", relearned.SampleCount, len(learnedNumbers())+1)
	}
	if _, ok := relearned.Patterns["name"]; !ok {
		t.Error("name pattern was not relearned")
	}
}

func TestExtractOracleFailureDegrades(t *testing.T) {
	stub := &oracleStub{err: errors.New("oracle timeout")}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	result, err := p.Extract(ctx, idCardRequest("900001"))
	if err != nil {
		t.Fatalf("Extract returned error on oracle failure: %v", err)
	}

	if result.MethodUsed != types.MethodLLM {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodLLM)
	}
	if !result.OracleCalled {
		t.Error("OracleCalled = false, want true")
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	wantFields(t, result.Fields, map[string]string{"name": "", "id_number": ""})
	if !slices.Equal(result.MissingFields, []string{"name", "id_number"}) {
		t.Errorf("MissingFields = %v, want [name id_number]", result.MissingFields)
	}

	// The degraded result still reached the store.
	repeat, err := p.Extract(ctx, idCardRequest("900001"))
	if err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}
	if !repeat.CacheHit || repeat.CacheTier != cache.TierL1 {
		t.Errorf("repeat CacheHit, CacheTier = %v, %q; want true, %q", repeat.CacheHit, repeat.CacheTier, cache.TierL1)
	}
	if !slices.Equal(repeat.MissingFields, []string{"name", "id_number"}) {
		t.Errorf("repeat MissingFields = %v, want [name id_number]", repeat.MissingFields)
	}
	if stub.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", stub.callCount())
	}

	// Nothing was learned from the failure.
	if _, ok, err := p.templates.Get(ctx, "id_card"); err != nil || ok {
		t.Errorf("templates.Get = %v, %v; want no template", ok, err)
	}
}

func TestExtractDegradedScopedCallKeepsTemplateFields(t *testing.T) {
	stub := &oracleStub{tokens: 25}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	learnSamples(t, p, stub, learnedNumbers()...)

	tpl, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get = %v, %v; want template", ok, err)
	}
	delete(tpl.Patterns, "name")
	if err := p.templates.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stub.err = errors.New("oracle down")
	result, err := p.Extract(ctx, idCardRequest("777388"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if result.MethodUsed != types.MethodHybrid {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodHybrid)
	}
	wantFields(t, result.Fields, map[string]string{"name": "", "id_number": "777388"})
	if !slices.Equal(result.MissingFields, []string{"name"}) {
		t.Errorf("MissingFields = %v, want [name]", result.MissingFields)
	}
	if math.Abs(result.Confidence-0.90) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.90", result.Confidence)
	}

	// No sample is consumed when the scoped call fails, and the cached
	// entry carries only the field the template resolved.
	after, ok, err := p.templates.Get(ctx, "id_card")
	if err != nil || !ok {
		t.Fatalf("templates.Get after failure = %v, %v; want template", ok, err)
	}
	if after.SampleCount != len(learnedNumbers()) {
		t.Errorf("SampleCount = %d, want %d", after.SampleCount, len(learnedNumbers()))
	}

	repeat, err := p.Extract(ctx, idCardRequest("777388"))
	if err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}
	if !repeat.CacheHit || repeat.CacheTier != cache.TierL1 {
		t.Errorf("repeat CacheHit, CacheTier = %v, %q; want true, %q", repeat.CacheHit, repeat.CacheTier, cache.TierL1)
	}
	if !slices.Equal(repeat.MissingFields, []string{"name"}) {
		t.Errorf("repeat MissingFields = %v, want [name]", repeat.MissingFields)
	}
}

func TestExtractContentRunsLayout(t *testing.T) {
	content, err := json.Marshal(idCardElements("100001"))
	if err != nil {
		t.Fatalf("marshaling elements: %v", err)
	}

	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)

	result, err := p.Extract(context.Background(), types.ExtractRequest{
		Content: content,
		Label:   "id_card",
		Fields:  idCardSchema(),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.MethodUsed != types.MethodLLM {
		t.Errorf("MethodUsed = %q, want %q", result.MethodUsed, types.MethodLLM)
	}
	wantFields(t, result.Fields, map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"})
}

func TestExtractLayoutFailure(t *testing.T) {
	stub := &oracleStub{}
	p := testPipeline(t, stub, failingLayout{err: errors.New("bad pdf")})

	_, err := p.Extract(context.Background(), types.ExtractRequest{
		Content: []byte("%PDF-garbage"),
		Label:   "id_card",
		Fields:  idCardSchema(),
	})
	if err == nil {
		t.Fatal("Extract succeeded with failing layout")
	}
	if !strings.Contains(err.Error(), "partitioning document") {
		t.Errorf("error = %v, want partitioning context", err)
	}
	if stub.callCount() != 0 {
		t.Errorf("oracle calls = %d, want 0", stub.callCount())
	}
}

func TestExtractRejectsBadInput(t *testing.T) {
	p := testPipeline(t, &oracleStub{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  types.ExtractRequest
	}{
		{"missing label", types.ExtractRequest{
			Elements: idCardElements("100001"),
			Fields:   idCardSchema(),
		}},
		{"no fields", types.ExtractRequest{
			Elements: idCardElements("100001"),
			Label:    "id_card",
		}},
		{"no document", types.ExtractRequest{
			Label:  "id_card",
			Fields: idCardSchema(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Extract(ctx, tt.req); err == nil {
				t.Error("Extract succeeded, want error")
			}
		})
	}
}

func TestExtractNormalizesElementOrder(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	shuffled := idCardElements("100001")
	slices.Reverse(shuffled)
	if _, err := p.Extract(ctx, types.ExtractRequest{
		Elements: shuffled,
		Label:    "id_card",
		Fields:   idCardSchema(),
	}); err != nil {
		t.Fatalf("shuffled Extract: %v", err)
	}

	result, err := p.Extract(ctx, idCardRequest("100001"))
	if err != nil {
		t.Fatalf("ordered Extract: %v", err)
	}
	if !result.CacheHit {
		t.Error("CacheHit = false; element order changed the document hash")
	}
	if stub.callCount() != 1 {
		t.Errorf("oracle calls = %d, want 1", stub.callCount())
	}
}

func TestExtractConcurrentLabels(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)

	var wg sync.WaitGroup
	for _, label := range []string{"id_card", "recibo", "contrato"} {
		label := label
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Extract(context.Background(), types.ExtractRequest{
				Elements: idCardElements("100001"),
				Label:    label,
				Fields:   idCardSchema(),
			})
			if err != nil {
				t.Errorf("Extract(%s): %v", label, err)
			}
		}()
	}
	wg.Wait()

	if stub.callCount() != 3 {
		t.Errorf("oracle calls = %d, want 3", stub.callCount())
	}
}

func TestStatsAggregates(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
		tokens:  42,
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}
	stub.err = errors.New("oracle down")
	if _, err := p.Extract(ctx, idCardRequest("900001")); err != nil {
		t.Fatalf("degraded Extract: %v", err)
	}

	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.Requests != 3 {
		t.Errorf("Requests = %d, want 3", stats.Requests)
	}
	if stats.ByMethod[string(types.MethodLLM)] != 2 {
		t.Errorf("ByMethod[llm] = %d, want 2", stats.ByMethod[string(types.MethodLLM)])
	}
	if stats.ByMethod[string(types.MethodCache)] != 1 {
		t.Errorf("ByMethod[cache] = %d, want 1", stats.ByMethod[string(types.MethodCache)])
	}
	if stats.OracleCalls != 2 {
		t.Errorf("OracleCalls = %d, want 2", stats.OracleCalls)
	}
	if stats.OracleFailures != 1 {
		t.Errorf("OracleFailures = %d, want 1", stats.OracleFailures)
	}
	if stats.OracleTokens != 42 {
		t.Errorf("OracleTokens = %d, want 42", stats.OracleTokens)
	}
	if stats.OracleCallsSaved != 1 {
		t.Errorf("OracleCallsSaved = %d, want 1", stats.OracleCallsSaved)
	}
	if stats.Templates != 1 {
		t.Errorf("Templates = %d, want 1", stats.Templates)
	}
	if stats.Cache.L1Hits != 1 {
		t.Errorf("Cache.L1Hits = %d, want 1", stats.Cache.L1Hits)
	}
	if stats.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want >= 0", stats.UptimeSeconds)
	}
}

func TestExtractRecordsHistory(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "MARIA DA SILVA", "id_number": "100001"},
	}
	p := testPipeline(t, stub, nil)
	ctx := context.Background()

	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Cache hits are tracked by the cache counters, not the history log.
	if _, err := p.Extract(ctx, idCardRequest("100001")); err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}

	stats, err := p.templates.Stats(ctx, "id_card")
	if err != nil {
		t.Fatalf("templates.Stats: %v", err)
	}
	if stats.Extractions != 1 {
		t.Errorf("Extractions = %d, want 1", stats.Extractions)
	}
	if stats.ByMethod[string(types.MethodLLM)] != 1 {
		t.Errorf("history ByMethod[llm] = %d, want 1", stats.ByMethod[string(types.MethodLLM)])
	}
}

func TestExtractAppliesPostProcess(t *testing.T) {
	stub := &oracleStub{
		answers: map[string]string{"name": "  MARIA DA SILVA  ", "id_number": "100001"},
	}
	dir := t.TempDir()
	cfg := types.DefaultConfig()

	store, err := cache.NewStore(filepath.Join(dir, "cache.db"), cfg.Cache.L2MaxBytes)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	templates, err := template.NewStore(filepath.Join(dir, "templates.db"))
	if err != nil {
		t.Fatalf("template.NewStore: %v", err)
	}
	p := New(Options{
		Config:    cfg,
		Cache:     cache.NewManager(cfg.Cache, store, zap.NewNop()),
		Templates: templates,
		Layout:    layout.ElementsExtractor{},
		Oracle:    stub,
		Logger:    zap.NewNop(),
		PostProcess: func(field, value string) string {
			return strings.TrimSpace(value)
		},
	})
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	result, err := p.Extract(context.Background(), idCardRequest("100001"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Fields["name"] != "MARIA DA SILVA" {
		t.Errorf("post-processed name = %q, want trimmed", result.Fields["name"])
	}

	// The cached copy is post-processed too.
	repeat, err := p.Extract(context.Background(), idCardRequest("100001"))
	if err != nil {
		t.Fatalf("repeat Extract: %v", err)
	}
	if repeat.Fields["name"] != "MARIA DA SILVA" {
		t.Errorf("cached name = %q, want trimmed", repeat.Fields["name"])
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("a")

	// A different key is not blocked.
	unlockB := km.lock("b")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		u := km.lock("a")
		u()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}
}

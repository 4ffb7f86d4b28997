// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch runs extraction datasets through the pipeline. Entries are
// grouped by label: groups run in parallel under a worker bound, documents
// inside a group run sequentially so template learning sees one sample at a
// time.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Entry is one dataset row: a document file, its label, and the schema to
// extract as a fieldName to description map.
type Entry struct {
	File   string            `json:"file"`
	Label  string            `json:"label"`
	Fields map[string]string `json:"fields"`
}

// Result is the outcome of one entry, both returned on the summary channel
// and persisted as the entry's individual JSON file.
type Result struct {
	File          string            `json:"file"`
	Label         string            `json:"label"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
	Method        string            `json:"method_used,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	CacheHit      bool              `json:"cache_hit,omitempty"`
	OracleCalled  bool              `json:"oracle_called,omitempty"`
	MissingFields []string          `json:"missing_fields,omitempty"`
	Millis        int64             `json:"processing_ms,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	OracleCalls   int            `json:"oracle_calls"`
	CacheHits     int            `json:"cache_hits"`
	ByMethod      map[string]int `json:"by_method"`
	ElapsedMillis int64          `json:"elapsed_ms"`
}

// HasFailures reports whether any entry failed.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// HitRate is the fraction of entries served from the cache.
func (s Summary) HitRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.Total)
}

// Extractor is the slice of the pipeline the runner needs.
type Extractor interface {
	Extract(ctx context.Context, req types.ExtractRequest) (*types.PipelineResult, error)
}

// Runner executes dataset entries against an extractor.
type Runner struct {
	ex      Extractor
	workers int
	logger  *zap.Logger
}

// NewRunner builds a runner. cfg.Workers bounds how many label groups run
// at once; values below one run a single group at a time.
func NewRunner(ex Extractor, cfg types.BatchConfig, logger *zap.Logger) *Runner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{ex: ex, workers: workers, logger: logger}
}

// LoadDataset reads and validates a dataset file: a JSON array of entries.
func LoadDataset(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset %s has no entries", path)
	}
	for i, e := range entries {
		if e.File == "" || e.Label == "" || len(e.Fields) == 0 {
			return nil, fmt.Errorf("dataset entry %d: file, label and fields are required", i)
		}
	}
	return entries, nil
}

// GroupByLabel buckets entries by label, preserving dataset order inside
// each bucket.
func GroupByLabel(entries []Entry) map[string][]Entry {
	grouped := make(map[string][]Entry)
	for _, e := range entries {
		grouped[e.Label] = append(grouped[e.Label], e)
	}
	return grouped
}

// Run processes every entry, writing per-entry JSON files and a summary.json
// report under outDir and per-entry status lines plus a final summary to w.
// Relative entry files resolve against docDir. Entry failures are recorded
// in the summary, not returned; the error covers run-level problems only.
func (r *Runner) Run(ctx context.Context, entries []Entry, docDir, outDir string, w io.Writer) (Summary, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating output dir: %w", err)
	}

	groups := GroupByLabel(entries)
	r.logger.Info("batch run starting",
		zap.Int("entries", len(entries)),
		zap.Int("labels", len(groups)),
		zap.Int("workers", r.workers))

	start := time.Now()
	ch := make(chan Result, len(entries))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for _, group := range groups {
		wg.Add(1)
		go func(group []Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			for _, entry := range group {
				ch <- r.processEntry(ctx, entry, docDir, outDir)
			}
		}(group)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	summary := Summary{ByMethod: make(map[string]int)}
	var results []Result
	for res := range ch {
		summary.Total++
		if res.Success {
			summary.Succeeded++
			summary.ByMethod[res.Method]++
			fmt.Fprintf(w, "extracted: %s [%s] (%s)\n", res.File, res.Label, res.Method)
		} else {
			summary.Failed++
			fmt.Fprintf(w, "failed:    %s [%s] (%s)\n", res.File, res.Label, res.Error)
		}
		if res.OracleCalled {
			summary.OracleCalls++
		}
		if res.CacheHit {
			summary.CacheHits++
		}
		results = append(results, res)
	}
	summary.ElapsedMillis = time.Since(start).Milliseconds()

	fmt.Fprintf(w, "\nBatch summary: %d extracted, %d failed (total: %d) in %s\n",
		summary.Succeeded, summary.Failed, summary.Total,
		time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(w, "methods: cache=%d template=%d hybrid=%d llm=%d; oracle calls: %d; hit rate: %.1f%%\n",
		summary.ByMethod[string(types.MethodCache)],
		summary.ByMethod[string(types.MethodTemplate)],
		summary.ByMethod[string(types.MethodHybrid)],
		summary.ByMethod[string(types.MethodLLM)],
		summary.OracleCalls,
		summary.HitRate()*100)

	if err := writeReport(outDir, summary, results); err != nil {
		return summary, err
	}
	return summary, nil
}

// processEntry extracts one document and persists its individual result.
func (r *Runner) processEntry(ctx context.Context, entry Entry, docDir, outDir string) Result {
	res := Result{File: entry.File, Label: entry.Label}

	path := entry.File
	if !filepath.IsAbs(path) && docDir != "" {
		path = filepath.Join(docDir, path)
	}

	req := types.ExtractRequest{Label: entry.Label, Fields: fieldSpecs(entry.Fields)}
	if layout.IsElementsFile(path) {
		elements, err := layout.ReadElements(path)
		if err != nil {
			return r.saveResult(failed(res, err), outDir)
		}
		req.Elements = elements
	} else {
		content, err := os.ReadFile(path)
		if err != nil {
			return r.saveResult(failed(res, err), outDir)
		}
		req.Content = content
	}

	extracted, err := r.ex.Extract(ctx, req)
	if err != nil {
		return r.saveResult(failed(res, err), outDir)
	}

	res.Success = true
	res.Data = extracted.Fields
	res.Method = string(extracted.MethodUsed)
	res.Confidence = extracted.Confidence
	res.CacheHit = extracted.CacheHit
	res.OracleCalled = extracted.OracleCalled
	res.MissingFields = extracted.MissingFields
	res.Millis = extracted.ProcessingMillis
	return r.saveResult(res, outDir)
}

// saveResult writes the entry's individual JSON file. A write failure flips
// the result to failed so it surfaces in the summary.
func (r *Runner) saveResult(res Result, outDir string) Result {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err == nil {
		err = os.WriteFile(resultPath(outDir, res.File), raw, 0o644)
	}
	if err != nil {
		r.logger.Warn("saving entry result failed", zap.String("file", res.File), zap.Error(err))
		return failed(res, fmt.Errorf("saving result: %w", err))
	}
	return res
}

// writeReport persists the consolidated summary.json next to the individual
// results.
func writeReport(outDir string, summary Summary, results []Result) error {
	report := struct {
		Summary Summary  `json:"summary"`
		Results []Result `json:"results"`
	}{summary, results}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "summary.json"), raw, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// resultPath maps a document name to its per-entry output file.
func resultPath(outDir, file string) string {
	base := filepath.Base(file)
	if layout.IsElementsFile(base) {
		base = strings.TrimSuffix(base, layout.ElementsSuffix)
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return filepath.Join(outDir, base+".json")
}

// fieldSpecs flattens the dataset schema into name-sorted specs so prompts
// and cache keys are stable across runs.
func fieldSpecs(fields map[string]string) []types.FieldSpec {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]types.FieldSpec, len(names))
	for i, name := range names {
		specs[i] = types.FieldSpec{Name: name, Description: fields[name]}
	}
	return specs
}

func failed(res Result, err error) Result {
	res.Success = false
	res.Error = err.Error()
	return res
}

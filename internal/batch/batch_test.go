// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// fakeExtractor answers every request with one value per field. It tracks
// per-label concurrency so tests can prove same-label entries never overlap.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	active  map[string]int
	overlap bool
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, req types.ExtractRequest) (*types.PipelineResult, error) {
	f.mu.Lock()
	f.calls++
	if f.active == nil {
		f.active = make(map[string]int)
	}
	if f.active[req.Label] > 0 {
		f.overlap = true
	}
	f.active[req.Label]++
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.active[req.Label]--
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	fields := make(map[string]string, len(req.Fields))
	for _, spec := range req.Fields {
		fields[spec.Name] = "value of " + spec.Name
	}
	return &types.PipelineResult{
		Fields:        fields,
		MethodUsed:    types.MethodLLM,
		Confidence:    1.0,
		MissingFields: []string{},
		OracleCalled:  true,
	}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeDataset(t *testing.T, dir string, entries []Entry) string {
	t.Helper()
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "dataset.json")
	writeFile(t, path, raw)
	return path
}

func invoiceElements(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal([]types.PositionedElement{
		{Text: "NOTA FISCAL", X: 40, Y: 30, Page: 1, Category: types.CategoryTitle},
		{Text: "Total: 120,00", X: 40, Y: 90, Page: 1, Category: types.CategoryNarrativeText},
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
		wantLen int
	}{
		{
			name: "valid",
			content: `[
				{"file": "a.pdf", "label": "invoice", "fields": {"total": "valor total"}},
				{"file": "b.pdf", "label": "recibo", "fields": {"nome": ""}}
			]`,
			wantLen: 2,
		},
		{name: "not json", content: "nope", wantErr: "parsing dataset"},
		{name: "empty", content: "[]", wantErr: "no entries"},
		{
			name:    "missing label",
			content: `[{"file": "a.pdf", "fields": {"total": ""}}]`,
			wantErr: "entry 0",
		},
		{
			name:    "missing fields",
			content: `[{"file": "a.pdf", "label": "invoice"}]`,
			wantErr: "entry 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			writeFile(t, path, []byte(tt.content))

			entries, err := LoadDataset(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadDataset: %v", err)
			}
			if len(entries) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(entries), tt.wantLen)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadDataset(filepath.Join(dir, "absent.json")); err == nil {
			t.Error("LoadDataset succeeded on a missing file")
		}
	})
}

func TestGroupByLabel(t *testing.T) {
	entries := []Entry{
		{File: "a.pdf", Label: "invoice"},
		{File: "b.pdf", Label: "recibo"},
		{File: "c.pdf", Label: "invoice"},
	}
	grouped := GroupByLabel(entries)
	if len(grouped) != 2 {
		t.Fatalf("groups = %d, want 2", len(grouped))
	}
	if got := grouped["invoice"]; len(got) != 2 || got[0].File != "a.pdf" || got[1].File != "c.pdf" {
		t.Errorf("invoice group = %v, want a.pdf then c.pdf", got)
	}
	if got := grouped["recibo"]; len(got) != 1 || got[0].File != "b.pdf" {
		t.Errorf("recibo group = %v", got)
	}
}

func TestRunWritesResultsAndReport(t *testing.T) {
	dir := t.TempDir()
	docDir := filepath.Join(dir, "docs")
	outDir := filepath.Join(dir, "out")

	writeFile(t, filepath.Join(docDir, "a.elements.json"), invoiceElements(t))
	writeFile(t, filepath.Join(docDir, "b.txt"), []byte("plain document"))

	entries := []Entry{
		{File: "a.elements.json", Label: "invoice", Fields: map[string]string{"total": "valor total"}},
		{File: "b.txt", Label: "recibo", Fields: map[string]string{"nome": "", "data": ""}},
	}

	fake := &fakeExtractor{}
	runner := NewRunner(fake, types.BatchConfig{Workers: 2}, zap.NewNop())

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(), entries, docDir, outDir, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Total != 2 || summary.Succeeded != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 succeeded", summary)
	}
	if summary.ByMethod[string(types.MethodLLM)] != 2 {
		t.Errorf("ByMethod[llm] = %d, want 2", summary.ByMethod[string(types.MethodLLM)])
	}
	if summary.OracleCalls != 2 {
		t.Errorf("OracleCalls = %d, want 2", summary.OracleCalls)
	}
	if fake.callCount() != 2 {
		t.Errorf("extractor calls = %d, want 2", fake.callCount())
	}

	// Individual result files drop the document extension.
	var res Result
	raw, err := os.ReadFile(filepath.Join(outDir, "a.json"))
	if err != nil {
		t.Fatalf("reading a.json: %v", err)
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("parsing a.json: %v", err)
	}
	if !res.Success || res.Data["total"] != "value of total" {
		t.Errorf("a.json = %+v, want successful extraction", res)
	}
	if _, err := os.Stat(filepath.Join(outDir, "b.json")); err != nil {
		t.Errorf("b.json missing: %v", err)
	}

	var report struct {
		Summary Summary  `json:"summary"`
		Results []Result `json:"results"`
	}
	raw, err = os.ReadFile(filepath.Join(outDir, "summary.json"))
	if err != nil {
		t.Fatalf("reading summary.json: %v", err)
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("parsing summary.json: %v", err)
	}
	if report.Summary.Total != 2 || len(report.Results) != 2 {
		t.Errorf("report = %+v, want 2 results", report.Summary)
	}

	text := out.String()
	if !strings.Contains(text, "extracted: a.elements.json [invoice] (llm)") {
		t.Errorf("output missing entry line:\n%s", text)
	}
	if !strings.Contains(text, "Batch summary: 2 extracted, 0 failed (total: 2)") {
		t.Errorf("output missing summary:\n%s", text)
	}
	if !strings.Contains(text, "oracle calls: 2") {
		t.Errorf("output missing oracle count:\n%s", text)
	}
}

func TestRunRecordsMissingDocument(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	entries := []Entry{
		{File: "absent.pdf", Label: "invoice", Fields: map[string]string{"total": ""}},
	}

	fake := &fakeExtractor{}
	runner := NewRunner(fake, types.BatchConfig{Workers: 1}, zap.NewNop())

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(), entries, dir, outDir, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.HasFailures() || summary.Failed != 1 {
		t.Errorf("summary = %+v, want one failure", summary)
	}
	if fake.callCount() != 0 {
		t.Errorf("extractor calls = %d, want 0", fake.callCount())
	}
	if !strings.Contains(out.String(), "failed:") {
		t.Errorf("output missing failure line:\n%s", out.String())
	}

	// The failure still produced an individual result file.
	raw, err := os.ReadFile(filepath.Join(outDir, "absent.json"))
	if err != nil {
		t.Fatalf("reading absent.json: %v", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("parsing absent.json: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("absent.json = %+v, want recorded failure", res)
	}
}

func TestRunExtractionErrorDegrades(t *testing.T) {
	dir := t.TempDir()
	docDir := filepath.Join(dir, "docs")
	writeFile(t, filepath.Join(docDir, "a.txt"), []byte("doc"))

	fake := &fakeExtractor{err: errors.New("label is required")}
	runner := NewRunner(fake, types.BatchConfig{}, zap.NewNop())

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(),
		[]Entry{{File: "a.txt", Label: "invoice", Fields: map[string]string{"total": ""}}},
		docDir, filepath.Join(dir, "out"), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if !strings.Contains(out.String(), "label is required") {
		t.Errorf("output missing extractor error:\n%s", out.String())
	}
}

func TestRunSameLabelStaysSequential(t *testing.T) {
	dir := t.TempDir()
	docDir := filepath.Join(dir, "docs")

	var entries []Entry
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		writeFile(t, filepath.Join(docDir, name+".txt"), []byte("doc "+name))
		label := "invoice"
		if name > "c" {
			label = "recibo"
		}
		entries = append(entries, Entry{
			File:   name + ".txt",
			Label:  label,
			Fields: map[string]string{"total": ""},
		})
	}

	fake := &fakeExtractor{}
	runner := NewRunner(fake, types.BatchConfig{Workers: 4}, zap.NewNop())

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(), entries, docDir, filepath.Join(dir, "out"), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 6 {
		t.Errorf("Succeeded = %d, want 6", summary.Succeeded)
	}
	if fake.overlap {
		t.Error("two entries with the same label ran concurrently")
	}
}

func TestResultPath(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"invoice-01.pdf", "invoice-01.json"},
		{"scan.elements.json", "scan.json"},
		{"nested/dir/doc.txt", "doc.json"},
		{"noext", "noext.json"},
	}
	for _, tt := range tests {
		if got := resultPath("out", tt.file); got != filepath.Join("out", tt.want) {
			t.Errorf("resultPath(%q) = %q, want %q", tt.file, got, filepath.Join("out", tt.want))
		}
	}
}

func TestFieldSpecsSorted(t *testing.T) {
	specs := fieldSpecs(map[string]string{
		"valor": "valor total", "data": "", "nome": "nome completo",
	})
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("specs not sorted: %v", names)
	}
	if specs[2].Name != "valor" || specs[2].Description != "valor total" {
		t.Errorf("descriptions not carried: %+v", specs)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package template

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

func testTemplateStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "knowledge", "templates.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// learnedTemplate returns a mature invoice template with one pattern of
// each learnable shape.
func learnedTemplate() *types.Template {
	tpl := &types.Template{Label: "invoice"}
	l := testLearner()
	for i := 0; i < 3; i++ {
		l.Learn(tpl, invoiceElements(), invoiceFields(), nil)
	}
	return tpl
}

func TestStoreGetMissing(t *testing.T) {
	s := testTemplateStore(t)
	tpl, ok, err := s.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || tpl != nil {
		t.Errorf("Get() = (%v, %v), want (nil, false)", tpl, ok)
	}
}

func TestStoreUpsertRoundTrip(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	tpl := learnedTemplate()

	if err := s.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "invoice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() found nothing after Upsert")
	}

	if got.SampleCount != tpl.SampleCount {
		t.Errorf("SampleCount = %d, want %d", got.SampleCount, tpl.SampleCount)
	}
	if math.Abs(got.Confidence-tpl.Confidence) > confEpsilon {
		t.Errorf("Confidence = %f, want %f", got.Confidence, tpl.Confidence)
	}
	if len(got.Patterns) != len(tpl.Patterns) {
		t.Fatalf("got %d patterns, want %d", len(got.Patterns), len(tpl.Patterns))
	}
	if len(got.Reference) != len(tpl.Reference) {
		t.Errorf("got %d reference elements, want %d", len(got.Reference), len(tpl.Reference))
	}

	numero, _ := got.Pattern("numero")
	if numero.Method != types.PatternHybrid {
		t.Errorf("numero method = %s, want hybrid", numero.Method)
	}
	if numero.Data.Position == nil || numero.Data.Position.X != 150 {
		t.Errorf("numero position payload = %+v, want X=150", numero.Data.Position)
	}
	if numero.Data.Regex == nil || numero.Data.Regex.Name != "numero" {
		t.Errorf("numero regex payload = %+v, want name numero", numero.Data.Regex)
	}

	cpf, _ := got.Pattern("cpf")
	if cpf.Method != types.PatternNone {
		t.Errorf("cpf method = %s, want none", cpf.Method)
	}
	if cpf.Data.Position != nil || cpf.Data.Regex != nil || cpf.Data.Context != nil || cpf.Data.Value != nil {
		t.Errorf("cpf payload = %+v, want empty", cpf.Data)
	}
}

func TestStoreUpsertReplacesPatterns(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	tpl := learnedTemplate()
	if err := s.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	delete(tpl.Patterns, "cpf")
	p := tpl.Patterns["cliente"]
	p.Confidence = 0.5
	tpl.Patterns["cliente"] = p
	if err := s.Upsert(ctx, tpl); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, _, err := s.Get(ctx, "invoice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Patterns) != 3 {
		t.Errorf("got %d patterns after replacement, want 3", len(got.Patterns))
	}
	if _, ok := got.Pattern("cpf"); ok {
		t.Error("dropped pattern survived the upsert")
	}
	cliente, _ := got.Pattern("cliente")
	if math.Abs(cliente.Confidence-0.5) > confEpsilon {
		t.Errorf("cliente confidence = %f, want 0.5", cliente.Confidence)
	}
}

func TestStoreDeleteCascades(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, learnedTemplate()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := s.Delete(ctx, "invoice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, ok, _ := s.Get(ctx, "invoice"); ok {
		t.Error("template still present after Delete")
	}
	stats, err := s.Stats(ctx, "invoice")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if len(stats.FieldPatterns) != 0 {
		t.Errorf("field patterns survived the cascade: %+v", stats.FieldPatterns)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestStoreListOrdersByLabel(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()

	invoice := learnedTemplate()
	if err := s.Upsert(ctx, invoice); err != nil {
		t.Fatalf("Upsert(invoice) error = %v", err)
	}
	recibo := learnedTemplate()
	recibo.Label = "recibo"
	if err := s.Upsert(ctx, recibo); err != nil {
		t.Fatalf("Upsert(recibo) error = %v", err)
	}

	summaries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List() returned %d summaries, want 2", len(summaries))
	}
	if summaries[0].Label != "invoice" || summaries[1].Label != "recibo" {
		t.Errorf("order = [%s, %s], want [invoice, recibo]", summaries[0].Label, summaries[1].Label)
	}
	if summaries[0].FieldCount != len(invoice.Patterns) {
		t.Errorf("FieldCount = %d, want %d", summaries[0].FieldCount, len(invoice.Patterns))
	}
}

func TestStoreRecordOutcome(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, learnedTemplate()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	for _, ok := range []bool{true, true, false} {
		if err := s.RecordOutcome(ctx, "invoice", "numero", ok); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}

	got, _, err := s.Get(ctx, "invoice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	numero, _ := got.Pattern("numero")
	if numero.Successes != 2 || numero.Failures != 1 {
		t.Errorf("counters = %d/%d, want 2/1", numero.Successes, numero.Failures)
	}
	if rate := numero.SuccessRate(); math.Abs(rate-2.0/3.0) > confEpsilon {
		t.Errorf("SuccessRate() = %f, want 2/3", rate)
	}
}

func TestStoreStatsAggregatesHistory(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	tpl := learnedTemplate()
	if err := s.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	records := []struct {
		method   types.ExtractionMethod
		duration time.Duration
	}{
		{types.MethodTemplate, 10 * time.Millisecond},
		{types.MethodTemplate, 20 * time.Millisecond},
		{types.MethodLLM, 100 * time.Millisecond},
	}
	for _, r := range records {
		if err := s.RecordHistory(ctx, "invoice", r.method, 4, 0.9, r.duration); err != nil {
			t.Fatalf("RecordHistory() error = %v", err)
		}
	}

	stats, err := s.Stats(ctx, "invoice")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.SampleCount != tpl.SampleCount {
		t.Errorf("SampleCount = %d, want %d", stats.SampleCount, tpl.SampleCount)
	}
	if stats.Extractions != 3 {
		t.Errorf("Extractions = %d, want 3", stats.Extractions)
	}
	if stats.ByMethod["template"] != 2 || stats.ByMethod["llm"] != 1 {
		t.Errorf("ByMethod = %v, want template:2 llm:1", stats.ByMethod)
	}
	if math.Abs(stats.AvgDurationMS-130.0/3.0) > 0.01 {
		t.Errorf("AvgDurationMS = %f, want %f", stats.AvgDurationMS, 130.0/3.0)
	}
	if len(stats.FieldPatterns) != len(tpl.Patterns) {
		t.Errorf("got %d field patterns, want %d", len(stats.FieldPatterns), len(tpl.Patterns))
	}
}

func TestStoreExportYAML(t *testing.T) {
	s := testTemplateStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, learnedTemplate()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	var buf bytes.Buffer
	if err := s.ExportYAML(ctx, "invoice", &buf); err != nil {
		t.Fatalf("ExportYAML() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"label: invoice", "method: hybrid", "reference:"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}

	if err := s.ExportYAML(ctx, "unknown", &buf); err == nil {
		t.Error("ExportYAML() for an unknown label did not fail")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := s.Upsert(ctx, learnedTemplate()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "invoice")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if !ok || got.SampleCount != 3 {
		t.Errorf("reopened template = (%+v, %v), want sample count 3", got, ok)
	}
}

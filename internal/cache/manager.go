// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Entry is a complete cached extraction result.
type Entry struct {
	Fields     map[string]string      `json:"fields"`
	Label      string                 `json:"label"`
	Schema     []string               `json:"schema"`
	Method     types.ExtractionMethod `json:"method"`
	Confidence float64                `json:"confidence"`
	CreatedAt  time.Time              `json:"created_at"`
}

// FieldEntry is one field's cached value, stored per document and label so
// later requests with overlapping schemas can reuse it.
type FieldEntry struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Partial is the outcome of a per-field lookup: the fields that were found,
// the ones that were not, and the fraction covered.
type Partial struct {
	Fields     map[string]string
	Missing    []string
	Coverage   float64
	Confidence float64
}

// Complete reports whether every requested field was found.
func (p Partial) Complete() bool {
	return len(p.Missing) == 0
}

// Tier names reported with cache hits.
const (
	TierL1      = "l1"
	TierL2      = "l2"
	TierPartial = "l3"
)

// Lookup is the outcome of one tiered lookup: the derived full-schema key
// plus the entry or partial that served it.
type Lookup struct {
	Key     string
	Tier    string
	Entry   Entry   // set for l1 and l2 hits
	Partial Partial // set for l3 hits
}

// Stats is a snapshot of the cache's counters and sizes.
type Stats struct {
	L1Hits           int64   `json:"l1_hits"`
	L2Hits           int64   `json:"l2_hits"`
	PartialHits      int64   `json:"partial_hits"`
	Misses           int64   `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	TimeSavedSeconds float64 `json:"time_saved_seconds"`
	CostSavedDollars float64 `json:"cost_saved_dollars"`
	L1Entries        int     `json:"l1_entries"`
	L2Entries        int     `json:"l2_entries"`
	L2Bytes          int64   `json:"l2_bytes"`
}

// Manager layers the cache tiers. Lookups go L1 then L2; L2 hits are
// promoted back into L1. Reads degrade to misses on storage errors so the
// pipeline never fails because of the cache.
type Manager struct {
	cfg    types.CacheConfig
	l1     *lru
	store  *Store
	logger *zap.Logger

	l1Hits          atomic.Int64
	l2Hits          atomic.Int64
	partialHits     atomic.Int64
	misses          atomic.Int64
	timeSavedMillis atomic.Int64
	costSavedMicros atomic.Int64
}

// NewManager builds the tiered cache over an opened persistent store.
func NewManager(cfg types.CacheConfig, store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.L1Capacity <= 0 {
		cfg.L1Capacity = 100
	}
	if cfg.PartialThreshold <= 0 {
		cfg.PartialThreshold = 0.5
	}
	if cfg.EstOracleMillis <= 0 {
		cfg.EstOracleMillis = 5000
	}
	if cfg.EstOracleCost <= 0 {
		cfg.EstOracleCost = 0.01
	}
	return &Manager{
		cfg:    cfg,
		l1:     newLRU(cfg.L1Capacity),
		store:  store,
		logger: logger,
	}
}

// Get runs one tiered lookup for the document, label, and schema: L1,
// then L2 with promotion back into L1, then the per-field partial tier. A
// partial below the coverage threshold makes the whole lookup a miss.
// Exactly one counter is bumped per call. The returned Lookup always
// carries the derived full-schema key, so callers can store the eventual
// result under it.
func (m *Manager) Get(docHash, label string, fields []types.FieldSpec) (Lookup, bool) {
	lookup := Lookup{Key: Key(docHash, label, fields)}

	if entry, ok := m.l1.get(lookup.Key); ok {
		m.l1Hits.Add(1)
		m.accrueSavings(1)
		lookup.Tier, lookup.Entry = TierL1, entry
		return lookup, true
	}

	if entry, ok := m.fromStore(lookup.Key); ok {
		m.l2Hits.Add(1)
		m.accrueSavings(1)
		m.l1.put(lookup.Key, entry)
		lookup.Tier, lookup.Entry = TierL2, entry
		return lookup, true
	}

	if partial, ok := m.partialLookup(docHash, label, types.FieldNames(fields)); ok {
		m.partialHits.Add(1)
		m.accrueSavings(partial.Coverage)
		lookup.Tier, lookup.Partial = TierPartial, partial
		return lookup, true
	}

	m.misses.Add(1)
	return lookup, false
}

// fromStore reads and decodes one exact-key entry from the persistent
// tier. Corrupt rows are dropped so they cannot shadow future writes.
func (m *Manager) fromStore(key string) (Entry, bool) {
	raw, ok, err := m.store.Get(key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		m.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		if delErr := m.store.Delete(key); delErr != nil {
			m.logger.Warn("dropping corrupt entry failed", zap.String("key", key), zap.Error(delErr))
		}
		return Entry{}, false
	}
	return entry, true
}

// accrueSavings folds one avoided oracle call into the savings counters,
// scaled by the fraction of requested fields the hit served.
func (m *Manager) accrueSavings(fraction float64) {
	m.timeSavedMillis.Add(int64(fraction * float64(m.cfg.EstOracleMillis)))
	m.costSavedMicros.Add(int64(fraction * m.cfg.EstOracleCost * 1e6))
}

// Set stores the result under key in L1 and L2, then explodes the fields
// map into per-field entries for the document so partial lookups can serve
// overlapping schemas.
func (m *Manager) Set(docHash, key string, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.l1.put(key, entry)

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := m.store.Set(key, raw); err != nil {
		return err
	}

	for field, value := range entry.Fields {
		fe := FieldEntry{
			Value:      value,
			Confidence: entry.Confidence,
			CreatedAt:  entry.CreatedAt,
		}
		rawField, err := json.Marshal(fe)
		if err != nil {
			return fmt.Errorf("encoding field entry %s: %w", field, err)
		}
		if err := m.store.Set(FieldKey(docHash, entry.Label, field), rawField); err != nil {
			return err
		}
	}
	return nil
}

// partialLookup assembles a per-field result for the document under the
// given label. The second return reports whether the partial is usable,
// which requires coverage of at least the configured threshold.
func (m *Manager) partialLookup(docHash, label string, fields []string) (Partial, bool) {
	partial := Partial{Fields: make(map[string]string, len(fields))}
	if len(fields) == 0 {
		return partial, false
	}

	var confidenceSum float64
	for _, field := range fields {
		raw, ok, err := m.store.Get(FieldKey(docHash, label, field))
		if err != nil {
			m.logger.Warn("partial read failed", zap.String("field", field), zap.Error(err))
			ok = false
		}
		if !ok {
			partial.Missing = append(partial.Missing, field)
			continue
		}
		var fe FieldEntry
		if err := json.Unmarshal(raw, &fe); err != nil {
			m.logger.Warn("field entry corrupt", zap.String("field", field), zap.Error(err))
			partial.Missing = append(partial.Missing, field)
			continue
		}
		partial.Fields[field] = fe.Value
		confidenceSum += fe.Confidence
	}

	found := len(partial.Fields)
	partial.Coverage = float64(found) / float64(len(fields))
	if found > 0 {
		partial.Confidence = confidenceSum / float64(found)
	}
	return partial, partial.Coverage >= m.cfg.PartialThreshold
}

// InvalidateDocument removes every entry derived from the document, exact
// and per-field, from all tiers. It returns the number of persistent rows
// removed.
func (m *Manager) InvalidateDocument(docHash string) (int64, error) {
	prefix := DocumentPrefix(docHash)
	m.l1.removePrefix(prefix)
	n, err := m.store.DeletePrefix(prefix)
	if err != nil {
		return 0, fmt.Errorf("invalidating document %s: %w", docHash, err)
	}
	return n, nil
}

// Clear empties every tier and resets the counters, savings included.
func (m *Manager) Clear() error {
	m.l1.clear()
	if err := m.store.Clear(); err != nil {
		return err
	}
	m.l1Hits.Store(0)
	m.l2Hits.Store(0)
	m.partialHits.Store(0)
	m.misses.Store(0)
	m.timeSavedMillis.Store(0)
	m.costSavedMicros.Store(0)
	return nil
}

// Ping verifies the persistent tier is reachable.
func (m *Manager) Ping() error {
	_, err := m.store.Len()
	return err
}

// Stats snapshots the counters and tier sizes.
func (m *Manager) Stats() Stats {
	stats := Stats{
		L1Hits:           m.l1Hits.Load(),
		L2Hits:           m.l2Hits.Load(),
		PartialHits:      m.partialHits.Load(),
		Misses:           m.misses.Load(),
		TimeSavedSeconds: float64(m.timeSavedMillis.Load()) / 1000,
		CostSavedDollars: float64(m.costSavedMicros.Load()) / 1e6,
		L1Entries:        m.l1.len(),
	}
	if n, err := m.store.Len(); err == nil {
		stats.L2Entries = n
	}
	if size, err := m.store.SizeBytes(); err == nil {
		stats.L2Bytes = size
	}
	total := stats.L1Hits + stats.L2Hits + stats.PartialHits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.L1Hits+stats.L2Hits+stats.PartialHits) / float64(total)
	}
	return stats
}

// Close releases the persistent store.
func (m *Manager) Close() error {
	return m.store.Close()
}

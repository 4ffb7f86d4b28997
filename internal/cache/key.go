// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache implements the tiered extraction-result cache: an
// in-process LRU (L1), a persistent size-bounded store (L2), and per-field
// partial entries (L3). Keys are derived from document content, label, and
// schema so identical requests hit the same entry across processes.
package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// DocumentHash returns the xxHash-64 of the document content as 16 lowercase
// hex digits.
func DocumentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// SchemaHash hashes the requested fields sorted by name, including their
// descriptions, so the digest changes exactly when the field set or a
// description changes and never with request order.
func SchemaHash(fields []types.FieldSpec) string {
	sorted := make([]types.FieldSpec, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, f := range sorted {
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(f.Description)
		b.WriteByte('\n')
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// DocumentKey is the key stem shared by everything cached for one document
// under one label.
func DocumentKey(docHash, label string) string {
	return docHash + ":" + label
}

// Key derives the exact-result cache key for a document, label, and schema.
func Key(docHash, label string, fields []types.FieldSpec) string {
	return DocumentKey(docHash, label) + ":" + SchemaHash(fields)
}

// FieldKey derives the per-field partial cache key for a document and
// label. The literal "field" segment keeps field keys apart from exact
// keys, whose third segment is a schema hash.
func FieldKey(docHash, label, field string) string {
	return DocumentKey(docHash, label) + ":field:" + field
}

// DocumentPrefix returns the key prefix shared by every entry derived from
// the document, exact and per-field alike. Invalidation deletes by it.
func DocumentPrefix(docHash string) string {
	return docHash + ":"
}

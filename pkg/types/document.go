// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the extraction-engine
// pipeline: positioned document elements, field schemas, extraction results,
// templates, and configuration.
package types

// ElementCategory classifies a positioned element by its role in the
// document layout.
type ElementCategory string

const (
	CategoryTitle         ElementCategory = "Title"
	CategoryNarrativeText ElementCategory = "NarrativeText"
	CategoryListItem      ElementCategory = "ListItem"
	CategoryTable         ElementCategory = "Table"
	CategoryUncategorized ElementCategory = "UncategorizedText"
)

// PositionedElement is one text fragment of a document together with its
// page coordinates. Coordinates are in points with the origin at the top
// left, so sorting by (Y, X) yields reading order.
type PositionedElement struct {
	// Text is the fragment content, whitespace-trimmed.
	Text string `json:"text" yaml:"text"`

	// X is the horizontal position of the fragment's left edge.
	X float64 `json:"x" yaml:"x"`

	// Y is the vertical position of the fragment's top edge.
	Y float64 `json:"y" yaml:"y"`

	// Page is the 1-based page number the fragment appears on.
	Page int `json:"page" yaml:"page"`

	// Category is the inferred layout role (Title, NarrativeText, ...).
	Category ElementCategory `json:"category" yaml:"category"`
}

// FieldSpec names one field to extract, with an optional human description
// that is passed through to the extraction oracle's prompt.
type FieldSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// FieldNames returns just the names from a list of field specs, in input
// order.
func FieldNames(fields []FieldSpec) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// ExtractRequest is one unit of pipeline work: a document, the label it is
// claimed to belong to, and the fields to extract.
type ExtractRequest struct {
	// Content is the raw document bytes. When Elements is empty the
	// pipeline runs layout extraction on Content.
	Content []byte `json:"-" yaml:"-"`

	// Elements is the pre-extracted positioned layout. When non-empty it
	// is used as-is and Content is only consulted for the document hash.
	Elements []PositionedElement `json:"elements,omitempty" yaml:"elements,omitempty"`

	// Label is the document category (e.g. "invoice"). Templates and
	// per-label serialization key off it.
	Label string `json:"label" yaml:"label"`

	// Fields is the extraction schema.
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

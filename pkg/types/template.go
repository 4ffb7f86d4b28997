// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// PatternMethod identifies the strategy a field pattern uses.
type PatternMethod string

const (
	// PatternPosition locates the value by page coordinates.
	PatternPosition PatternMethod = "position"

	// PatternRegex locates the value by a catalog regular expression.
	PatternRegex PatternMethod = "regex"

	// PatternContext locates the value relative to anchor words.
	PatternContext PatternMethod = "context"

	// PatternHybrid combines position and regex, each validating the other.
	PatternHybrid PatternMethod = "hybrid"

	// PatternValueMatch replays a literal prior value if still present.
	PatternValueMatch PatternMethod = "value_match"

	// PatternNone records that the field is absent from this label's
	// documents.
	PatternNone PatternMethod = "none"
)

// PositionData anchors a field to page coordinates with a tolerance window.
type PositionData struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	TolX float64 `json:"tol_x" yaml:"tol_x"`
	TolY float64 `json:"tol_y" yaml:"tol_y"`
}

// RegexData names a catalog expression and carries its source so stored
// patterns remain usable if the catalog changes.
type RegexData struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// ContextData anchors a field to the words around it.
type ContextData struct {
	// Before is the anchor text preceding the value, usually the field's
	// printed caption.
	Before string `json:"before" yaml:"before"`

	// After is the text following the value, empty when the value ends the
	// line.
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// SameLine restricts the search to the anchor's line.
	SameLine bool `json:"same_line" yaml:"same_line"`
}

// ValueData stores a literal value observed for the field.
type ValueData struct {
	Value string `json:"value" yaml:"value"`
}

// PatternData is the method-specific payload of a field pattern. Exactly the
// members matching the pattern's method are set: Position for position,
// Regex for regex, both for hybrid, Context for context, Value for
// value_match, and none of them for none.
type PatternData struct {
	Position *PositionData `json:"position,omitempty" yaml:"position,omitempty"`
	Regex    *RegexData    `json:"regex,omitempty" yaml:"regex,omitempty"`
	Context  *ContextData  `json:"context,omitempty" yaml:"context,omitempty"`
	Value    *ValueData    `json:"value,omitempty" yaml:"value,omitempty"`
}

// FieldPattern is one learned extraction rule for one field of a label.
type FieldPattern struct {
	// Field is the schema field name the pattern extracts.
	Field string `json:"field" yaml:"field"`

	// Method selects the dispatch arm in the field extractor.
	Method PatternMethod `json:"method" yaml:"method"`

	// Confidence is the learner's confidence in [0,1] at learn time.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Successes and Failures count extraction outcomes observed after
	// learning.
	Successes int `json:"successes" yaml:"successes"`
	Failures  int `json:"failures" yaml:"failures"`

	// Data is the method-specific payload.
	Data PatternData `json:"data" yaml:"data"`
}

// SuccessRate returns Successes/(Successes+Failures), or 0 when the pattern
// has never been exercised.
func (p FieldPattern) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Successes) / float64(total)
}

// Template is the accumulated extraction knowledge for one label. There is
// at most one template per label.
type Template struct {
	// Label is the document category the template covers.
	Label string `json:"label" yaml:"label"`

	// SampleCount is the number of oracle results the template has
	// learned from.
	SampleCount int `json:"sample_count" yaml:"sample_count"`

	// Confidence grows with SampleCount and gates template use.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Patterns maps field name to its learned pattern.
	Patterns map[string]FieldPattern `json:"patterns" yaml:"patterns"`

	// Reference is the positioned layout of the most recent learned
	// sample, used by the matcher as the structural baseline.
	Reference []PositionedElement `json:"reference" yaml:"reference"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Pattern returns the pattern for field and whether one exists.
func (t *Template) Pattern(field string) (FieldPattern, bool) {
	p, ok := t.Patterns[field]
	return p, ok
}

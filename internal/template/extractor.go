// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package template

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// captionPenalty halves a position candidate's score when its text carries
// the field's own caption words, so "Total:" does not win over "142.50".
const captionPenalty = 0.5

// Extractor applies a template's learned patterns to a document.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor builds a pattern-dispatch extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract runs each requested field's pattern against the document. It
// returns the extracted values and the fields no pattern could serve; the
// caller decides whether to fetch those from the oracle. A field with a
// none pattern extracts to the empty string rather than going missing.
func (e *Extractor) Extract(tpl *types.Template, elements []types.PositionedElement, fields []string) (map[string]string, []string) {
	extracted := make(map[string]string, len(fields))
	var missing []string

	for _, field := range fields {
		pattern, ok := tpl.Pattern(field)
		if !ok {
			missing = append(missing, field)
			continue
		}
		if err := validatePattern(pattern); err != nil {
			e.logger.Debug("skipping invalid pattern",
				zap.String("label", tpl.Label),
				zap.String("field", field),
				zap.Error(err))
			missing = append(missing, field)
			continue
		}

		value, ok := e.dispatch(pattern, elements)
		if !ok {
			missing = append(missing, field)
			continue
		}
		extracted[field] = value
	}
	return extracted, missing
}

func (e *Extractor) dispatch(pattern types.FieldPattern, elements []types.PositionedElement) (string, bool) {
	switch pattern.Method {
	case types.PatternNone:
		return "", true
	case types.PatternPosition:
		return extractPosition(pattern.Field, pattern.Data.Position, elements)
	case types.PatternRegex:
		return extractRegex(pattern.Data.Regex, elements)
	case types.PatternContext:
		return extractContext(pattern.Data.Context, elements)
	case types.PatternHybrid:
		return extractHybrid(pattern, elements)
	case types.PatternValueMatch:
		return extractValueMatch(pattern.Data.Value, elements)
	}
	return "", false
}

// extractPosition picks the best element inside the tolerance window.
// Nearer elements score higher, and candidates that look like the field's
// caption are penalized.
func extractPosition(field string, data *types.PositionData, elements []types.PositionedElement) (string, bool) {
	fieldWords := captionWords(field)

	var best string
	var bestScore float64
	for _, el := range elements {
		dx := math.Abs(el.X - data.X)
		dy := math.Abs(el.Y - data.Y)
		if dx > data.TolX || dy > data.TolY {
			continue
		}
		score := 1.0 / (1.0 + dx + dy)
		if containsAnyWord(el.Text, fieldWords) {
			score *= captionPenalty
		}
		if score > bestScore {
			bestScore = score
			best = strings.TrimSpace(el.Text)
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// extractRegex returns the first catalog match across the document in
// reading order.
func extractRegex(data *types.RegexData, elements []types.PositionedElement) (string, bool) {
	re, err := compilePattern(data.Pattern)
	if err != nil {
		return "", false
	}
	for _, el := range elements {
		if match := re.FindString(el.Text); match != "" {
			return match, true
		}
	}
	return "", false
}

// extractContext finds the anchor element and returns the element that
// follows it, on the same line when the pattern demands it.
func extractContext(data *types.ContextData, elements []types.PositionedElement) (string, bool) {
	for i := 0; i+1 < len(elements); i++ {
		if !strings.Contains(elements[i].Text, data.Before) {
			continue
		}
		next := elements[i+1]
		if data.SameLine && math.Abs(next.Y-elements[i].Y) > contextLineTolerance {
			continue
		}
		return strings.TrimSpace(next.Text), true
	}
	return "", false
}

// extractHybrid tries position first and uses the regex part to pull the
// value out of the positioned text. When position misses, the regex runs
// over the whole document.
func extractHybrid(pattern types.FieldPattern, elements []types.PositionedElement) (string, bool) {
	re, err := compilePattern(pattern.Data.Regex.Pattern)
	if err != nil {
		return "", false
	}

	if text, ok := extractPosition(pattern.Field, pattern.Data.Position, elements); ok {
		if match := re.FindString(text); match != "" {
			return match, true
		}
	}
	return extractRegex(pattern.Data.Regex, elements)
}

// extractValueMatch replays the stored value only while the document still
// contains it.
func extractValueMatch(data *types.ValueData, elements []types.PositionedElement) (string, bool) {
	for _, el := range elements {
		if strings.Contains(el.Text, data.Value) {
			return data.Value, true
		}
	}
	return "", false
}

// captionWords splits a field name into the words a printed caption for it
// would contain.
func captionWords(field string) []string {
	normalized := normalizeText(strings.NewReplacer("_", " ", "-", " ").Replace(field))
	var words []string
	for _, w := range strings.Fields(normalized) {
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	return words
}

func containsAnyWord(text string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	normalized := " " + normalizeText(text) + " "
	for _, w := range words {
		if strings.Contains(normalized, " "+w+" ") {
			return true
		}
	}
	return false
}

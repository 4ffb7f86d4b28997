// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package template

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// commonCaptions are words that usually belong to a printed field caption
// rather than its value. Elements containing them score lower as position
// candidates so the learner does not anchor on the caption.
var commonCaptions = map[string]bool{
	"inscricao": true, "inscrição": true, "numero": true, "número": true,
	"nome": true, "name": true, "endereco": true, "endereço": true,
	"address": true, "telefone": true, "phone": true, "situacao": true,
	"situação": true, "status": true, "data": true, "date": true,
	"valor": true, "value": true, "total": true, "quantidade": true,
	"quantity": true, "tipo": true, "type": true, "cidade": true,
	"city": true, "referencia": true, "referência": true, "reference": true,
	"categoria": true, "category": true, "sistema": true, "produto": true,
}

// contextLineTolerance is the vertical distance within which an anchor and
// its value are considered to share a line.
const contextLineTolerance = 3.0

// Learner updates a label's template from oracle results, choosing an
// extraction strategy per field.
type Learner struct {
	cfg    types.LearningConfig
	logger *zap.Logger
}

// NewLearner builds a learner with the given tolerances and coefficients.
func NewLearner(cfg types.LearningConfig, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{cfg: cfg, logger: logger}
}

// Learn folds one oracle result into the template: bumps the sample count
// and confidence, refreshes the reference layout, and learns a pattern per
// field. An existing pattern is replaced only when the new one is at least
// as confident, so templates never degrade from a noisy sample.
func (l *Learner) Learn(tpl *types.Template, elements []types.PositionedElement, fields map[string]string, specs []types.FieldSpec) {
	now := time.Now().UTC()
	if tpl.Patterns == nil {
		tpl.Patterns = make(map[string]types.FieldPattern, len(fields))
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}

	tpl.SampleCount++
	tpl.Confidence = math.Min(
		l.cfg.MaxConfidence,
		l.cfg.BaseConfidence+l.cfg.SampleWeight*float64(tpl.SampleCount),
	)
	tpl.Reference = elements
	tpl.UpdatedAt = now

	descriptions := make(map[string]string, len(specs))
	for _, spec := range specs {
		descriptions[spec.Name] = spec.Description
	}

	for field, value := range fields {
		learned := l.learnField(field, value, descriptions[field], elements)
		if existing, ok := tpl.Patterns[field]; ok {
			if learned.Confidence < existing.Confidence {
				continue
			}
			learned.Successes = existing.Successes
			learned.Failures = existing.Failures
		}
		tpl.Patterns[field] = learned
		l.logger.Debug("pattern learned",
			zap.String("label", tpl.Label),
			zap.String("field", field),
			zap.String("method", string(learned.Method)),
			zap.Float64("confidence", learned.Confidence))
	}
}

// learnField picks the strategy for one field. Position and regex both
// learnable yields a hybrid; otherwise the most confident single strategy
// wins; a value present but unanchorable falls back to value_match; an
// absent value learns the field's absence.
func (l *Learner) learnField(field, value, description string, elements []types.PositionedElement) types.FieldPattern {
	value = strings.TrimSpace(value)
	if value == "" {
		return types.FieldPattern{
			Field:      field,
			Method:     types.PatternNone,
			Confidence: l.cfg.NoneConfidence,
		}
	}

	position, positionConf := l.learnPosition(field, value, elements)
	regex := l.learnRegex(field, value, description)
	context := l.learnContext(value, elements)

	if position != nil && regex != nil {
		return types.FieldPattern{
			Field:      field,
			Method:     types.PatternHybrid,
			Confidence: l.cfg.HybridConfidence,
			Data:       types.PatternData{Position: position, Regex: regex},
		}
	}
	if position != nil {
		return types.FieldPattern{
			Field:      field,
			Method:     types.PatternPosition,
			Confidence: positionConf,
			Data:       types.PatternData{Position: position},
		}
	}
	if regex != nil {
		return types.FieldPattern{
			Field:      field,
			Method:     types.PatternRegex,
			Confidence: l.cfg.RegexConfidence,
			Data:       types.PatternData{Regex: regex},
		}
	}
	if context != nil {
		return types.FieldPattern{
			Field:      field,
			Method:     types.PatternContext,
			Confidence: l.cfg.ContextConfidence,
			Data:       types.PatternData{Context: context},
		}
	}
	return types.FieldPattern{
		Field:      field,
		Method:     types.PatternValueMatch,
		Confidence: l.cfg.ValueMatchConfidence,
		Data:       types.PatternData{Value: &types.ValueData{Value: value}},
	}
}

// learnPosition anchors the value to the element that carries it. Exact
// text matches beat containment, and elements that read like captions are
// demoted so the anchor lands on the value itself.
func (l *Learner) learnPosition(field, value string, elements []types.PositionedElement) (*types.PositionData, float64) {
	var best *types.PositionedElement
	var bestScore float64

	for i := range elements {
		el := &elements[i]
		var score float64
		switch {
		case strings.TrimSpace(el.Text) == value:
			score = 1.0
		case strings.Contains(el.Text, value):
			score = 0.8
		default:
			continue
		}
		if !looksLikeCaption(el.Text) {
			score *= 1.5
		}
		if score > bestScore {
			bestScore = score
			best = el
		}
	}

	if best == nil {
		return nil, 0
	}
	data := &types.PositionData{
		X:    best.X,
		Y:    best.Y,
		TolX: l.cfg.PositionTolX,
		TolY: l.cfg.PositionTolY,
	}
	confidence := math.Min(l.cfg.MaxConfidence, l.cfg.PositionBase+l.cfg.PositionScale*bestScore)
	return data, confidence
}

// learnRegex matches the field against the catalog: the field name or its
// description must mention the catalog entry, and the observed value must
// match the expression.
func (l *Learner) learnRegex(field, value, description string) *types.RegexData {
	fieldLower := strings.ToLower(field)
	descLower := strings.ToLower(description)

	for _, cp := range commonPatterns {
		if !strings.Contains(fieldLower, cp.name) && !strings.Contains(descLower, cp.name) {
			continue
		}
		if cp.regexp.MatchString(value) {
			return &types.RegexData{Name: cp.name, Pattern: cp.regexp.String()}
		}
	}
	return nil
}

// learnContext anchors the value to its neighboring elements: the element
// before it is usually the printed caption.
func (l *Learner) learnContext(value string, elements []types.PositionedElement) *types.ContextData {
	for i := range elements {
		if !strings.Contains(elements[i].Text, value) {
			continue
		}
		if i == 0 {
			return nil
		}
		prev := elements[i-1]
		ctx := &types.ContextData{
			Before:   prev.Text,
			SameLine: math.Abs(prev.Y-elements[i].Y) <= contextLineTolerance,
		}
		if i+1 < len(elements) {
			ctx.After = elements[i+1].Text
		}
		return ctx
	}
	return nil
}

// looksLikeCaption reports whether text reads like a printed field caption
// rather than a value.
func looksLikeCaption(text string) bool {
	normalized := normalizeText(text)
	for _, word := range strings.Fields(normalized) {
		if commonCaptions[word] {
			return true
		}
	}
	return false
}

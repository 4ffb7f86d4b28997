// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package template

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// captionPattern recognizes field-caption vocabulary, a fixed catalog of
// label-like words followed by a colon or whitespace. Document shape is
// carried by which captions appear, not by the values next to them.
var captionPattern = regexp.MustCompile(`(?i)\b(nome|cpf|cnpj|rg|endereço|endereco|telefone|celular|data|emissão|emissao|nascimento|assinatura|valor|total|cliente|email|cep|número|numero|inscrição|inscricao|vencimento)\s*(?:[:\s]|$)`)

// stopwords are excluded from token overlap; they carry no layout identity.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "are": true, "was": true, "not": true,
	"dos": true, "das": true, "com": true, "para": true, "por": true,
	"uma": true, "não": true, "que": true, "sem": true, "nos": true,
}

// Matcher scores how closely a candidate document resembles a template's
// reference layout, blending structural, token, and character signals.
type Matcher struct {
	cfg types.MatchingConfig
}

// NewMatcher builds a matcher with the given weights and gates.
func NewMatcher(cfg types.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match returns the blended similarity of candidate against reference in
// [0,1]. Identical layouts score 1.
func (m *Matcher) Match(reference, candidate []types.PositionedElement) float64 {
	if len(reference) == 0 || len(candidate) == 0 {
		return 0
	}
	refText := joinedText(reference)
	candText := joinedText(candidate)
	score := m.cfg.StructuralWeight*structuralSimilarity(refText, candText) +
		m.cfg.TokenWeight*tokenSimilarity(reference, candidate) +
		m.cfg.CharWeight*charSimilarity(refText, candText)
	return math.Min(1.0, score)
}

// Threshold returns the match gate for label: rigid labels need the higher
// bar.
func (m *Matcher) Threshold(label string) float64 {
	if slices.Contains(m.cfg.RigidLabels, label) {
		return m.cfg.RigidThreshold
	}
	return m.cfg.FlexibleThreshold
}

// CanUse reports whether the template itself is mature enough to replace
// the oracle for label: enough samples, and confidence at or above the
// floor. Flexible labels demand the stricter confidence floor.
func (m *Matcher) CanUse(tpl *types.Template, label string) bool {
	if tpl == nil || tpl.SampleCount < m.cfg.MinSamples {
		return false
	}
	floor := m.cfg.MinConfidence
	if !slices.Contains(m.cfg.RigidLabels, label) && m.cfg.FlexibleMinConfidence > floor {
		floor = m.cfg.FlexibleMinConfidence
	}
	return tpl.Confidence >= floor
}

// structuralSimilarity is the Jaccard overlap of the two documents' caption
// keyword sets. Two documents with the same captions have the same shape
// regardless of the values filled in.
func structuralSimilarity(a, b string) float64 {
	kwA := keywordSet(a)
	kwB := keywordSet(b)
	if len(kwA) == 0 && len(kwB) == 0 {
		return 1
	}

	var intersection int
	for kw := range kwA {
		if kwB[kw] {
			intersection++
		}
	}
	union := len(kwA) + len(kwB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func keywordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, match := range captionPattern.FindAllStringSubmatch(text, -1) {
		set[strings.ToLower(match[1])] = true
	}
	return set
}

// tokenSimilarity is the Jaccard overlap of the two documents' normalized
// token sets.
func tokenSimilarity(a, b []types.PositionedElement) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	var intersection int
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(elements []types.PositionedElement) map[string]bool {
	set := make(map[string]bool)
	for _, el := range elements {
		for _, tok := range strings.Fields(normalizeText(el.Text)) {
			if len(tok) < 3 || stopwords[tok] {
				continue
			}
			set[tok] = true
		}
	}
	return set
}

// charSimilarity is the subsequence ratio of the two texts after digits are
// stripped, so two scans of one form differing only in filled-in values
// compare as near-identical.
func charSimilarity(a, b string) float64 {
	return lcsRatio([]rune(charNormalize(a)), []rune(charNormalize(b)))
}

// lcsRatio is 2*LCS/(len(a)+len(b)), the classic similarity ratio of two
// sequences.
func lcsRatio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

func joinedText(elements []types.PositionedElement) string {
	parts := make([]string, len(elements))
	for i, el := range elements {
		parts[i] = el.Text
	}
	return strings.Join(parts, " ")
}

// charNormalize lowercases, strips digits, and collapses whitespace.
// Punctuation stays: caption colons are part of a form's shape.
func charNormalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeText lowercases and strips everything but letters, digits, and
// spaces, collapsing runs of whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

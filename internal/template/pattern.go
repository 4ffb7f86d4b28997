// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package template

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// catalogPattern pairs a catalog name with its expression. The catalog is
// consulted in order, so more specific patterns come first.
type catalogPattern struct {
	name   string
	regexp *regexp.Regexp
}

// commonPatterns is the regex catalog the learner recognizes. A field whose
// name or description mentions a catalog name learns that expression when
// the observed value matches it.
var commonPatterns = []catalogPattern{
	{"cpf", regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)},
	{"cnpj", regexp.MustCompile(`\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)},
	{"telefone", regexp.MustCompile(`\(?\d{2}\)?\s?\d{4,5}-?\d{4}`)},
	{"cep", regexp.MustCompile(`\d{5}-?\d{3}`)},
	{"email", regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)},
	{"data", regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)},
	{"hora", regexp.MustCompile(`\d{2}:\d{2}`)},
	{"valor", regexp.MustCompile(`R\$\s?\d+[.,]\d{2}`)},
	{"inscricao", regexp.MustCompile(`\d{5,8}`)},
	{"numero", regexp.MustCompile(`\d+`)},
}

// regexCache memoizes compiled stored expressions so extraction does not
// recompile on every document.
var regexCache = struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}{compiled: make(map[string]*regexp.Regexp)}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	regexCache.mu.RLock()
	re, ok := regexCache.compiled[pattern]
	regexCache.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	regexCache.mu.Lock()
	regexCache.compiled[pattern] = re
	regexCache.mu.Unlock()
	return re, nil
}

// validatePattern checks that a pattern's payload matches its method.
// Stored patterns that fail validation are skipped by the extractor.
func validatePattern(p types.FieldPattern) error {
	switch p.Method {
	case types.PatternPosition:
		if p.Data.Position == nil {
			return fmt.Errorf("position pattern for %s missing position data", p.Field)
		}
	case types.PatternRegex:
		if p.Data.Regex == nil || p.Data.Regex.Pattern == "" {
			return fmt.Errorf("regex pattern for %s missing expression", p.Field)
		}
		if _, err := compilePattern(p.Data.Regex.Pattern); err != nil {
			return err
		}
	case types.PatternContext:
		if p.Data.Context == nil || p.Data.Context.Before == "" {
			return fmt.Errorf("context pattern for %s missing anchor", p.Field)
		}
	case types.PatternHybrid:
		if p.Data.Position == nil || p.Data.Regex == nil {
			return fmt.Errorf("hybrid pattern for %s missing position or regex part", p.Field)
		}
		if _, err := compilePattern(p.Data.Regex.Pattern); err != nil {
			return err
		}
	case types.PatternValueMatch:
		if p.Data.Value == nil {
			return fmt.Errorf("value_match pattern for %s missing value", p.Field)
		}
	case types.PatternNone:
		// No payload.
	default:
		return fmt.Errorf("unknown pattern method %q for %s", p.Method, p.Field)
	}
	return nil
}

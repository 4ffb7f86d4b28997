// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// ElementsSuffix marks files carrying a pre-extracted layout instead of a
// raw document.
const ElementsSuffix = ".elements.json"

// IsElementsFile reports whether path names a pre-extracted layout file.
func IsElementsFile(path string) bool {
	return strings.HasSuffix(path, ElementsSuffix)
}

// ParseElements decodes a pre-extracted layout: a JSON array of positioned
// elements. The result is returned in reading order.
func ParseElements(data []byte) ([]types.PositionedElement, error) {
	var elements []types.PositionedElement
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decoding elements: %w", err)
	}
	for i := range elements {
		if elements[i].Page == 0 {
			elements[i].Page = 1
		}
		if elements[i].Category == "" {
			elements[i].Category = types.CategoryNarrativeText
		}
	}
	return Sort(elements), nil
}

// ReadElements loads a pre-extracted layout file.
func ReadElements(path string) ([]types.PositionedElement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading elements file %s: %w", path, err)
	}
	elements, err := ParseElements(data)
	if err != nil {
		return nil, fmt.Errorf("parsing elements file %s: %w", path, err)
	}
	return elements, nil
}

// ElementsExtractor adapts pre-extracted layouts to the Extractor
// interface: the "document bytes" are the JSON element array itself.
type ElementsExtractor struct{}

// Extract decodes content as a JSON element array.
func (ElementsExtractor) Extract(_ context.Context, content []byte) ([]types.PositionedElement, error) {
	return ParseElements(content)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package layout turns raw documents into positioned text elements. The
// production extractor shells out to poppler's pdftotext; pre-extracted
// element files are supported for tests and batch fixtures.
package layout

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Extractor produces the positioned layout of a document.
type Extractor interface {
	// Extract parses the raw document bytes into positioned elements.
	// Elements are returned in reading order.
	Extract(ctx context.Context, content []byte) ([]types.PositionedElement, error)
}

// Sort orders elements into reading order: by page, then top edge, then
// left edge. It sorts in place and returns the slice.
func Sort(elements []types.PositionedElement) []types.PositionedElement {
	sort.SliceStable(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return elements
}

// Text renders elements as plain text in reading order, one line per
// element. Used for oracle prompts.
func Text(elements []types.PositionedElement) string {
	var b strings.Builder
	for i, el := range elements {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(el.Text)
	}
	return b.String()
}

// ReferenceText renders elements with their coordinates and category, one
// per line. Stored alongside templates for inspection.
func ReferenceText(elements []types.PositionedElement) string {
	var b strings.Builder
	for i, el := range elements {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[x=%.0f, y=%.0f] %s: %s", el.X, el.Y, el.Category, el.Text)
	}
	return b.String()
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package oracle reads field values out of a document with a language
// model. The pipeline calls it only when no cached answer or usable
// template exists, so every call here is money spent.
package oracle

import (
	"context"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Request asks for the values of a document's schema fields.
type Request struct {
	// Label is the document category, included in the prompt.
	Label string

	// Fields are the schema fields to extract. Descriptions, when
	// present, are passed to the model.
	Fields []types.FieldSpec

	// Document is the positioned text of the document in reading order.
	Document string
}

// Result carries the oracle's answers. Fields holds a value for every
// requested field, empty when the document does not contain it.
type Result struct {
	Fields     map[string]string
	TokensUsed int
}

// Oracle answers a document's field values.
type Oracle interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

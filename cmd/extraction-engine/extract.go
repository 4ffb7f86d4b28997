// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract fields from a single document",
	Long: `Extract runs one document through the pipeline and prints the result as
JSON. The document is a PDF (requires pdftotext) or a pre-extracted
*.elements.json layout.

Fields are a comma-separated list of names; append =description to give the
oracle extraction hints, e.g.:

  extraction-engine extract --file doc.pdf --label invoice \
    --fields "invoice_number,total=grand total including tax"`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("file", "", "document to extract from (PDF or *.elements.json)")
	extractCmd.Flags().String("label", "", "document label, e.g. invoice or id_card")
	extractCmd.Flags().String("fields", "", "comma-separated field names, optionally name=description")
	_ = extractCmd.MarkFlagRequired("file")
	_ = extractCmd.MarkFlagRequired("label")
	_ = extractCmd.MarkFlagRequired("fields")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	label, _ := cmd.Flags().GetString("label")
	fieldsArg, _ := cmd.Flags().GetString("fields")

	fields, err := parseFieldSpecs(fieldsArg)
	if err != nil {
		return err
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	req := types.ExtractRequest{Label: label, Fields: fields}
	if layout.IsElementsFile(file) {
		elements, err := layout.ReadElements(file)
		if err != nil {
			return err
		}
		req.Elements = elements
	} else {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		req.Content = content
	}

	result, err := eng.pipeline.Extract(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseFieldSpecs splits a comma-separated field list. Each item is a name
// or name=description.
func parseFieldSpecs(arg string) ([]types.FieldSpec, error) {
	var specs []types.FieldSpec
	for _, item := range strings.Split(arg, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, description, _ := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("field spec %q has no name", item)
		}
		specs = append(specs, types.FieldSpec{
			Name:        name,
			Description: strings.TrimSpace(description),
		})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no fields given")
	}
	return specs, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oracle

import (
	"bytes"
	"text/template"
)

// extractionPromptTmpl is the prompt sent to the model for one document.
// It instructs the model to copy values verbatim and to answer every
// requested field so the learner can record absences too.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`You are a document field extraction system. Read the document below and extract the requested fields.

Document category: {{.Label}}

Fields to extract:
{{range .Fields}}- {{.Name}}{{with .Description}}: {{.}}{{end}}
{{end}}
Rules:
- Copy each value exactly as printed in the document. Do not reformat numbers, dates, or identifiers.
- Use an empty string for any field the document does not contain.
- Answer every requested field.

Respond with a JSON object mapping each field name to its string value. Do not include any text outside the JSON object.

Example response:
{"numero": "4821", "data": "15/01/2026", "cpf": ""}

Document:
{{.Document}}
`))

// renderPrompt executes the extraction prompt template for one request.
func renderPrompt(req Request) (string, error) {
	var buf bytes.Buffer
	if err := extractionPromptTmpl.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}

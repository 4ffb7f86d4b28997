// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package layout

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

const binPdftotext = "pdftotext"

const (
	// lineTolerance is the vertical distance within which two words belong
	// to the same line.
	lineTolerance = 2.5

	// wordGapMax is the horizontal gap beyond which a line splits into
	// separate elements. Invoice captions and their values usually sit in
	// distinct columns.
	wordGapMax = 18.0

	// titleBand is the vertical extent of the first page in which a short
	// standalone line is treated as a title.
	titleBand = 120.0
)

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	return cmd.Run()
}

// PopplerExtractor extracts positioned elements by piping the document
// through pdftotext's bounding-box mode and grouping the word boxes into
// line elements.
type PopplerExtractor struct {
	exec executor
}

// NewPopplerExtractor verifies that pdftotext is on PATH and returns the
// extractor.
func NewPopplerExtractor() (*PopplerExtractor, error) {
	return newPopplerExtractor(&osExecutor{})
}

func newPopplerExtractor(exec executor) (*PopplerExtractor, error) {
	if _, err := exec.LookPath(binPdftotext); err != nil {
		return nil, fmt.Errorf("%s not found on PATH: %w", binPdftotext, err)
	}
	return &PopplerExtractor{exec: exec}, nil
}

// Extract runs pdftotext -bbox over the document and returns the grouped
// elements in reading order.
func (p *PopplerExtractor) Extract(ctx context.Context, content []byte) ([]types.PositionedElement, error) {
	var out bytes.Buffer
	args := []string{"-bbox", "-", "-"}
	if err := p.exec.RunPiped(ctx, binPdftotext, args, bytes.NewReader(content), &out); err != nil {
		return nil, fmt.Errorf("running %s: %w", binPdftotext, err)
	}
	elements, err := parseBBox(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing %s output: %w", binPdftotext, err)
	}
	return Sort(elements), nil
}

// bboxHTML mirrors the XHTML document pdftotext -bbox emits: one doc per
// body, one page per sheet, one word per box.
type bboxHTML struct {
	XMLName xml.Name   `xml:"html"`
	Pages   []bboxPage `xml:"body>doc>page"`
}

type bboxPage struct {
	Width  float64    `xml:"width,attr"`
	Height float64    `xml:"height,attr"`
	Words  []bboxWord `xml:"word"`
}

type bboxWord struct {
	XMin float64 `xml:"xMin,attr"`
	YMin float64 `xml:"yMin,attr"`
	XMax float64 `xml:"xMax,attr"`
	YMax float64 `xml:"yMax,attr"`
	Text string  `xml:",chardata"`
}

func parseBBox(data []byte) ([]types.PositionedElement, error) {
	var doc bboxHTML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding bbox xml: %w", err)
	}

	var elements []types.PositionedElement
	for pageNum, page := range doc.Pages {
		words := page.Words
		sort.SliceStable(words, func(i, j int) bool {
			if words[i].YMin != words[j].YMin {
				return words[i].YMin < words[j].YMin
			}
			return words[i].XMin < words[j].XMin
		})
		elements = append(elements, groupWords(words, pageNum+1)...)
	}
	for i := range elements {
		elements[i].Category = inferCategory(elements[i])
	}
	return elements, nil
}

// groupWords clusters word boxes into elements. Words are bucketed into
// lines first, each line is read left to right, and a line splits into
// separate elements where the horizontal gap exceeds wordGapMax.
func groupWords(words []bboxWord, page int) []types.PositionedElement {
	var elements []types.PositionedElement
	for _, line := range clusterLines(words) {
		sort.SliceStable(line, func(i, j int) bool { return line[i].XMin < line[j].XMin })

		var current *types.PositionedElement
		var prevXMax float64
		for _, w := range line {
			text := strings.TrimSpace(w.Text)
			if current != nil && w.XMin-prevXMax <= wordGapMax {
				current.Text += " " + text
			} else {
				if current != nil {
					elements = append(elements, *current)
				}
				current = &types.PositionedElement{
					Text: text,
					X:    w.XMin,
					Y:    w.YMin,
					Page: page,
				}
			}
			prevXMax = w.XMax
		}
		if current != nil {
			elements = append(elements, *current)
		}
	}
	return elements
}

// clusterLines buckets word boxes into lines of text. Words arrive sorted
// by YMin; a word vertically within lineTolerance of the line's first word
// stays on that line, which tolerates the baseline jitter pdftotext reports
// for mixed font sizes.
func clusterLines(words []bboxWord) [][]bboxWord {
	var lines [][]bboxWord
	var current []bboxWord
	var lineY float64

	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		if current != nil && abs(w.YMin-lineY) <= lineTolerance {
			current = append(current, w)
			continue
		}
		if current != nil {
			lines = append(lines, current)
		}
		current = []bboxWord{w}
		lineY = w.YMin
	}
	if current != nil {
		lines = append(lines, current)
	}
	return lines
}

// inferCategory applies simple layout cues: short prominent lines near the
// top of the first page read as titles, everything else as narrative text.
func inferCategory(el types.PositionedElement) types.ElementCategory {
	text := el.Text
	if el.Page == 1 && el.Y <= titleBand && len(text) <= 60 && !strings.HasSuffix(text, ".") {
		if upperRatio(text) >= 0.6 {
			return types.CategoryTitle
		}
	}
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "•") {
		return types.CategoryListItem
	}
	return types.CategoryNarrativeText
}

func upperRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

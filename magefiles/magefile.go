//go:build mage

// Package main contains Mage build targets for extraction-engine developer tooling.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// projectDirs lists the working directories the engine expects.
var projectDirs = []string{
	"storage",
	"results",
	".secrets",
}

// Init creates the directory structure for the engine's persistent state.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "extraction-engine"
	cmdPkg  = "./cmd/extraction-engine"
)

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	cmd := exec.Command("go", "build", "-o", out, cmdPkg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the full test suite.
func Test() error {
	cmd := exec.Command("go", "test", "./...")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Fixture writes a small pre-extracted dataset under examples/ so extract
// and batch can be exercised without pdftotext or a real PDF.
func Fixture() error {
	if err := os.MkdirAll("examples", 0o755); err != nil {
		return fmt.Errorf("creating examples: %w", err)
	}
	for name, content := range fixtureFiles {
		path := filepath.Join("examples", name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Println("  ", path)
	}
	fmt.Println("Run: extraction-engine batch --dataset examples/dataset.json")
	return nil
}

// fixtureFiles are two invoices sharing one layout, so a batch run shows
// the template learner picking up the label, plus the dataset tying them
// together.
var fixtureFiles = map[string]string{
	"invoice-01.elements.json": `[
  {"text": "NOTA FISCAL", "x": 60, "y": 30, "page": 1, "category": "Title"},
  {"text": "Numero:", "x": 60, "y": 90, "page": 1},
  {"text": "4821", "x": 140, "y": 90, "page": 1},
  {"text": "Total:", "x": 60, "y": 130, "page": 1},
  {"text": "R$ 1.250,00", "x": 140, "y": 130, "page": 1}
]
`,
	"invoice-02.elements.json": `[
  {"text": "NOTA FISCAL", "x": 60, "y": 30, "page": 1, "category": "Title"},
  {"text": "Numero:", "x": 60, "y": 90, "page": 1},
  {"text": "4822", "x": 140, "y": 90, "page": 1},
  {"text": "Total:", "x": 60, "y": 130, "page": 1},
  {"text": "R$ 980,00", "x": 140, "y": 130, "page": 1}
]
`,
	"dataset.json": `[
  {"file": "invoice-01.elements.json", "label": "invoice",
   "fields": {"numero": "numero da nota fiscal", "total": "valor total"}},
  {"file": "invoice-02.elements.json", "label": "invoice",
   "fields": {"numero": "numero da nota fiscal", "total": "valor total"}}
]
`,
}

// Stats prints project metrics: Go production and test line counts.
func Stats() error {
	prod, test, err := countGoLines(".")
	if err != nil {
		return err
	}
	fmt.Printf("Lines of code (Go, production): %d\n", prod)
	fmt.Printf("Lines of code (Go, tests):      %d\n", test)
	return nil
}

// countGoLines walks the tree and counts non-blank lines in Go sources,
// split into production and test files. Hidden directories and bin/ are
// skipped.
func countGoLines(root string) (prod, test int, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if name != "." && (strings.HasPrefix(name, ".") || name == binDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		lines := 0
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) > 0 {
				lines++
			}
		}
		if strings.HasSuffix(path, "_test.go") {
			test += lines
		} else {
			prod += lines
		}
		return nil
	})
	return prod, test, err
}

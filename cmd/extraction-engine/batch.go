package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run an extraction dataset through the pipeline",
	Long: `Batch processes a dataset of documents. The dataset is a JSON array of
entries with "file", "label", and "fields" (name to description). Entries
are grouped by label; groups run in parallel while documents within a
group run sequentially, so each oracle answer can improve the label's
template before the next document arrives.

Per-document results are written next to a summary.json in the output
directory. Document paths are resolved relative to the dataset file
unless --docs-dir is given.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("dataset", "", "dataset JSON file")
	batchCmd.Flags().String("docs-dir", "", "base directory for document paths (default: dataset's directory)")
	batchCmd.Flags().String("out", "", "output directory for results (default: config value)")
	batchCmd.Flags().Int("workers", 0, "concurrent label groups (default: config value)")
	_ = batchCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	datasetPath, _ := cmd.Flags().GetString("dataset")

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		eng.cfg.Batch.Workers = workers
	}
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		eng.cfg.Batch.OutputDir = out
	}
	docsDir, _ := cmd.Flags().GetString("docs-dir")
	if docsDir == "" {
		docsDir = filepath.Dir(datasetPath)
	}

	entries, err := batch.LoadDataset(datasetPath)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(eng.pipeline, eng.cfg.Batch, eng.logger)
	summary, err := runner.Run(cmd.Context(), entries, docsDir, eng.cfg.Batch.OutputDir, os.Stdout)
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d document(s) failed extraction", summary.Failed)
	}
	return nil
}

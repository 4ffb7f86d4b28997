// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/template"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Inspect and manage learned extraction templates",
	Long: `Template manages the per-label templates the engine learns from oracle
answers. Use subcommands to list templates, inspect one label's patterns
and extraction history, delete a template so it relearns from scratch, or
export one as YAML.`,
}

// --- list subcommand ---

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned templates with sample counts and confidence",
	RunE:  runTemplateList,
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	summaries, err := eng.templates.List(cmd.Context())
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatTemplateList(summaries, jsonOutput)
}

func formatTemplateList(summaries []template.Summary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No templates learned yet.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-24s  %-8s  %-10s  %-7s  %s\n",
		"Label", "Samples", "Confidence", "Fields", "Updated")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 72))

	for _, s := range summaries {
		label := s.Label
		if len(label) > 24 {
			label = label[:21] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-24s  %-8d  %-10.2f  %-7d  %s\n",
			label, s.SampleCount, s.Confidence, s.FieldCount,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Fprintf(os.Stdout, "\n%d templates\n", len(summaries))
	return nil
}

// --- show subcommand ---

var templateShowCmd = &cobra.Command{
	Use:   "show <label>",
	Short: "Show one label's patterns and extraction history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	label := args[0]
	if _, ok, err := eng.templates.Get(cmd.Context(), label); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("no template learned for label %q", label)
	}

	stats, err := eng.templates.Stats(cmd.Context(), label)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// --- delete subcommand ---

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Delete a label's template so it relearns from scratch",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	label := args[0]
	if _, ok, err := eng.templates.Get(cmd.Context(), label); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("no template learned for label %q", label)
	}

	if err := eng.templates.Delete(cmd.Context(), label); err != nil {
		return err
	}
	fmt.Printf("Deleted template %q.\n", label)
	return nil
}

// --- export subcommand ---

var templateExportCmd = &cobra.Command{
	Use:   "export <label>",
	Short: "Export a label's template as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateExport,
}

func runTemplateExport(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	return eng.templates.ExportYAML(cmd.Context(), args[0], os.Stdout)
}

func init() {
	templateListCmd.Flags().Bool("json", false, "output as JSON")

	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templateDeleteCmd)
	templateCmd.AddCommand(templateExportCmd)

	rootCmd.AddCommand(templateCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/galaxyhq/galaxy/pkg/config"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Validate a constellation manifest",
	Long: `Apply parses a constellation manifest, materialises the DAG, and
reports its shape without executing anything.

Examples:
  # Validate a constellation definition
  galaxy apply -f constellation.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to validate (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	manifest, err := config.LoadManifest(filename)
	if err != nil {
		return err
	}

	con, err := manifest.Build()
	if err != nil {
		return fmt.Errorf("invalid constellation: %w", err)
	}
	if ok, errs := con.Validate(); !ok {
		return fmt.Errorf("invalid constellation: %v", errs)
	}

	stats := con.Statistics()
	fmt.Printf("✓ Constellation valid: %s\n", con.Name)
	fmt.Printf("  Tasks: %d  Dependencies: %d\n", stats.Total, len(con.Dependencies()))

	order, err := con.TopologicalOrder()
	if err != nil {
		return err
	}
	fmt.Println("  Execution order:")
	for i, id := range order {
		task, _ := con.Task(id)
		target := task.DeviceID
		if target == "" {
			if assigned := manifest.Spec.Assignments[id]; assigned != "" {
				target = assigned
			} else {
				target = "<strategy>"
			}
		}
		fmt.Printf("    %d. %s -> %s\n", i+1, id, target)
	}
	return nil
}

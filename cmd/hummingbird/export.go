package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var (
		runID  int64
		all    bool
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored results",
		Long: `Export stored runs and their parameter results as CSV or JSON.

Examples:
  # Export one run to CSV on stdout
  hummingbird export --run 42

  # Export every run to a JSON file
  hummingbird export --all --format json --output runs.json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !all && runID == 0 {
				return fmt.Errorf("either --run or --all must be specified")
			}
			if format != "csv" && format != "json" {
				return fmt.Errorf("format must be either 'csv' or 'json'")
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			out, err := createOutput(output)
			if err != nil {
				return err
			}
			defer func() { _ = out.Close() }()

			switch {
			case format == "csv" && all:
				err = database.ExportAllCSV(out)
			case format == "csv":
				err = database.ExportCSV(out, runID)
			case all:
				err = database.ExportAllJSON(out)
			default:
				err = database.ExportJSON(out, runID)
			}
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", format, err)
			}

			if output != "" {
				if all {
					fmt.Printf("Exported all runs to %s\n", output)
				} else {
					fmt.Printf("Exported run %d to %s\n", runID, output)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&runID, "run", 0, "Run ID to export")
	cmd.Flags().BoolVar(&all, "all", false, "Export all runs")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format (csv or json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

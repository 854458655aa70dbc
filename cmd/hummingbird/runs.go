package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/report"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var (
		capturePath string
		grade       string
		limit       int
		success     bool
		failed      bool
		since       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List analysis runs",
		Long: `List stored analysis runs, newest first.

Examples:
  # List the last 50 runs
  hummingbird runs

  # List runs of one capture from the last day
  hummingbird runs --capture bus.csv --since 24h

  # List runs that could not be analyzed
  hummingbird runs --failed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			filter := db.RunFilter{
				Capture: capturePath,
				Limit:   limit,
			}
			if grade != "" {
				g, err := resolveGrade(cmd, grade)
				if err != nil {
					return err
				}
				filter.Grade = string(g)
			}
			if success && !failed {
				val := true
				filter.Success = &val
			} else if failed && !success {
				val := false
				filter.Success = &val
			}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.StartTime = &from
			}

			runs, err := database.ListRuns(filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			printRuns(runs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&capturePath, "capture", "c", "", "Filter by capture path")
	cmd.Flags().StringVarP(&grade, "grade", "g", "", "Filter by speed grade")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&success, "success", false, "Show only analyzed runs")
	cmd.Flags().BoolVar(&failed, "failed", false, "Show only runs that could not be analyzed")
	cmd.Flags().DurationVar(&since, "since", 0, "Show runs started within this duration")

	return cmd
}

func printRuns(runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return
	}

	fmt.Printf("%-6s %-30s %-16s %-20s %-7s %-8s\n",
		"ID", "Capture", "Grade", "Start Time", "Fails", "Status")
	fmt.Println(strings.Repeat("-", 92))

	for _, run := range runs {
		fmt.Printf("%-6d %-30s %-16s %-20s %-7d %-8s\n",
			run.ID,
			truncate(run.Capture, 30),
			run.Grade,
			run.StartTime.Format("2006-01-02 15:04:05"),
			run.Fails,
			formatStatus(run),
		)
	}
}

func showCmd() *cobra.Command {
	var failing bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run",
		Long: `Show the details and parameter verdicts of a stored run.

Examples:
  # Show run details
  hummingbird show 42

  # Show only failing parameters
  hummingbird show 42 --failing`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %s", args[0])
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			run, err := database.GetRun(runID)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("run %d not found", runID)
			}
			if err != nil {
				return err
			}

			results, err := database.ListResults(db.ResultFilter{RunID: &runID, Failing: failing})
			if err != nil {
				return fmt.Errorf("failed to get results: %w", err)
			}

			printRun(run, results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&failing, "failing", false, "Show only failing parameters")

	return cmd
}

// printRun prints a run and the given results
func printRun(run *db.Run, results []*db.Result) {
	fmt.Printf("Run ID: %d\n", run.ID)
	fmt.Printf("Capture: %s (%s)\n", run.Capture, run.Format)
	fmt.Printf("Start Time: %s\n", run.StartTime.Format("2006-01-02 15:04:05"))
	if run.EndTime != nil {
		fmt.Printf("Duration: %.2f seconds\n", run.Duration().Seconds())
	}
	fmt.Printf("Status: %s\n", formatStatus(run))

	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
		return
	}

	fmt.Printf("Grade: %s\n", run.Grade)
	fmt.Printf("Voltage: %.2f V\n", run.VS)
	fmt.Printf("f_clk estimate: %s\n", report.FormatValue(db.NewFloat(run.FClk), "Hz"))
	fmt.Printf("Addresses: %s\n", strings.Join(run.Addresses, ", "))
	fmt.Printf("Verdict: %d of %d evaluated parameters failed\n", run.Fails, run.Evaluated)

	if len(run.Options) > 0 {
		fmt.Printf("\nOptions:\n")
		for k, v := range run.Options {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}

	if len(results) > 0 {
		fmt.Printf("\nResults:\n")
		for _, r := range results {
			status := "N/A"
			if r.Evaluated {
				status = "PASS"
				if !r.Pass {
					status = "FAIL"
				}
			}
			fmt.Printf("  %-24s worst %-14s limit %-14s %s\n",
				r.Param, report.FormatValue(r.Worst, r.Unit), report.FormatValue(r.Limit, r.Unit), status)
		}
	}
}

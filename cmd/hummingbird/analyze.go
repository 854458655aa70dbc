package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/pipeline"
	"github.com/googleinterns/cros-hummingbird/pkg/report"
	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var (
		format     string
		sdaPath    string
		voltage    float64
		grade      string
		reportPath string
		noSave     bool
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <capture>",
		Short: "Analyze an I2C capture",
		Long: `Analyze an analog SCL/SDA capture and check it against the I2C limits.

Two-column captures (csv, rigol) are classified automatically: the clock line
is identified and the capture is trimmed around the traffic. Single-channel
traces are given as the SCL capture plus --sda and aligned by start time.

Examples:
  # Analyze an oscilloscope export and store the run
  hummingbird analyze bus.csv

  # Analyze a Rigol export forcing fast mode at 1.8 V
  hummingbird analyze scope.csv --format rigol --grade fast --voltage 1.8

  # Analyze two logic analyzer traces and write an HTML report
  hummingbird analyze SCL.txt --format trace --sda SDA.txt --report bus.html

  # Check a capture without storing it, failing on any violation
  hummingbird analyze bus.csv --no-save --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format)
			if err != nil {
				return err
			}
			g, err := resolveGrade(cmd, grade)
			if err != nil {
				return err
			}
			if noSave && reportPath != "" {
				return fmt.Errorf("--report needs a stored run, drop --no-save")
			}

			req := pipeline.Request{
				Capture: args[0],
				Format:  f,
				SDA:     sdaPath,
				Voltage: resolveVoltage(cmd, voltage),
				Grade:   g,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger("analyzer")

			var out *pipeline.Outcome
			if noSave {
				out, err = pipeline.Analyze(ctx, req, logger)
				if err != nil {
					return err
				}
			} else {
				database, err := openDB()
				if err != nil {
					return err
				}
				defer func() { _ = database.Close() }()

				out, err = pipeline.Run(ctx, database, req, logger)
				if err != nil {
					if out != nil && out.Run != nil {
						fmt.Printf("Stored failed run #%d\n", out.Run.ID)
					}
					return err
				}

				if reportPath != "" {
					if err := writeReport(ctx, database, out, reportPath); err != nil {
						return err
					}
				}
			}

			printReport(req.Capture, out)

			if strict && !out.Report.Passed() {
				return fmt.Errorf("%d of %d evaluated parameters out of spec", out.Report.Fails, out.Report.Evaluated)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Capture format (default from config)")
	cmd.Flags().StringVar(&sdaPath, "sda", "", "SDA capture for single-channel formats")
	cmd.Flags().Float64Var(&voltage, "voltage", 0, "Working voltage override in volts")
	cmd.Flags().StringVarP(&grade, "grade", "g", "auto", "Speed grade (auto, standard, fast, fast-plus, unknown)")
	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "Write a report to this file (.html or .pdf)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the run")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error when any parameter fails")

	return cmd
}

func writeReport(ctx context.Context, database *db.DB, out *pipeline.Outcome, path string) error {
	generator := report.NewGenerator(database)
	wf := &report.Waveform{SCL: out.SCL, SDA: out.SDA, SamplingPeriod: out.Report.SamplingPeriod}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if err := generator.GeneratePDF(ctx, out.Run.ID, wf, path, nil); err != nil {
			return fmt.Errorf("failed to generate PDF report: %w", err)
		}
	} else {
		html, err := generator.GenerateHTML(out.Run.ID, wf)
		if err != nil {
			return fmt.Errorf("failed to generate HTML report: %w", err)
		}
		if err := os.WriteFile(path, []byte(html), 0o600); err != nil {
			return fmt.Errorf("failed to write HTML file: %w", err)
		}
	}

	absPath, _ := filepath.Abs(path)
	fmt.Printf("Report: %s\n", absPath)
	return nil
}

func printReport(capturePath string, out *pipeline.Outcome) {
	r := out.Report

	if out.Run != nil {
		fmt.Printf("Run ID: %d\n", out.Run.ID)
	}
	fmt.Printf("Capture: %s\n", capturePath)
	fmt.Printf("Grade: %s (f_clk estimate %s)\n", r.Grade, report.FormatValue(db.NewFloat(r.FClk), "Hz"))
	fmt.Printf("Voltage: %.2f V\n", r.Thresholds.VS)
	fmt.Printf("Window: samples %d to %d", r.Offset, r.Offset+r.Samples)
	if r.Swapped {
		fmt.Print(" (SCL on channel 2)")
	}
	fmt.Println()

	if len(r.Addresses) > 0 {
		addrs := make([]string, 0, len(r.Addresses))
		for _, a := range r.Addresses {
			addrs = append(addrs, a.Hex()+" "+a.Direction())
		}
		fmt.Printf("Addresses: %s\n", strings.Join(addrs, ", "))
	} else {
		fmt.Println("Addresses: none decoded")
	}

	c := r.Counters
	fmt.Printf("Counters: %d starts, %d restarts, %d stops, SCL %d/%d, SDA %d/%d rising/falling\n",
		c.Starts, c.Restarts, c.Stops, c.SCLRising, c.SCLFalling, c.SDARising, c.SDAFalling)

	fmt.Printf("\n%-24s %-14s %-14s %-14s %-10s %-6s\n", "Parameter", "Worst", "Limit", "Margin", "Margin %", "Result")
	fmt.Println(strings.Repeat("-", 88))
	for _, row := range db.ResultsFromReport(r) {
		result := "N/A"
		if row.Evaluated {
			result = "PASS"
			if !row.Pass {
				result = "FAIL"
			}
		}
		limit, margin := "N/A", "N/A"
		if row.Evaluated {
			limit = report.FormatValue(row.Limit, row.Unit)
			margin = report.FormatValue(row.Margin, row.Unit)
		}
		fmt.Printf("%-24s %-14s %-14s %-14s %-10s %-6s\n",
			row.Param,
			report.FormatValue(row.Worst, row.Unit),
			limit,
			margin,
			report.FormatPercent(row),
			result,
		)
	}

	runts := 0
	for _, occ := range r.Runts {
		runts += len(occ)
	}
	if runts > 0 {
		fmt.Printf("\nRunt pulses: %d\n", runts)
	}

	fmt.Printf("\n%d evaluated, %d failed: %s\n", r.Evaluated, r.Fails, verdict(r))
}

func verdict(r *analyzer.Report) string {
	if r.Passed() {
		return "PASS"
	}
	return "FAIL"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/pipeline"
	"github.com/googleinterns/cros-hummingbird/pkg/report"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var (
		format    string
		output    string
		runID     int64
		latest    bool
		plots     bool
		landscape bool
		pageSize  string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a run report",
		Long: `Generate an HTML or PDF report from a stored run.

With --plots the capture is read again to draw the waveform around every
failing parameter.

Examples:
  # HTML report of the latest run
  hummingbird report --latest

  # PDF report with waveform plots
  hummingbird report --run 42 --format pdf --plots --output run42.pdf

  # Landscape A4 PDF
  hummingbird report --run 10 --format pdf --landscape --page-size A4`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !latest && runID == 0 {
				return fmt.Errorf("either --latest or --run must be specified")
			}
			if format != "html" && format != "pdf" {
				return fmt.Errorf("format must be either 'html' or 'pdf'")
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if latest {
				runs, err := database.ListRuns(db.RunFilter{Limit: 1})
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs found")
				}
				runID = runs[0].ID
			}

			run, err := database.GetRun(runID)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("run %d not found", runID)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wf *report.Waveform
			if plots {
				if wf, err = reloadWaveform(ctx, run); err != nil {
					return fmt.Errorf("failed to reload capture for plots: %w", err)
				}
			}

			if output == "" {
				if err := os.MkdirAll(cfg.ReportDir, 0o755); err != nil {
					return fmt.Errorf("failed to create report directory: %w", err)
				}
				timestamp := time.Now().Format("20060102_150405")
				output = filepath.Join(cfg.ReportDir, fmt.Sprintf("hummingbird_report_%d_%s.%s", runID, timestamp, format))
			}

			generator := report.NewGenerator(database)

			switch format {
			case "html":
				html, err := generator.GenerateHTML(runID, wf)
				if err != nil {
					return fmt.Errorf("failed to generate HTML report: %w", err)
				}
				if err := os.WriteFile(output, []byte(html), 0o600); err != nil {
					return fmt.Errorf("failed to write HTML file: %w", err)
				}

			case "pdf":
				options := report.DefaultPDFOptions()
				options.Landscape = landscape
				if err := applyPageSize(&options, pageSize); err != nil {
					return err
				}
				if err := generator.GeneratePDF(ctx, runID, wf, output, &options); err != nil {
					return fmt.Errorf("failed to generate PDF report: %w", err)
				}
			}

			absPath, _ := filepath.Abs(output)

			fmt.Printf("Generated %s report for run #%d\n", strings.ToUpper(format), runID)
			fmt.Printf("Capture: %s\n", run.Capture)
			fmt.Printf("Date: %s\n", run.StartTime.Format("2006-01-02 15:04:05"))
			fmt.Printf("Status: %s\n", formatStatus(run))
			fmt.Printf("Output: %s\n", absPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "html", "Output format (html or pdf)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default in the report directory)")
	cmd.Flags().Int64Var(&runID, "run", 0, "Run ID to report")
	cmd.Flags().BoolVar(&latest, "latest", false, "Use the latest run")
	cmd.Flags().BoolVar(&plots, "plots", false, "Re-read the capture and plot failing parameters")
	cmd.Flags().BoolVar(&landscape, "landscape", false, "Generate PDF in landscape mode")
	cmd.Flags().StringVar(&pageSize, "page-size", "LETTER", "PDF page size (A3, A4, LETTER, LEGAL)")

	return cmd
}

func applyPageSize(options *report.PDFOptions, pageSize string) error {
	switch strings.ToUpper(pageSize) {
	case "", "LETTER":
	case "A4":
		options.PaperWidth = 8.27
		options.PaperHeight = 11.69
	case "A3":
		options.PaperWidth = 11.69
		options.PaperHeight = 16.54
	case "LEGAL":
		options.PaperWidth = 8.5
		options.PaperHeight = 14.0
	default:
		return fmt.Errorf("unsupported page size: %s", pageSize)
	}
	return nil
}

// reloadWaveform analyzes the run's capture again with its stored options to
// recover the samples its indices refer to
func reloadWaveform(ctx context.Context, run *db.Run) (*report.Waveform, error) {
	req, err := pipeline.FromOptions(run.Capture, run.Format, run.Options)
	if err != nil {
		return nil, err
	}
	out, err := pipeline.Analyze(ctx, req, newLogger("analyzer"))
	if err != nil {
		return nil, err
	}
	if out.Report.Offset != run.Offset {
		return nil, fmt.Errorf("capture changed since run %d was stored", run.ID)
	}
	return &report.Waveform{SCL: out.SCL, SDA: out.SDA, SamplingPeriod: out.Report.SamplingPeriod}, nil
}

package db

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var csvHeaders = []string{
	"Run ID", "Capture", "Grade", "Start Time", "Duration (s)", "Success",
	"Param", "Unit", "Max", "Min", "Worst", "Limit", "Margin", "Margin (%)",
	"Evaluated", "Pass", "Addresses",
}

// RunExport is the JSON layout of one exported run
type RunExport struct {
	Run     *Run      `json:"run"`
	Results []*Result `json:"results"`
	Runts   []*Runt   `json:"runts"`
}

// ExportCSV exports the results of one run to CSV format
func (db *DB) ExportCSV(w io.Writer, runID int64) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	return db.exportCSV(w, []*Run{run})
}

// ExportAllCSV exports all runs and results to CSV format
func (db *DB) ExportAllCSV(w io.Writer) error {
	runs, err := db.ListRuns(RunFilter{})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return db.exportCSV(w, runs)
}

func (db *DB) exportCSV(w io.Writer, runs []*Run) error {
	csvWriter := csv.NewWriter(w)

	if err := csvWriter.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, run := range runs {
		results, err := db.GetResults(run.ID)
		if err != nil {
			return fmt.Errorf("failed to get results for run %d: %w", run.ID, err)
		}

		for _, result := range results {
			row := []string{
				strconv.FormatInt(run.ID, 10),
				run.Capture,
				run.Grade,
				run.StartTime.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%.3f", run.Duration().Seconds()),
				strconv.FormatBool(run.Success),
				result.Param,
				result.Unit,
				result.Max.String(),
				result.Min.String(),
				result.Worst.String(),
				result.Limit.String(),
				result.Margin.String(),
				result.MarginPercent.String(),
				strconv.FormatBool(result.Evaluated),
				strconv.FormatBool(result.Pass),
				strings.Join(run.Addresses, " "),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Load gathers a run with its results and runts
func (db *DB) Load(runID int64) (*RunExport, error) {
	run, err := db.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	results, err := db.GetResults(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	runts, err := db.GetRunts(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get runts: %w", err)
	}

	return &RunExport{Run: run, Results: results, Runts: runts}, nil
}

// ExportJSON exports one run to JSON format
func (db *DB) ExportJSON(w io.Writer, runID int64) error {
	export, err := db.Load(runID)
	if err != nil {
		return err
	}
	return encodeJSON(w, export)
}

// ExportAllJSON exports all runs to JSON format as an array
func (db *DB) ExportAllJSON(w io.Writer) error {
	runs, err := db.ListRuns(RunFilter{})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	exports := make([]*RunExport, 0, len(runs))
	for _, run := range runs {
		export, err := db.Load(run.ID)
		if err != nil {
			return err
		}
		exports = append(exports, export)
	}
	return encodeJSON(w, exports)
}

func encodeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Package pipeline loads a capture, analyzes it and records the run
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/classify"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
)

// Request describes one analysis
type Request struct {
	// Capture is the capture file; with the trace format it holds SCL
	Capture string
	// Format names the capture source
	Format string
	// SDA is the SDA trace file, used with single-channel formats
	SDA     string
	Voltage float64
	Grade   spec.Grade
}

// Outcome is the analysed capture window and its report
type Outcome struct {
	Report *analyzer.Report
	// Run is the stored run, nil when nothing was saved
	Run *db.Run
	// SCL and SDA are the samples the report indexes into
	SCL []float64
	SDA []float64
}

// Options encodes the request for storage with a run or a schedule
func (r Request) Options() db.JSONData {
	opts := db.JSONData{}
	if r.SDA != "" {
		opts["sda"] = r.SDA
	}
	if r.Voltage > 0 {
		opts["voltage"] = r.Voltage
	}
	if r.Grade != "" {
		opts["grade"] = string(r.Grade)
	}
	return opts
}

// FromOptions rebuilds a request from stored options
func FromOptions(path, format string, opts db.JSONData) (Request, error) {
	req := Request{Capture: path, Format: format}
	if v, ok := opts["sda"].(string); ok {
		req.SDA = v
	}
	if v, ok := opts["voltage"].(float64); ok {
		req.Voltage = v
	}
	if v, ok := opts["grade"].(string); ok {
		grade, err := spec.ParseGrade(v)
		if err != nil {
			return req, err
		}
		req.Grade = grade
	}
	return req, nil
}

// Validate checks the request before any file is read
func (r Request) Validate() error {
	if r.Capture == "" {
		return fmt.Errorf("capture path is required")
	}
	source, err := capture.Get(r.Format)
	if err != nil {
		return err
	}
	if single(source) && r.SDA == "" {
		return fmt.Errorf("format %q carries one channel, an SDA capture is required", r.Format)
	}
	if r.Voltage < 0 {
		return fmt.Errorf("voltage must not be negative")
	}
	return nil
}

func single(source capture.Source) bool {
	if ext, ok := source.(interface{ Info() capture.SourceInfo }); ok {
		return ext.Info().Channels == 1
	}
	return false
}

// swapped reports whether two traces were given in the wrong order, judging
// each line on its own by the regularity of its periods
func swapped(scl, sda []float64, samplingPeriod, voltage float64) bool {
	vs := voltage
	if vs <= 0 {
		vs = threshold.SnapToRail(threshold.Peak(scl, samplingPeriod))
	}
	if vs <= 0 {
		return false
	}
	th := threshold.ForVoltage(vs)
	return classify.Single(scl, th, samplingPeriod).Role == classify.SDA &&
		classify.Single(sda, th, samplingPeriod).Role == classify.SCL
}

// Analyze loads and analyzes the capture without storing anything
func Analyze(ctx context.Context, req Request, logger *log.Logger) (*Outcome, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	source, _ := capture.Get(req.Format)
	opts := analyzer.Options{Voltage: req.Voltage, Grade: req.Grade, Logger: logger}

	if single(source) {
		scl, err := source.Load(ctx, req.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", req.Capture, err)
		}
		sda, err := source.Load(ctx, req.SDA)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", req.SDA, err)
		}

		aligned, err := capture.Align(scl, sda)
		if err != nil {
			return nil, fmt.Errorf("failed to align captures: %w", err)
		}
		if aligned.Shift != 0 {
			logger.Printf("aligned captures by %d samples", aligned.Shift)
		}

		sclData, sdaData := aligned.First, aligned.Second
		if swapped(sclData, sdaData, aligned.SamplingPeriod, req.Voltage) {
			logger.Printf("%s looks like SDA and %s like SCL, swapping", req.Capture, req.SDA)
			sclData, sdaData = sdaData, sclData
		}

		report, err := analyzer.Analyze(sclData, sdaData, aligned.SamplingPeriod, opts)
		if err != nil {
			return nil, err
		}
		return &Outcome{Report: report, SCL: sclData, SDA: sdaData}, nil
	}

	c, err := source.Load(ctx, req.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.Capture, err)
	}
	ch1, err := c.Channel(0)
	if err != nil {
		return nil, err
	}
	ch2, err := c.Channel(1)
	if err != nil {
		return nil, err
	}
	logger.Printf("loaded %s: %d samples of %v at %g s", c.Name, c.Len(), c.Channels, c.SamplingPeriod)

	report, err := analyzer.AnalyzeCapture(ch1, ch2, c.SamplingPeriod, opts)
	if err != nil {
		return nil, err
	}

	scl, sda := ch1, ch2
	if report.Swapped {
		scl, sda = ch2, ch1
	}
	end := report.Offset + report.Samples
	return &Outcome{
		Report: report,
		SCL:    scl[report.Offset:end],
		SDA:    sda[report.Offset:end],
	}, nil
}

// Run analyzes the capture and records the run in database, including
// failed analyses
func Run(ctx context.Context, database *db.DB, req Request, logger *log.Logger) (*Outcome, error) {
	run, err := database.CreateRun(req.Capture, req.Format, req.Options())
	if err != nil {
		return nil, err
	}

	out, analyzeErr := Analyze(ctx, req, logger)
	var report *analyzer.Report
	if out != nil {
		report = out.Report
	}
	if err := database.SaveReport(run, report, analyzeErr); err != nil {
		return nil, fmt.Errorf("failed to save run %d: %w", run.ID, err)
	}
	if analyzeErr != nil {
		return &Outcome{Run: run}, analyzeErr
	}

	out.Run = run
	return out, nil
}

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/spf13/cobra"
)

// openDB opens the run database named by the configuration
func openDB() (*db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// newLogger logs to stderr with --verbose and discards otherwise
func newLogger(prefix string) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
}

// resolveGrade prefers an explicit flag over the configured grade
func resolveGrade(cmd *cobra.Command, flag string) (spec.Grade, error) {
	if cmd.Flags().Changed("grade") {
		return spec.ParseGrade(flag)
	}
	return cfg.ParsedGrade(), nil
}

// resolveVoltage prefers an explicit flag over the configured voltage
func resolveVoltage(cmd *cobra.Command, flag float64) float64 {
	if cmd.Flags().Changed("voltage") {
		return flag
	}
	return cfg.Voltage
}

// resolveFormat prefers an explicit flag over the configured format
func resolveFormat(flag string) (string, error) {
	if flag == "" {
		flag = cfg.Format
	}
	if _, err := capture.Get(flag); err != nil {
		return "", fmt.Errorf("%w (available: %s)", err, strings.Join(capture.List(), ", "))
	}
	return flag, nil
}

// createOutput returns stdout for an empty path
func createOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	out, err := os.Create(path) // #nosec G304 -- user-specified output file path from command line flag
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return out, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func formatStatus(run *db.Run) string {
	return strings.ToUpper(string(run.GetStatus()))
}

// Package config loads the hummingbird YAML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"gopkg.in/yaml.v3"
)

// EnvDBPath overrides the database path from the environment
const EnvDBPath = "HUMMINGBIRD_DB_PATH"

// Config holds defaults for the command line
type Config struct {
	// DBPath is the SQLite run store
	DBPath string `yaml:"db_path"`
	// ReportDir receives generated reports
	ReportDir string `yaml:"report_dir"`
	// Format is the capture source used when none is given
	Format string `yaml:"format"`
	// Voltage overrides the detected working voltage when positive
	Voltage float64 `yaml:"voltage"`
	// Grade overrides the detected speed grade; empty or "auto" detects it
	Grade string `yaml:"grade"`
}

// Dir returns the per-user configuration directory, ~/.hummingbird
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".hummingbird")
}

// DefaultPath is the configuration file read when none is given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath:    filepath.Join(Dir(), "hummingbird.db"),
		ReportDir: "reports",
		Format:    "csv",
		Grade:     "auto",
	}
}

// Load reads the configuration at path. A missing file yields the defaults
// The database path from the environment wins over the file
func Load(path string) (*Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(&c)
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks the format, grade and voltage
func (c *Config) Validate() error {
	if _, err := capture.Get(c.Format); err != nil {
		return err
	}
	if _, err := spec.ParseGrade(c.Grade); err != nil {
		return err
	}
	if c.Voltage < 0 {
		return fmt.Errorf("voltage must not be negative, got %g", c.Voltage)
	}
	return nil
}

// ParsedGrade returns the grade override, empty for detection
func (c *Config) ParsedGrade() spec.Grade {
	g, _ := spec.ParseGrade(c.Grade)
	return g
}

// Save writes the configuration as YAML, creating its directory
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.ReportDir == "" {
		c.ReportDir = d.ReportDir
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Grade == "" {
		c.Grade = d.Grade
	}
}

package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Run represents one analysis of a capture
type Run struct {
	ID             int64      `json:"id"`
	Capture        string     `json:"capture"`
	Format         string     `json:"format"`
	Grade          string     `json:"grade"`
	VS             float64    `json:"vs"`
	SamplingPeriod float64    `json:"sampling_period"`
	FClk           float64    `json:"f_clk"`
	Offset         int        `json:"offset"`
	Swapped        bool       `json:"swapped"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Success        bool       `json:"success"`
	Fails          int        `json:"fails"`
	Evaluated      int        `json:"evaluated"`
	Error          string     `json:"error,omitempty"`
	Addresses      StringList `json:"addresses"`
	Counters       JSONData   `json:"counters"`
	Options        JSONData   `json:"options"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Result represents the measured range and verdict of one parameter
type Result struct {
	ID            int64     `json:"id"`
	RunID         int64     `json:"run_id"`
	Param         string    `json:"param"`
	Unit          string    `json:"unit"`
	Max           Float     `json:"max"`
	Min           Float     `json:"min"`
	Worst         Float     `json:"worst"`
	WorstIndex    Float     `json:"worst_index"`
	Width         Float     `json:"width"`
	Limit         Float     `json:"limit"`
	Margin        Float     `json:"margin"`
	MarginPercent Float     `json:"margin_percent"`
	Pass          bool      `json:"pass"`
	Evaluated     bool      `json:"evaluated"`
	CreatedAt     time.Time `json:"created_at"`
}

// Runt is a pulse that crossed one threshold but not the other
type Runt struct {
	ID      int64   `json:"id"`
	RunID   int64   `json:"run_id"`
	Channel string  `json:"channel"`
	Index   float64 `json:"index"`
	Width   float64 `json:"width"`
}

// Float is a nullable REAL. Non-finite values are stored and encoded as null
type Float struct {
	sql.NullFloat64
}

// NewFloat wraps v, treating NaN and infinities as missing
func NewFloat(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return Float{sql.NullFloat64{Float64: v, Valid: true}}
}

// MarshalJSON implements json.Marshaler
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Float64)
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = NewFloat(v)
	return nil
}

// String formats the value for CSV output, empty when missing
func (f Float) String() string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'g', -1, 64)
}

// JSONData is a custom type for storing JSON in SQLite
type JSONData map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	data, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan into JSONData: %w", err)
	}
	return json.Unmarshal(data, j)
}

// StringList stores a list of strings as a JSON array
type StringList []string

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	data, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan into StringList: %w", err)
	}
	return json.Unmarshal(data, (*[]string)(l))
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// RunStatus represents the status of an analysis run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusPass    RunStatus = "pass"
	RunStatusFail    RunStatus = "fail"
	RunStatusError   RunStatus = "error"
)

// GetStatus returns the status of a run
func (r *Run) GetStatus() RunStatus {
	switch {
	case r.EndTime == nil:
		return RunStatusRunning
	case !r.Success:
		return RunStatusError
	case r.Fails > 0:
		return RunStatusFail
	default:
		return RunStatusPass
	}
}

// Duration returns the duration of the run
func (r *Run) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// RunFilter represents filters for querying runs
type RunFilter struct {
	Capture   string
	Grade     string
	StartTime *time.Time
	EndTime   *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

// ResultFilter represents filters for querying results
type ResultFilter struct {
	RunID *int64
	Param string
	// Failing selects evaluated results that did not pass
	Failing bool
	Limit   int
	Offset  int
}

// ExportFormat represents the format for exporting data
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

package capture

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

func init() {
	Register(&CSVSource{})
	Register(&RigolSource{})
}

// checkEvery is how many rows are read between context checks
const checkEvery = 4096

// CSVSource reads two-channel captures with a header row followed by
// time, CH1, CH2 columns
type CSVSource struct{}

// Name returns the source name
func (s *CSVSource) Name() string {
	return "csv"
}

// Description returns the source description
func (s *CSVSource) Description() string {
	return "Two-channel CSV with a header row and time [s], CH1 [V], CH2 [V] columns"
}

// Info returns source metadata
func (s *CSVSource) Info() SourceInfo {
	return SourceInfo{Name: s.Name(), Description: s.Description(), Channels: 2}
}

// Load reads a capture from path
func (s *CSVSource) Load(ctx context.Context, path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("expected time and two channel columns, got %d columns", len(header))
	}

	data, rows, err := readRows(ctx, reader, 2, 3)
	if err != nil {
		return nil, err
	}
	if rows < 2 {
		return nil, fmt.Errorf("capture needs at least two samples, got %d", rows)
	}

	m := mat.NewDense(rows, 3, data)
	period := m.At(1, 0) - m.At(0, 0)
	if period <= 0 {
		return nil, fmt.Errorf("invalid sampling period %g s from the time column", period)
	}

	return &Capture{
		Name:           filepath.Base(path),
		Source:         s.Name(),
		SamplingPeriod: period,
		Channels:       []string{header[1], header[2]},
		Samples:        mat.DenseCopyOf(m.Slice(0, rows, 1, 3)),
	}, nil
}

// RigolSource reads the CSV export of Rigol DS oscilloscopes
type RigolSource struct{}

// Name returns the source name
func (s *RigolSource) Name() string {
	return "rigol"
}

// Description returns the source description
func (s *RigolSource) Description() string {
	return "Rigol oscilloscope CSV: channel names, then the time increment, then indexed samples"
}

// Info returns source metadata
func (s *RigolSource) Info() SourceInfo {
	return SourceInfo{Name: s.Name(), Description: s.Description(), Channels: 2}
}

// Load reads a capture from path
func (s *RigolSource) Load(ctx context.Context, path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	names, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read channel names: %w", err)
	}
	if len(names) < 3 {
		return nil, fmt.Errorf("expected an index and two channel columns, got %d columns", len(names))
	}

	units, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read time increment: %w", err)
	}
	increment, err := strconv.ParseFloat(units[len(units)-1], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time increment %q: %w", units[len(units)-1], err)
	}
	if increment <= 0 {
		return nil, fmt.Errorf("invalid time increment %g s", increment)
	}

	data, rows, err := readRows(ctx, reader, 3, 3)
	if err != nil {
		return nil, err
	}
	if rows < 2 {
		return nil, fmt.Errorf("capture needs at least two samples, got %d", rows)
	}

	m := mat.NewDense(rows, 3, data)
	return &Capture{
		Name:           filepath.Base(path),
		Source:         s.Name(),
		SamplingPeriod: increment,
		Channels:       []string{names[1], names[2]},
		Samples:        mat.DenseCopyOf(m.Slice(0, rows, 1, 3)),
	}, nil
}

// readRows parses the first cols fields of every remaining record into a
// row-major slice. firstRow is the file line of the first record, for errors
func readRows(ctx context.Context, reader *csv.Reader, firstRow, cols int) ([]float64, int, error) {
	var data []float64
	rows := 0
	for {
		if rows%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read row %d: %w", firstRow+rows, err)
		}
		if len(record) < cols {
			return nil, 0, fmt.Errorf("row %d has %d columns, want %d", firstRow+rows, len(record), cols)
		}

		for c := 0; c < cols; c++ {
			v, err := strconv.ParseFloat(record[c], 64)
			if err != nil {
				return nil, 0, fmt.Errorf("row %d column %d: %w", firstRow+rows, c+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	return data, rows, nil
}

// WriteCSV writes channels in the format read by CSVSource
func WriteCSV(w io.Writer, samplingPeriod float64, names [2]string, ch1, ch2 []float64) error {
	if len(ch1) != len(ch2) {
		return fmt.Errorf("channel length mismatch: %d and %d", len(ch1), len(ch2))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Time [s]", names[0], names[1]}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, 3)
	for i := range ch1 {
		record[0] = strconv.FormatFloat(float64(i)*samplingPeriod, 'g', -1, 64)
		record[1] = strconv.FormatFloat(ch1[i], 'f', 6, 64)
		record[2] = strconv.FormatFloat(ch2[i], 'f', 6, 64)
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write sample %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

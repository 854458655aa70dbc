package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

func init() {
	Register(&TraceSource{})
}

// traceLayout is the wall-clock part of a trace start time. It is followed
// by a tab and twelve digits of sub-second time down to picoseconds
const traceLayout = "2006-01-02 15:04:05"

// TraceSource reads one channel exported by a logic analyzer, with the start
// time on the first line, the sampling period on the second and one voltage
// per line after that
type TraceSource struct{}

// Name returns the source name
func (s *TraceSource) Name() string {
	return "trace"
}

// Description returns the source description
func (s *TraceSource) Description() string {
	return "Single-channel trace with start time and sampling period header, aligned with a second trace"
}

// Info returns source metadata
func (s *TraceSource) Info() SourceInfo {
	return SourceInfo{Name: s.Name(), Description: s.Description(), Channels: 1}
}

// Load reads a capture from path
func (s *TraceSource) Load(ctx context.Context, path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	next := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		line++
		return strings.TrimSpace(scanner.Text()), true
	}

	head, ok := next()
	if !ok {
		return nil, fmt.Errorf("missing start time line")
	}
	start, err := ParseTraceTime(head)
	if err != nil {
		return nil, err
	}

	head, ok = next()
	if !ok {
		return nil, fmt.Errorf("missing sampling period line")
	}
	period, err := strconv.ParseFloat(head, 64)
	if err != nil || period <= 0 {
		return nil, fmt.Errorf("invalid sampling period %q", head)
	}

	var data []float64
	for {
		if len(data)%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text, ok := next()
		if !ok {
			break
		}
		if text == "" {
			continue
		}
		field, _, _ := strings.Cut(text, ",")
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		data = append(data, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("capture needs at least two samples, got %d", len(data))
	}

	name := filepath.Base(path)
	return &Capture{
		Name:           name,
		Source:         s.Name(),
		Start:          start,
		SamplingPeriod: period,
		Channels:       []string{strings.TrimSuffix(name, filepath.Ext(name))},
		Samples:        mat.NewDense(len(data), 1, data),
	}, nil
}

// ParseTraceTime parses a trace start time. Digits past the nanosecond are
// dropped
func ParseTraceTime(s string) (time.Time, error) {
	wall, sub, ok := strings.Cut(s, "\t")
	if !ok {
		return time.Time{}, fmt.Errorf("start time %q has no sub-second part", s)
	}

	t, err := time.Parse(traceLayout, strings.TrimSpace(wall))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse start time: %w", err)
	}

	sub = strings.TrimSpace(sub)
	if len(sub) < 9 {
		return time.Time{}, fmt.Errorf("sub-second part %q is shorter than nine digits", sub)
	}
	ns, err := strconv.Atoi(sub[:9])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse sub-second part: %w", err)
	}
	return t.Add(time.Duration(ns)), nil
}

// FormatTraceTime formats t the way ParseTraceTime reads it
func FormatTraceTime(t time.Time) string {
	return fmt.Sprintf("%s\t%09d000", t.Format(traceLayout), t.Nanosecond())
}

// WriteTrace writes one channel in the format read by TraceSource
func WriteTrace(w io.Writer, start time.Time, samplingPeriod float64, data []float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, FormatTraceTime(start))
	fmt.Fprintln(bw, strconv.FormatFloat(samplingPeriod, 'g', -1, 64))
	for _, v := range data {
		bw.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Package analyzer runs the full conformance pass over an SCL/SDA capture
package analyzer

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/classify"
	"github.com/googleinterns/cros-hummingbird/pkg/decoder"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
)

var (
	// ErrMisaligned means the two lines do not share length or sampling
	ErrMisaligned = decoder.ErrMisaligned

	// ErrNoVoltage means no working voltage could be derived from the capture
	ErrNoVoltage = errors.New("unable to determine the working voltage")
)

// Options tune a single analysis
type Options struct {
	// Voltage overrides the calibrated working voltage when positive
	Voltage float64
	// Grade overrides speed grade detection when not empty
	Grade  spec.Grade
	Logger *log.Logger
}

// Report is the outcome of one analysis
type Report struct {
	Grade          spec.Grade    `json:"grade"`
	Thresholds     threshold.Set `json:"thresholds"`
	SamplingPeriod float64       `json:"sampling_period"`
	// FClk is the clock frequency estimated before decoding, 0 if unknown
	FClk float64 `json:"f_clk_estimate"`

	Values    map[measure.Param]spec.Value             `json:"-"`
	Results   map[measure.Param]spec.Result            `json:"-"`
	Fails     int                                      `json:"fails"`
	Evaluated int                                      `json:"evaluated"`
	Addresses []decoder.Address                        `json:"addresses"`
	Counters  decoder.Counters                         `json:"counters"`
	Runts     map[measure.Channel][]measure.Occurrence `json:"runts"`

	// Offset is the first sample of the analysed window within the input
	Offset int `json:"offset"`
	// Samples is the length of the analysed window
	Samples int `json:"samples"`
	// Swapped is set when the first column of the capture carried SDA
	Swapped  bool          `json:"swapped"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether every evaluated parameter met its limit
func (r *Report) Passed() bool { return r.Fails == 0 }

type analysis struct {
	opts   Options
	logger *log.Logger
}

func newAnalysis(opts Options) *analysis {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &analysis{opts: opts, logger: logger}
}

// Analyze checks a capture whose SCL and SDA lines are known
func Analyze(scl, sda []float64, samplingPeriod float64, opts Options) (*Report, error) {
	if err := validate(scl, sda, samplingPeriod); err != nil {
		return nil, err
	}

	a := newAnalysis(opts)
	th, err := a.thresholds(samplingPeriod, scl)
	if err != nil {
		return nil, err
	}

	fclk, err := classify.Clock(scl, th, samplingPeriod)
	if err != nil {
		if opts.Grade == "" {
			return nil, fmt.Errorf("failed to estimate clock frequency: %w", err)
		}
		a.logger.Printf("clock estimate unavailable: %v", err)
	}

	return a.run(scl, sda, samplingPeriod, th, fclk)
}

// AnalyzeCapture checks a two-column capture whose channel roles are unknown
// The clock line is identified and the capture is trimmed around the traffic
func AnalyzeCapture(ch1, ch2 []float64, samplingPeriod float64, opts Options) (*Report, error) {
	if err := validate(ch1, ch2, samplingPeriod); err != nil {
		return nil, err
	}

	a := newAnalysis(opts)
	th, err := a.thresholds(samplingPeriod, ch1)
	if err != nil {
		return nil, err
	}

	d, err := classify.Both(ch1, ch2, th, samplingPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to classify channels: %w", err)
	}

	scl, sda := ch1, ch2
	if d.Swapped {
		scl, sda = ch2, ch1
		a.logger.Printf("channel 2 carries SCL")
	}
	if d.End-d.Start < 2 {
		return nil, fmt.Errorf("%w: empty decode window [%d, %d)", ErrMisaligned, d.Start, d.End)
	}

	r, err := a.run(scl[d.Start:d.End], sda[d.Start:d.End], samplingPeriod, th, d.FClk)
	if err != nil {
		return nil, err
	}
	r.Offset = d.Start
	r.Swapped = d.Swapped
	return r, nil
}

func validate(a, b []float64, samplingPeriod float64) error {
	switch {
	case len(a) != len(b):
		return fmt.Errorf("%w: %d and %d samples", ErrMisaligned, len(a), len(b))
	case len(a) < 2:
		return fmt.Errorf("%w: need at least two samples", ErrMisaligned)
	case samplingPeriod <= 0 || math.IsNaN(samplingPeriod) || math.IsInf(samplingPeriod, 0):
		return fmt.Errorf("%w: sampling period %g", ErrMisaligned, samplingPeriod)
	}
	return nil
}

// thresholds uses the voltage override or calibrates from one line, the SCL
// line when roles are known and the first column otherwise
func (a *analysis) thresholds(samplingPeriod float64, data []float64) (threshold.Set, error) {
	if a.opts.Voltage > 0 {
		return threshold.ForVoltage(a.opts.Voltage), nil
	}

	peak := threshold.Peak(data, samplingPeriod)
	vs := threshold.SnapToRail(peak)
	if vs <= 0 {
		return threshold.Set{}, fmt.Errorf("%w: peak %.3f V", ErrNoVoltage, peak)
	}

	a.logger.Printf("working voltage %.2f V (peak %.3f V)", vs, peak)
	return threshold.ForVoltage(vs), nil
}

func (a *analysis) run(scl, sda []float64, samplingPeriod float64, th threshold.Set, fclk float64) (*Report, error) {
	start := time.Now()

	grade := a.opts.Grade
	if grade == "" {
		grade = spec.GradeFor(fclk)
	}
	a.logger.Printf("analyzing %d samples at %g s, %s", len(scl), samplingPeriod, grade)

	out, err := decoder.Decode(th, samplingPeriod, scl, sda)
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	if out.Counters.Starts == 0 {
		a.logger.Printf("no transaction found, protocol timing is not measured")
	}

	e := spec.Evaluate(out.Measurements, grade, th, samplingPeriod)

	r := &Report{
		Grade:          grade,
		Thresholds:     th,
		SamplingPeriod: samplingPeriod,
		FClk:           fclk,
		Values:         e.Values,
		Results:        e.Results,
		Fails:          e.Fails,
		Evaluated:      e.Evaluated(),
		Addresses:      unique(out.Addresses),
		Counters:       out.Counters,
		Runts:          e.Runts,
		Samples:        len(scl),
		Duration:       time.Since(start),
	}

	a.logger.Printf("%d of %d parameters failed, %d addresses, %d runts",
		r.Fails, r.Evaluated, len(r.Addresses), len(r.Runts[measure.SCL])+len(r.Runts[measure.SDA]))
	return r, nil
}

// unique keeps the first occurrence of each address and direction
func unique(addrs []decoder.Address) []decoder.Address {
	seen := make(map[string]bool, len(addrs))
	out := make([]decoder.Address, 0, len(addrs))
	for _, a := range addrs {
		key := a.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

package capture

import (
	"fmt"
	"math"
)

// rateTolerance is the relative difference under which two sampling periods
// are treated as equal
const rateTolerance = 1e-9

// Aligned is a pair of single-channel captures cut to a common time base
type Aligned struct {
	First          []float64
	Second         []float64
	SamplingPeriod float64
	// Shift is the number of samples dropped from the head of the capture
	// that started earlier; it is negative when the second one did
	Shift int
}

// Align cuts two single-channel captures with start times to the samples
// they share. The head of the earlier capture is dropped by the start
// difference rounded to whole samples and both are trimmed to equal length
func Align(a, b *Capture) (*Aligned, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("align needs two captures")
	}
	if math.Abs(a.SamplingPeriod-b.SamplingPeriod) > rateTolerance*math.Max(a.SamplingPeriod, b.SamplingPeriod) {
		return nil, fmt.Errorf("%w: %g s and %g s", ErrRateMismatch, a.SamplingPeriod, b.SamplingPeriod)
	}
	if a.SamplingPeriod <= 0 {
		return nil, fmt.Errorf("invalid sampling period %g s", a.SamplingPeriod)
	}

	first, err := a.Channel(0)
	if err != nil {
		return nil, err
	}
	second, err := b.Channel(0)
	if err != nil {
		return nil, err
	}

	delta := b.Start.Sub(a.Start).Seconds()
	shift := int(math.Round(math.Abs(delta) / a.SamplingPeriod))
	switch {
	case delta > 0:
		first = drop(first, shift)
	case delta < 0:
		second = drop(second, shift)
		shift = -shift
	}

	n := min(len(first), len(second))
	if n < 2 {
		return nil, fmt.Errorf("%w: %d shared samples after a shift of %d", ErrNoOverlap, n, shift)
	}

	return &Aligned{
		First:          first[:n],
		Second:         second[:n],
		SamplingPeriod: a.SamplingPeriod,
		Shift:          shift,
	}, nil
}

func drop(data []float64, n int) []float64 {
	if n >= len(data) {
		return nil
	}
	return data[n:]
}

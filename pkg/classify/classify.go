package classify

import (
	"errors"
	"fmt"

	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
	"golang.org/x/exp/slices"
)

const (
	// Periods is how many cycle periods are collected before deciding
	Periods = 8

	// Outliers is how many of the longest periods are ignored, to tolerate
	// clock stretching
	Outliers = 2

	// Stability is the largest period spread, in percent, of a clock line
	Stability = 20.0

	// leadTrim and tailTrim place the decode window around the traffic
	leadTrim = 0.8
	tailTrim = 0.2
)

var (
	// ErrInsufficientEdges means the capture holds too few clock cycles
	ErrInsufficientEdges = errors.New("not enough clock edges to classify the capture")

	// ErrNoEdges means no transition crossed both thresholds
	ErrNoEdges = errors.New("no edge detected, check the working voltage and the captured waveform")
)

// Role is the function of a captured line
type Role string

const (
	SCL Role = "SCL"
	SDA Role = "SDA"
)

// Result of classifying a single line
type Result struct {
	Role Role
	// FClk is the clock estimate in Hz, set only for SCL
	FClk float64
	// Spread is the period variation in percent
	Spread float64
}

// Dual is the result of classifying a two-channel capture
type Dual struct {
	// Swapped is true when the second column carries SCL
	Swapped bool
	FClk    float64
	// Start and End delimit the decode window in samples
	Start int
	End   int
}

// scanner finds edges at integer sample resolution
type scanner struct {
	th       threshold.Set
	i30, i70 int
	lastLow  int
	lastHigh int
	periods  []int
}

func newScanner(th threshold.Set) *scanner {
	return &scanner{th: th, i30: -1, i70: -1, lastLow: -1, lastHigh: -1}
}

func crosses(v, n, t float64) bool {
	return (v >= t && n < t) || (v <= t && n > t)
}

// step returns true when a falling edge completes at i
func (s *scanner) step(i int, v, n float64) (fell bool) {
	if crosses(v, n, s.th.V30) {
		s.i30 = i
		if s.i70 >= 0 {
			s.i30, s.i70 = -1, -1
			if s.lastLow >= 0 {
				s.periods = append(s.periods, i-s.lastLow)
			}
			s.lastLow = i
			fell = true
		}
	}
	if crosses(v, n, s.th.V70) {
		s.i70 = i
		if s.i30 >= 0 {
			s.i30, s.i70 = -1, -1
			if s.lastHigh >= 0 {
				s.periods = append(s.periods, i-s.lastHigh)
			}
			s.lastHigh = i
		}
	}
	return fell
}

// Single decides whether one line is a clock from the regularity of its
// first few periods
func Single(data []float64, th threshold.Set, samplingPeriod float64) Result {
	s := newScanner(th)
	for i := 1; i < len(data) && len(s.periods) < Periods; i++ {
		s.step(i, data[i-1], data[i])
	}

	if len(s.periods) < Periods {
		return Result{Role: SDA}
	}

	periods := slices.Clone(s.periods)
	slices.Sort(periods)
	periods = periods[:len(periods)-Outliers]
	shortest, longest := float64(periods[0]), float64(periods[len(periods)-1])
	spread := (longest - shortest) / shortest * 100

	if spread < Stability {
		return Result{Role: SCL, FClk: 1 / (shortest * samplingPeriod), Spread: spread}
	}
	return Result{Role: SDA, Spread: spread}
}

// Both classifies a capture whose channel order is unknown. The line with
// more edges early in the capture is the clock
func Both(a, b []float64, th threshold.Set, samplingPeriod float64) (Dual, error) {
	if len(a) != len(b) {
		return Dual{}, fmt.Errorf("channel length mismatch: %d and %d", len(a), len(b))
	}

	sa, sb := newScanner(th), newScanner(th)
	first := -1
	for i := 1; i < len(a); i++ {
		fa := sa.step(i, a[i-1], a[i])
		fb := sb.step(i, b[i-1], b[i])
		if first < 0 && (fa || fb) {
			first = i
		}
		if len(sa.periods) >= Periods || len(sb.periods) >= Periods {
			break
		}
	}
	if first < 0 {
		return Dual{}, ErrNoEdges
	}

	last := lastRisingEdge(a, b, th)
	if last < 0 {
		last = len(a)
	}

	d := Dual{
		Start: int(float64(first) * leadTrim),
		End:   int(float64(last)*leadTrim + float64(len(a))*tailTrim),
	}
	if d.End > len(a) {
		d.End = len(a)
	}

	clock := sa.periods
	if len(sb.periods) >= len(sa.periods) {
		clock = sb.periods
		d.Swapped = true
	}
	if len(clock) < Periods {
		return Dual{}, fmt.Errorf("%w: found %d clock periods, need %d", ErrInsufficientEdges, len(clock), Periods)
	}

	sorted := slices.Clone(clock)
	slices.Sort(sorted)
	d.FClk = 1 / (float64(sorted[0]) * samplingPeriod)
	return d, nil
}

// lastRisingEdge scans backwards for the final 30% to 70% transition on
// either line and returns the index of its 30% crossing
func lastRisingEdge(a, b []float64, th threshold.Set) int {
	sa, sb := newScanner(th), newScanner(th)
	for i := len(a) - 2; i > 0; i-- {
		// in reverse time a rising edge looks like a fall
		if sa.step(i, a[i+1], a[i]) || sb.step(i, b[i+1], b[i]) {
			return i
		}
	}
	return -1
}

// Clock estimates the frequency of a line already known to be SCL from the
// shortest of its first periods
func Clock(data []float64, th threshold.Set, samplingPeriod float64) (float64, error) {
	s := newScanner(th)
	for i := 1; i < len(data) && len(s.periods) < Periods; i++ {
		s.step(i, data[i-1], data[i])
	}
	if len(s.periods) < Periods {
		return 0, fmt.Errorf("%w: found %d clock periods, need %d", ErrInsufficientEdges, len(s.periods), Periods)
	}

	sorted := slices.Clone(s.periods)
	slices.Sort(sorted)
	return 1 / (float64(sorted[0]) * samplingPeriod), nil
}

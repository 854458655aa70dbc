package edge

import (
	"math"

	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
)

// RuntFloor is the narrowest glitch, in seconds, reported as a runt
const RuntFloor = 1e-7

// Level is the logical state of a line
type Level int

const (
	Unknown Level = iota
	Low
	High
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case High:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Mark is an optional fractional sample index
type Mark struct {
	At  float64
	Set bool
}

// At returns a set mark
func At(i float64) Mark { return Mark{At: i, Set: true} }

// Before reports whether m lies before o. An unset mark sits before every
// sample of the capture
func (m Mark) Before(o Mark) bool {
	return m.value() < o.value()
}

func (m Mark) value() float64 {
	if !m.Set {
		return math.Inf(-1)
	}
	return m.At
}

// Kind is the type of an edge event
type Kind int

const (
	// Falling completes a 70% then 30% crossing
	Falling Kind = iota
	// Rising completes a 30% then 70% crossing
	Rising
	// LowEnd is a 30% upward crossing that leaves a LOW segment
	LowEnd
	// HighEnd is a 70% downward crossing that leaves a HIGH segment
	HighEnd
	// Runt is a crossing back to the level just left, wider than RuntFloor
	Runt
)

func (k Kind) String() string {
	switch k {
	case Falling:
		return "falling"
	case Rising:
		return "rising"
	case LowEnd:
		return "low_end"
	case HighEnd:
		return "high_end"
	case Runt:
		return "runt"
	}
	return "unknown"
}

// Event is emitted by a tracker step
type Event struct {
	Kind Kind
	// At is the interpolated crossing index
	At float64
	// Width is the transition time for edges, the segment length for
	// segment ends and the pulse width for runts, in samples
	Width    float64
	HasWidth bool
	// Period is the distance to the previous edge of the same direction
	Period    float64
	HasPeriod bool
	// Median of the voltage samples offered during the finished segment
	Median    float64
	HasMedian bool
}

// Tracker follows one line through threshold crossings
type Tracker struct {
	th        threshold.Set
	runtWidth float64

	i30, i70  Mark
	lowStart  Mark
	lowEnd    Mark
	highStart Mark
	highEnd   Mark
	lastLow   Mark
	lastHigh  Mark
	level     Level

	lowSamples  []float64
	highSamples []float64

	events []Event
}

// NewTracker creates a tracker for a line starting in the given level
func NewTracker(th threshold.Set, samplingPeriod float64, initial Level) *Tracker {
	runt := math.Inf(1)
	if samplingPeriod > 0 {
		runt = RuntFloor / samplingPeriod
	}
	return &Tracker{
		th:        th,
		runtWidth: runt,
		level:     initial,
		events:    make([]Event, 0, 2),
	}
}

// Crossing interpolates where the segment from v (at i-1) to n (at i) meets t
func Crossing(i int, v, n, t float64) float64 {
	return float64(i) - (t-n)/(v-n)
}

// Level returns the current logical level
func (t *Tracker) Level() Level { return t.level }

// LowStart returns the start of the current or last LOW segment
func (t *Tracker) LowStart() Mark { return t.lowStart }

// LowEnd returns the end of the last LOW segment
func (t *Tracker) LowEnd() Mark { return t.lowEnd }

// HighStart returns the start of the current or last HIGH segment
func (t *Tracker) HighStart() Mark { return t.highStart }

// HighEnd returns the end of the last HIGH segment
func (t *Tracker) HighEnd() Mark { return t.highEnd }

// Step advances the tracker over the transition v -> n ending at sample i
// When one step crosses both thresholds they are handled in time order
// The returned slice is reused by the next call
func (t *Tracker) Step(i int, v, n float64) []Event {
	t.events = t.events[:0]

	if n < v {
		t.step70(i, v, n)
		t.step30(i, v, n)
	} else {
		t.step30(i, v, n)
		t.step70(i, v, n)
	}
	return t.events
}

func (t *Tracker) step30(i int, v, n float64) {
	switch {
	case v >= t.th.V30 && n < t.th.V30:
		t.fall30(Crossing(i, v, n, t.th.V30))
	case v <= t.th.V30 && n > t.th.V30:
		t.rise30(Crossing(i, v, n, t.th.V30))
	}
}

func (t *Tracker) step70(i int, v, n float64) {
	switch {
	case v <= t.th.V70 && n > t.th.V70:
		t.rise70(Crossing(i, v, n, t.th.V70))
	case v >= t.th.V70 && n < t.th.V70:
		t.fall70(Crossing(i, v, n, t.th.V70))
	}
}

// Sample offers one voltage reading for the current segment
func (t *Tracker) Sample(v float64) {
	switch t.level {
	case Low:
		t.lowSamples = append(t.lowSamples, v)
	case High:
		t.highSamples = append(t.highSamples, v)
	}
}

func (t *Tracker) fall30(at float64) {
	t.i30 = At(at)
	if t.i70.Set {
		ev := Event{Kind: Falling, At: at, Width: at - t.i70.At, HasWidth: true}
		t.lowStart = t.i30
		if t.lastLow.Set {
			ev.Period = t.lowStart.At - t.lastLow.At
			ev.HasPeriod = true
		}
		t.lastLow = t.lowStart
		t.level = Low
		t.i30, t.i70 = Mark{}, Mark{}
		t.events = append(t.events, ev)
		return
	}

	if t.lowEnd.Set {
		if w := at - t.lowEnd.At; w > t.runtWidth {
			t.events = append(t.events, Event{Kind: Runt, At: at, Width: w, HasWidth: true})
		}
	}
}

func (t *Tracker) rise30(at float64) {
	t.i30 = At(at)
	if t.i70.Set {
		return
	}

	t.lowEnd = t.i30
	ev := Event{Kind: LowEnd, At: at}
	if t.lowStart.Set {
		ev.Width = t.lowEnd.At - t.lowStart.At
		ev.HasWidth = true
	}
	if len(t.lowSamples) > 0 {
		ev.Median = measure.Median(t.lowSamples)
		ev.HasMedian = true
	}
	t.lowSamples = t.lowSamples[:0]
	t.level = Unknown
	t.events = append(t.events, ev)
}

func (t *Tracker) rise70(at float64) {
	t.i70 = At(at)
	if t.i30.Set {
		ev := Event{Kind: Rising, At: at, Width: at - t.i30.At, HasWidth: true}
		t.highStart = t.i70
		if t.lastHigh.Set {
			ev.Period = t.highStart.At - t.lastHigh.At
			ev.HasPeriod = true
		}
		t.lastHigh = t.highStart
		t.level = High
		t.i30, t.i70 = Mark{}, Mark{}
		t.events = append(t.events, ev)
		return
	}

	if t.highEnd.Set {
		if w := at - t.highEnd.At; w > t.runtWidth {
			t.events = append(t.events, Event{Kind: Runt, At: at, Width: w, HasWidth: true})
		}
	}
}

func (t *Tracker) fall70(at float64) {
	t.i70 = At(at)
	if t.i30.Set {
		return
	}

	t.highEnd = t.i70
	ev := Event{Kind: HighEnd, At: at}
	if t.highStart.Set {
		ev.Width = t.highEnd.At - t.highStart.At
		ev.HasWidth = true
	}
	if len(t.highSamples) > 0 {
		ev.Median = measure.Median(t.highSamples)
		ev.HasMedian = true
	}
	t.highSamples = t.highSamples[:0]
	t.level = Unknown
	t.events = append(t.events, ev)
}

package spec

import (
	"math"

	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
	"golang.org/x/exp/slices"
)

// Value is the measured range of a parameter in display units
type Value struct {
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
	Worst float64 `json:"worst"`
}

// Result is the verdict for one evaluated parameter
type Result struct {
	Pass          bool    `json:"pass"`
	Margin        float64 `json:"margin"`
	MarginPercent float64 `json:"margin_percent"`
	Limit         float64 `json:"limit"`
	// WorstIndex locates the worst occurrence in samples
	WorstIndex float64 `json:"worst_index"`
	// Width is the span of the worst occurrence in samples
	Width float64 `json:"width"`
}

// Evaluation holds every value and verdict of a capture
type Evaluation struct {
	Grade   Grade                                    `json:"grade"`
	Limits  Table                                    `json:"-"`
	Values  map[measure.Param]Value                  `json:"-"`
	Results map[measure.Param]Result                 `json:"-"`
	Runts   map[measure.Channel][]measure.Occurrence `json:"runts"`
	// Fails counts evaluated parameters that do not meet their limit
	Fails int `json:"fails"`
}

// Evaluated reports how many parameters received a verdict
func (e *Evaluation) Evaluated() int { return len(e.Results) }

var periodLimits = map[measure.Param]Limit{
	measure.TLow:              Low,
	measure.THigh:             High,
	measure.TSuSta:            SuSta,
	measure.TSuSto:            SuSto,
	measure.TBuf:              Buf,
	measure.THdStaS:           HdSta,
	measure.THdStaSr:          HdSta,
	measure.TSuDatHostRising:  SuDat,
	measure.TSuDatHostFalling: SuDat,
	measure.TSuDatDevRising:   SuDat,
	measure.TSuDatDevFalling:  SuDat,
}

type edgeLimit struct{ max, min Limit }

var edgeLimits = map[measure.Param]edgeLimit{
	measure.TRiseSCL: {RiseMax, RiseMin},
	measure.TRiseSDA: {RiseMax, RiseMin},
	measure.TFallSCL: {FallMax, FallMin},
	measure.TFallSDA: {FallMax, FallMin},
}

var noiseSources = []struct {
	param  measure.Param
	source measure.Param
	high   bool
}{
	{measure.VNHSCL, measure.VHighSCL, true},
	{measure.VNLSCL, measure.VLowSCL, false},
	{measure.VNHSDA, measure.VHighSDA, true},
	{measure.VNLSDA, measure.VLowSDA, false},
}

// Evaluate compares aggregated measurements with the limits of grade
// It does not modify snap
func Evaluate(snap measure.Snapshot, grade Grade, th threshold.Set, samplingPeriod float64) *Evaluation {
	e := &Evaluation{
		Grade:   grade,
		Limits:  For(grade, th.VS),
		Values:  make(map[measure.Param]Value),
		Results: make(map[measure.Param]Result),
		Runts:   make(map[measure.Channel][]measure.Occurrence, len(snap.Runts)),
	}

	e.voltages(snap)
	e.noiseMargins(snap, th)
	if e.Limits.HasTiming() {
		e.clock(snap, samplingPeriod)
		e.edges(snap, samplingPeriod)
		e.holds(snap, samplingPeriod)
		e.periods(snap, samplingPeriod)
	} else {
		e.timingValues(snap, samplingPeriod)
	}

	for ch, list := range snap.Runts {
		e.Runts[ch] = slices.Clone(list)
	}
	for _, r := range e.Results {
		if !r.Pass {
			e.Fails++
		}
	}
	return e
}

func (e *Evaluation) voltages(snap measure.Snapshot) {
	for _, p := range []measure.Param{measure.VHighSCL, measure.VLowSCL, measure.VHighSDA, measure.VLowSDA} {
		x, ok := snap.Get(p)
		if !ok {
			continue
		}

		high := p == measure.VHighSCL || p == measure.VHighSDA
		var worst measure.Occurrence
		var limit, margin float64
		if high {
			worst = x.Min
			limit = e.Limits[VHigh]
			margin = worst.Value - limit
		} else {
			worst = x.Max
			limit = e.Limits[VLow]
			margin = limit - worst.Value
		}

		e.Values[p] = Value{Max: x.Max.Value, Min: x.Min.Value, Worst: worst.Value}
		e.Results[p] = Result{
			Pass:          margin >= 0,
			Margin:        margin,
			MarginPercent: percent(margin, limit),
			Limit:         limit,
			WorstIndex:    worst.Index,
			Width:         worst.Width,
		}
	}
}

func (e *Evaluation) noiseMargins(snap measure.Snapshot, th threshold.Set) {
	if th.VS <= 0 {
		return
	}
	for _, n := range noiseSources {
		x, ok := snap.Get(n.source)
		if !ok {
			continue
		}

		var max, min float64
		var worst measure.Occurrence
		limit := e.Limits[VNL]
		if n.high {
			max = (x.Max.Value - th.V70) / th.VS
			min = (x.Min.Value - th.V70) / th.VS
			worst = x.Min
			limit = e.Limits[VNH]
		} else {
			max = (th.V30 - x.Min.Value) / th.VS
			min = (th.V30 - x.Max.Value) / th.VS
			worst = x.Max
		}

		margin := min - limit
		e.Values[n.param] = Value{Max: max, Min: min, Worst: min}
		e.Results[n.param] = Result{
			Pass:          min >= limit,
			Margin:        margin,
			MarginPercent: percent(margin, limit),
			Limit:         limit,
			WorstIndex:    worst.Index,
			Width:         worst.Width,
		}
	}
}

// clock derives f_clk from the clock period. A shorter period is a faster
// clock, so the limit is a ceiling on the highest frequency
func (e *Evaluation) clock(snap measure.Snapshot, samplingPeriod float64) {
	x, ok := snap.Get(measure.TClk)
	if !ok {
		return
	}
	e.Values[measure.TClk] = Value{
		Max:   x.Max.Value * samplingPeriod,
		Min:   x.Min.Value * samplingPeriod,
		Worst: x.Min.Value * samplingPeriod,
	}

	fmax := frequency(x.Min.Value, samplingPeriod)
	fmin := frequency(x.Max.Value, samplingPeriod)
	limit := e.Limits[FClk]
	margin := limit - fmax

	e.Values[measure.FClk] = Value{Max: fmax, Min: fmin, Worst: fmax}
	e.Results[measure.FClk] = Result{
		Pass:          fmax <= limit,
		Margin:        margin,
		MarginPercent: percent(margin, limit),
		Limit:         limit,
		WorstIndex:    x.Min.Index,
		Width:         x.Min.Value,
	}
}

func frequency(samples, samplingPeriod float64) float64 {
	if samples <= 0 {
		return math.Inf(1)
	}
	return math.Trunc(1 / (samples * samplingPeriod))
}

func (e *Evaluation) edges(snap measure.Snapshot, samplingPeriod float64) {
	for p, l := range edgeLimits {
		x, ok := snap.Get(p)
		if !ok {
			continue
		}

		upper, ok := e.Limits.Get(l.max)
		if !ok {
			upper = math.Inf(1)
		}
		lower, ok := e.Limits.Get(l.min)
		if !ok {
			lower = math.Inf(-1)
		}
		e.window(p, x, samplingPeriod, lower, upper)
	}
}

// holds evaluates data hold times, which must not be negative and, where the
// grade defines one, must stay under a ceiling
func (e *Evaluation) holds(snap measure.Snapshot, samplingPeriod float64) {
	upper, ok := e.Limits.Get(HdDat)
	if !ok {
		upper = math.Inf(1)
	}
	for _, p := range []measure.Param{
		measure.THdDatHostRising, measure.THdDatHostFalling,
		measure.THdDatDevRising, measure.THdDatDevFalling,
	} {
		x, ok := snap.Get(p)
		if !ok {
			continue
		}
		e.window(p, x, samplingPeriod, 0, upper)
	}
}

// window evaluates a parameter bounded on both sides and reports whichever
// side is closer
func (e *Evaluation) window(p measure.Param, x measure.Extrema, samplingPeriod, lower, upper float64) {
	max := x.Max.Value * samplingPeriod
	min := x.Min.Value * samplingPeriod

	r := Result{Pass: max <= upper && min >= lower}
	v := Value{Max: max, Min: min}

	if upper-max < min-lower {
		v.Worst = max
		r.Margin = upper - max
		r.MarginPercent = percent(r.Margin, upper)
		r.Limit = upper
		r.WorstIndex = x.Max.Index
		r.Width = x.Max.Value
	} else {
		v.Worst = min
		r.Margin = min - lower
		r.Limit = lower
		switch {
		case lower != 0 && !math.IsInf(lower, 0):
			r.MarginPercent = percent(r.Margin, lower)
		case !math.IsInf(upper, 0):
			r.MarginPercent = percent(r.Margin, upper)
		default:
			r.MarginPercent = math.Inf(1)
		}
		r.WorstIndex = x.Min.Index
		r.Width = x.Min.Value
	}

	e.Values[p] = v
	e.Results[p] = r
}

func (e *Evaluation) periods(snap measure.Snapshot, samplingPeriod float64) {
	for p, l := range periodLimits {
		x, ok := snap.Get(p)
		if !ok {
			continue
		}
		limit, ok := e.Limits.Get(l)
		if !ok {
			e.Values[p] = timingValue(x, samplingPeriod)
			continue
		}

		min := x.Min.Value * samplingPeriod
		margin := min - limit
		e.Values[p] = Value{Max: x.Max.Value * samplingPeriod, Min: min, Worst: min}
		e.Results[p] = Result{
			Pass:          min >= limit,
			Margin:        margin,
			MarginPercent: percent(margin, limit),
			Limit:         limit,
			WorstIndex:    x.Min.Index,
			Width:         x.Min.Value,
		}
	}
}

// timingValues records timing parameters without a verdict
func (e *Evaluation) timingValues(snap measure.Snapshot, samplingPeriod float64) {
	for p, x := range snap.Values {
		switch p.Family() {
		case measure.FamilyEdge, measure.FamilyPeriod, measure.FamilyHold:
			e.Values[p] = timingValue(x, samplingPeriod)
		case measure.FamilyClock:
			e.Values[measure.TClk] = timingValue(x, samplingPeriod)
			fmax := frequency(x.Min.Value, samplingPeriod)
			e.Values[measure.FClk] = Value{Max: fmax, Min: frequency(x.Max.Value, samplingPeriod), Worst: fmax}
		}
	}
}

func timingValue(x measure.Extrema, samplingPeriod float64) Value {
	return Value{
		Max:   x.Max.Value * samplingPeriod,
		Min:   x.Min.Value * samplingPeriod,
		Worst: x.Min.Value * samplingPeriod,
	}
}

func percent(margin, limit float64) float64 {
	if limit == 0 {
		return math.Inf(1)
	}
	return margin / limit * 100
}

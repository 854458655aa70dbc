package spec

import (
	"math"
	"testing"

	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeFor(t *testing.T) {
	tests := []struct {
		fclk float64
		want Grade
	}{
		{0, Unknown},
		{-5, Unknown},
		{1e5, Standard},
		{1.09e5, Standard},
		{1.1e5, Fast},
		{4e5, Fast},
		{4.4e5, FastPlus},
		{1e6, FastPlus},
		{1.1e6, Unknown},
		{3.4e6, Unknown},
	}

	for _, tt := range tests {
		if got := GradeFor(tt.fclk); got != tt.want {
			t.Errorf("GradeFor(%g) = %q, want %q", tt.fclk, got, tt.want)
		}
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		in      string
		want    Grade
		wantErr bool
	}{
		{"", "", false},
		{"auto", "", false},
		{"sm", Standard, false},
		{"fast", Fast, false},
		{"fmp", FastPlus, false},
		{"Fast Mode Plus", FastPlus, false},
		{"voltage", Unknown, false},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGrade(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGrade(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseGrade(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLimitTables(t *testing.T) {
	std := For(Standard, 3.3)
	assert.True(t, std.HasTiming())
	assert.Equal(t, 1e5, std[FClk])
	assert.InDelta(t, 0.99, std[VLow], 1e-12)
	_, ok := std.Get(RiseMin)
	assert.False(t, ok, "standard mode has no minimum rise time")

	fast := For(Fast, 5.5)
	assert.InDelta(t, 2e-8, fast[FallMin], 1e-20)
	assert.Equal(t, 2e-8, fast[RiseMin])

	fmp := For(FastPlus, 3.3)
	_, ok = fmp.Get(HdDat)
	assert.False(t, ok, "fast mode plus has no data hold ceiling")

	unk := For(Unknown, 1.8)
	assert.False(t, unk.HasTiming())
	assert.Len(t, unk, 4)
}

func snapshot(values map[measure.Param][2]float64) measure.Snapshot {
	agg := measure.NewAggregator()
	i := 0.0
	for p, mm := range values {
		agg.Add(p, measure.Occurrence{Index: i, Value: mm[0], Width: 1})
		agg.Add(p, measure.Occurrence{Index: i + 1, Value: mm[1], Width: 2})
		i += 10
	}
	return agg.Snapshot()
}

func TestEvaluateBoundaryPasses(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	// the level must be the table value itself; 0.7 * 3.3 folded as a
	// constant differs from it in the last bit
	vHigh := For(Standard, th.VS)[VHigh]
	snap := snapshot(map[measure.Param][2]float64{
		measure.TLow:     {4.7e-6, 5e-6},
		measure.VHighSCL: {vHigh, 3.3},
	})

	e := Evaluate(snap, Standard, th, 1)

	low := e.Results[measure.TLow]
	assert.True(t, low.Pass)
	assert.Zero(t, low.Margin)
	assert.Zero(t, low.MarginPercent)

	high := e.Results[measure.VHighSCL]
	assert.True(t, high.Pass)
	assert.Zero(t, high.Margin)
	// a high level sitting on the threshold leaves no noise margin
	assert.False(t, e.Results[measure.VNHSCL].Pass)
	assert.Equal(t, 1, e.Fails)
}

func TestEvaluateClock(t *testing.T) {
	th := threshold.ForVoltage(3.3)

	t.Run("within limit", func(t *testing.T) {
		snap := snapshot(map[measure.Param][2]float64{measure.TClk: {1000, 1200}})
		e := Evaluate(snap, Standard, th, 1e-8)

		r, ok := e.Results[measure.FClk]
		require.True(t, ok)
		assert.True(t, r.Pass)
		assert.InDelta(t, 1e5, e.Values[measure.FClk].Worst, 1)
		assert.InDelta(t, 83333, e.Values[measure.FClk].Min, 1)
		assert.InDelta(t, 1e-5, e.Values[measure.TClk].Min, 1e-12)
		_, ok = e.Results[measure.TClk]
		assert.False(t, ok, "the clock period itself has no verdict")
	})

	t.Run("too fast", func(t *testing.T) {
		snap := snapshot(map[measure.Param][2]float64{measure.TClk: {900, 1000}})
		e := Evaluate(snap, Standard, th, 1e-8)

		r := e.Results[measure.FClk]
		assert.False(t, r.Pass)
		assert.Less(t, r.Margin, 0.0)
		assert.Equal(t, 1, e.Fails)
	})
}

func TestEvaluateEdgeWindow(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	// 250 ns slowest rise, 10 ns fastest, sampled at 1 GS/s
	snap := snapshot(map[measure.Param][2]float64{measure.TRiseSCL: {250, 10}})

	e := Evaluate(snap, Fast, th, 1e-9)
	r := e.Results[measure.TRiseSCL]
	v := e.Values[measure.TRiseSCL]

	assert.False(t, r.Pass, "rise faster than the minimum")
	assert.InDelta(t, 1e-8, v.Worst, 1e-15)
	assert.InDelta(t, -1e-8, r.Margin, 1e-15)
	assert.InDelta(t, -50, r.MarginPercent, 1e-6)
	assert.Equal(t, 2e-8, r.Limit)

	// without a minimum, the maximum always decides
	e = Evaluate(snap, Standard, th, 1e-9)
	r = e.Results[measure.TRiseSCL]
	assert.True(t, r.Pass)
	assert.InDelta(t, 2.5e-7, e.Values[measure.TRiseSCL].Worst, 1e-15)
	assert.InDelta(t, 75, r.MarginPercent, 1e-6)
}

func TestEvaluateHoldWithoutCeiling(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	snap := snapshot(map[measure.Param][2]float64{measure.THdDatHostFalling: {100, 20}})

	e := Evaluate(snap, FastPlus, th, 1e-9)
	r := e.Results[measure.THdDatHostFalling]
	assert.True(t, r.Pass)
	assert.InDelta(t, 2e-8, r.Margin, 1e-15)
	assert.True(t, math.IsInf(r.MarginPercent, 1))

	e = Evaluate(snap, Standard, th, 1e-9)
	r = e.Results[measure.THdDatHostFalling]
	assert.True(t, r.Pass)
	assert.Equal(t, 0.0, r.Limit)
}

func TestEvaluateNoiseMargins(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	snap := snapshot(map[measure.Param][2]float64{
		measure.VHighSDA: {3.3, 3.0},
		measure.VLowSDA:  {0.2, 0},
	})

	e := Evaluate(snap, Unknown, th, 1e-8)

	nh := e.Values[measure.VNHSDA]
	assert.InDelta(t, (3.0-th.V70)/3.3, nh.Min, 1e-12)
	assert.InDelta(t, 0.3, nh.Max, 1e-12)
	assert.True(t, e.Results[measure.VNHSDA].Pass)

	nl := e.Values[measure.VNLSDA]
	assert.InDelta(t, (th.V30-0.2)/3.3, nl.Min, 1e-12)
	assert.True(t, e.Results[measure.VNLSDA].Pass)
	// the worst low level locates the noise margin
	assert.Equal(t, e.Results[measure.VLowSDA].WorstIndex, e.Results[measure.VNLSDA].WorstIndex)
}

func TestEvaluateUnknownGrade(t *testing.T) {
	th := threshold.ForVoltage(1.8)
	snap := snapshot(map[measure.Param][2]float64{
		measure.VLowSCL:  {0.9, 0.1},
		measure.TLow:     {10, 12},
		measure.TClk:     {20, 22},
		measure.TRiseSDA: {3, 4},
	})

	e := Evaluate(snap, Unknown, th, 1e-8)

	assert.False(t, e.Results[measure.VLowSCL].Pass)
	assert.False(t, e.Results[measure.VNLSCL].Pass)
	assert.Equal(t, 2, e.Fails)
	for _, p := range []measure.Param{measure.TLow, measure.TClk, measure.FClk, measure.TRiseSDA} {
		_, ok := e.Results[p]
		assert.False(t, ok, "%s has no verdict without a grade", p)
		_, ok = e.Values[p]
		assert.True(t, ok, "%s is still reported", p)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	agg := measure.NewAggregator()
	agg.Add(measure.TLow, measure.Occurrence{Index: 3, Value: 400})
	agg.Add(measure.VHighSCL, measure.Occurrence{Index: 5, Value: 3.1})
	agg.AddRunt(measure.SDA, measure.Occurrence{Index: 7, Width: 15})
	snap := agg.Snapshot()

	first := Evaluate(snap, Standard, th, 1e-8)
	second := Evaluate(snap, Standard, th, 1e-8)
	assert.Equal(t, first, second)

	first.Runts[measure.SDA][0].Width = 99
	assert.Equal(t, 15.0, snap.Runts[measure.SDA][0].Width)
	assert.Equal(t, 1, first.Fails, "t_low of 4us is under the standard mode minimum")
}

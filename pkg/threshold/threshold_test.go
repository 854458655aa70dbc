package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func squareWave(low, high float64, halfPeriod, cycles int) []float64 {
	data := make([]float64, 0, 2*halfPeriod*cycles)
	for c := 0; c < cycles; c++ {
		for i := 0; i < halfPeriod; i++ {
			data = append(data, high)
		}
		for i := 0; i < halfPeriod; i++ {
			data = append(data, low)
		}
	}
	return data
}

func TestSnapToRail(t *testing.T) {
	tests := []struct {
		peak float64
		want float64
	}{
		{1.0, 1.0},
		{1.79, 1.79},
		{1.8, 1.8},
		{2.5, 1.8},
		{2.7, 3.3},
		{3.2, 3.3},
		{4.0, 3.3},
		{4.2, 5.0},
		{5.0, 5.0},
		{5.3, 5.3},
	}

	for _, tt := range tests {
		if got := SnapToRail(tt.peak); got != tt.want {
			t.Errorf("SnapToRail(%v) = %v, want %v", tt.peak, got, tt.want)
		}
	}
}

func TestPeakRejectsSpikes(t *testing.T) {
	data := squareWave(0.05, 3.2, 50, 20)
	data[25] = 4.7
	data[425] = 6.0

	assert.InDelta(t, 3.2, Peak(data, 1e-8), 1e-12)
}

func TestPeakDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, Peak(nil, 1e-8))
	assert.Equal(t, 0.0, Peak([]float64{1, 2}, 0))

	// shorter than one window
	assert.InDelta(t, 1.7, Peak([]float64{1.2, 1.7, 1.5}, 1e-9), 1e-12)
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name string
		high float64
		vs   float64
	}{
		{"1.8V rail", 1.9, 1.8},
		{"3.3V rail", 3.25, 3.3},
		{"5V rail", 4.9, 5.0},
		{"low voltage raw", 1.2, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := squareWave(0.02, tt.high, 40, 30)
			set := Calibrate(data, 1e-8)

			assert.InDelta(t, tt.vs, set.VS, 1e-12)
			assert.InDelta(t, 0.3*tt.vs, set.V30, 1e-12)
			assert.InDelta(t, 0.7*tt.vs, set.V70, 1e-12)
		})
	}
}

func TestThresholdsOrdered(t *testing.T) {
	for _, high := range []float64{0.9, 1.8, 2.9, 3.3, 4.4, 5.0, 5.5} {
		data := squareWave(0, high, 30, 10)
		set := Calibrate(data, 1e-8)

		if !(set.V30 < set.V70) {
			t.Errorf("high=%v: v30 %v not below v70 %v", high, set.V30, set.V70)
		}
		if !(0 < set.V30 && set.V70 < high) {
			t.Errorf("high=%v: thresholds %v/%v outside the signal swing", high, set.V30, set.V70)
		}
	}
}

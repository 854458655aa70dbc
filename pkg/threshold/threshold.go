package threshold

import (
	"math"

	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"gonum.org/v1/gonum/floats"
)

const (
	// Window is the length of one spike-filter window in seconds
	Window = 1e-7

	// MaxWindows bounds how much of the capture is scanned for the peak
	MaxWindows = 2000

	// SpikeTolerance is how far above a window median a sample may sit
	SpikeTolerance = 1.0

	// LowFraction and HighFraction are the logic thresholds as fractions of vs
	LowFraction  = 0.3
	HighFraction = 0.7
)

// Rails are the standard supply voltages a measured peak snaps to
var Rails = []float64{1.8, 3.3, 5.0}

// Set holds the working voltage and the derived logic thresholds
type Set struct {
	VS  float64 `json:"vs"`
	V30 float64 `json:"v30"`
	V70 float64 `json:"v70"`
}

// ForVoltage builds a threshold set from a known supply voltage
func ForVoltage(vs float64) Set {
	return Set{
		VS:  vs,
		V30: vs * LowFraction,
		V70: vs * HighFraction,
	}
}

// Calibrate derives the working voltage from one raw channel
func Calibrate(data []float64, samplingPeriod float64) Set {
	return ForVoltage(SnapToRail(Peak(data, samplingPeriod)))
}

// Peak returns the de-glitched maximum voltage of the capture
func Peak(data []float64, samplingPeriod float64) float64 {
	if len(data) == 0 || samplingPeriod <= 0 {
		return 0
	}

	length := int(math.Round(Window / samplingPeriod))
	if length < 1 {
		length = 1
	}
	segments := len(data) / length
	if segments > MaxWindows {
		segments = MaxWindows
	}
	if segments == 0 {
		segments = 1
		length = len(data)
	}

	peak := math.Inf(-1)
	kept := make([]float64, 0, length)
	for s := 0; s < segments; s++ {
		window := data[s*length : (s+1)*length]
		limit := measure.Median(window) + SpikeTolerance

		kept = kept[:0]
		for _, v := range window {
			if v < limit {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if m := floats.Max(kept); m > peak {
			peak = m
		}
	}

	if math.IsInf(peak, -1) {
		return 0
	}
	return peak
}

// SnapToRail rounds a peak voltage to the closest standard rail
// Peaks below the lowest rail or at/above the highest are returned unchanged
func SnapToRail(peak float64) float64 {
	pos := -1
	for i, rail := range Rails {
		if rail > peak {
			pos = i
			break
		}
	}
	if pos <= 0 {
		return peak
	}

	upper, lower := Rails[pos], Rails[pos-1]
	if upper-peak <= peak-lower {
		return upper
	}
	return lower
}

package analyzer

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/classify"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Options {
	return Options{Logger: log.New(io.Discard, "", 0)}
}

func generate(transfers ...synth.Transfer) synth.Waveform {
	return synth.Generate(synth.DefaultConfig(), transfers)
}

func TestAnalyzeStandardWrite(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Data: []byte{0xA5, 0x01}})

	r, err := Analyze(w.SCL, w.SDA, w.SamplingPeriod, quiet())
	require.NoError(t, err)

	assert.Equal(t, spec.Standard, r.Grade)
	assert.InDelta(t, 3.3, r.Thresholds.VS, 1e-9)
	// within one sample of the 1000-sample period
	assert.InDelta(t, 1e5, r.Values[measure.FClk].Worst, 100)

	assert.Zero(t, r.Fails, "a clean 100 kHz bus meets every standard mode limit")
	assert.True(t, r.Passed())
	assert.Equal(t, len(r.Results), r.Evaluated)
	assert.Empty(t, r.Runts[measure.SCL])
	assert.Empty(t, r.Runts[measure.SDA])

	require.Len(t, r.Addresses, 1)
	assert.Equal(t, "0x50", r.Addresses[0].Hex())
	assert.Equal(t, "W", r.Addresses[0].Direction())
	assert.Equal(t, 1, r.Counters.Starts)
	assert.Equal(t, 1, r.Counters.Stops)
}

func TestAnalyzeReadAttribution(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Read: true, Data: []byte{0x5A}})

	r, err := Analyze(w.SCL, w.SDA, w.SamplingPeriod, quiet())
	require.NoError(t, err)

	require.Len(t, r.Addresses, 1)
	assert.True(t, r.Addresses[0].Read)
	assert.Equal(t, "10100001", r.Addresses[0].String())

	_, ok := r.Results[measure.THdDatDevFalling]
	assert.True(t, ok, "read data is driven by the device")
	assert.Zero(t, r.Fails)
}

func TestAnalyzeUniqueAddresses(t *testing.T) {
	w := generate(
		synth.Transfer{Address: 0x3C, Data: []byte{0x10}},
		synth.Transfer{Address: 0x3C, Data: []byte{0x11}},
		synth.Transfer{Address: 0x3C, Read: true, Data: []byte{0x00}, Restart: true},
	)

	r, err := Analyze(w.SCL, w.SDA, w.SamplingPeriod, quiet())
	require.NoError(t, err)

	require.Len(t, r.Addresses, 2)
	assert.Equal(t, "01111000", r.Addresses[0].String())
	assert.Equal(t, "01111001", r.Addresses[1].String())
	assert.Equal(t, 1, r.Counters.Restarts)
}

func TestAnalyzeOverrides(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	opts := quiet()
	opts.Voltage = 3.3
	opts.Grade = spec.Fast
	r, err := Analyze(w.SCL, w.SDA, w.SamplingPeriod, opts)
	require.NoError(t, err)

	assert.Equal(t, spec.Fast, r.Grade)
	assert.True(t, r.Results[measure.FClk].Pass)
	// data changes in the middle of the low phase, well past the 0.9us ceiling
	assert.False(t, r.Results[measure.THdDatHostFalling].Pass)
	assert.Greater(t, r.Fails, 0)
}

func TestAnalyzeCaptureSwapped(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	r, err := AnalyzeCapture(w.SDA, w.SCL, w.SamplingPeriod, quiet())
	require.NoError(t, err)

	assert.True(t, r.Swapped)
	assert.Equal(t, spec.Standard, r.Grade)
	assert.Greater(t, r.Offset, 0)
	assert.Less(t, r.Samples, len(w.SCL))
	require.Len(t, r.Addresses, 1)
	assert.Equal(t, "0x50", r.Addresses[0].Hex())
	assert.Zero(t, r.Fails)
}

func TestAnalyzeCaptureCalibratesFirstColumn(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	// an SDA line overshooting towards the 5 V rail must not move vs
	sda := make([]float64, len(w.SDA))
	for i, v := range w.SDA {
		sda[i] = v * 4.5 / 3.3
	}

	r, err := AnalyzeCapture(w.SCL, sda, w.SamplingPeriod, quiet())
	require.NoError(t, err)

	assert.False(t, r.Swapped)
	assert.InDelta(t, 3.3, r.Thresholds.VS, 1e-9)
	require.Len(t, r.Addresses, 1)
	assert.Equal(t, "0x50", r.Addresses[0].Hex())
}

func TestAnalyzeErrors(t *testing.T) {
	w := generate(synth.Transfer{Address: 0x50, Data: []byte{0xA5}})
	flat := make([]float64, 1000)

	tests := []struct {
		name     string
		scl, sda []float64
		period   float64
		want     error
	}{
		{"length mismatch", w.SCL, w.SDA[:100], w.SamplingPeriod, ErrMisaligned},
		{"empty", nil, nil, w.SamplingPeriod, ErrMisaligned},
		{"zero period", w.SCL, w.SDA, 0, ErrMisaligned},
		{"no voltage", flat, flat, 1e-8, ErrNoVoltage},
		{"too few clocks", w.SCL[:5000], w.SDA[:5000], w.SamplingPeriod, classify.ErrInsufficientEdges},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.scl, tt.sda, tt.period, quiet())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Analyze() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnalyzeNoTransaction(t *testing.T) {
	idle := make([]float64, 2000)
	for i := range idle {
		idle[i] = 1.8
	}

	opts := quiet()
	opts.Grade = spec.Unknown
	r, err := Analyze(idle, idle, 1e-8, opts)
	require.NoError(t, err)

	assert.Empty(t, r.Addresses)
	assert.Zero(t, r.Counters.Starts)
	assert.InDelta(t, 1.8, r.Thresholds.VS, 1e-9)
}

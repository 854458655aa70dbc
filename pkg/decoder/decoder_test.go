package decoder

import (
	"errors"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeTransfers(t *testing.T, transfers ...synth.Transfer) (*Outcome, bool) {
	t.Helper()

	cfg := synth.DefaultConfig()
	w := synth.Generate(cfg, transfers)

	d := New(threshold.ForVoltage(cfg.Voltage), w.SamplingPeriod)
	sawRead := false
	for i := 1; i < len(w.SCL); i++ {
		d.Step(i, w.SCL[i-1], w.SCL[i], w.SDA[i-1], w.SDA[i])
		sawRead = sawRead || d.State().Read
	}
	return d.Outcome(), sawRead
}

func has(o *Outcome, p measure.Param) bool {
	_, ok := o.Measurements.Get(p)
	return ok
}

func TestDecodeWriteTransaction(t *testing.T) {
	out, sawRead := decodeTransfers(t, synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	assert.Equal(t, 1, out.Counters.Starts)
	assert.Equal(t, 0, out.Counters.Restarts)
	assert.Equal(t, 1, out.Counters.Stops)
	assert.Equal(t, 19, out.Counters.SCLRising, "two bytes plus the STOP clock")
	assert.False(t, sawRead)
	assert.True(t, out.State.Stop)

	require.Len(t, out.Addresses, 1)
	assert.Equal(t, "1010000", out.Addresses[0].Bits)
	assert.False(t, out.Addresses[0].Read)
	assert.Equal(t, "10100000", out.Addresses[0].String())
	assert.Equal(t, "0x50", out.Addresses[0].Hex())

	// data bits are driven by the host in a write
	assert.True(t, has(out, measure.THdDatHostFalling))
	assert.False(t, has(out, measure.THdDatDevFalling))
	// acknowledge of the data byte comes from the device
	assert.True(t, has(out, measure.TSuDatDevFalling))
	// device releasing the address acknowledge
	assert.True(t, has(out, measure.THdDatDevRising))

	assert.True(t, has(out, measure.THdStaS))
	assert.True(t, has(out, measure.TSuSto))
	assert.False(t, has(out, measure.TBuf))
	assert.False(t, has(out, measure.TSuSta))
}

func TestDecodeReadTransaction(t *testing.T) {
	out, sawRead := decodeTransfers(t, synth.Transfer{Address: 0x50, Read: true, Data: []byte{0xA5}})

	assert.True(t, sawRead)
	assert.False(t, out.State.Read, "STOP clears the direction")

	require.Len(t, out.Addresses, 1)
	assert.Equal(t, "1010000", out.Addresses[0].Bits)
	assert.True(t, out.Addresses[0].Read)
	assert.Equal(t, "R", out.Addresses[0].Direction())

	// address acknowledge phase belongs to the device
	assert.True(t, has(out, measure.TSuDatDevFalling))
	assert.True(t, has(out, measure.THdDatDevRising))
	// data bits are driven by the device in a read
	assert.True(t, has(out, measure.THdDatDevFalling))
	assert.True(t, has(out, measure.TSuDatDevRising))
	// address bits still come from the host
	assert.True(t, has(out, measure.TSuDatHostRising))
	assert.True(t, has(out, measure.THdDatHostFalling))
}

func TestDecodeRepeatedStart(t *testing.T) {
	out, _ := decodeTransfers(t,
		synth.Transfer{Address: 0x3C, Data: []byte{0x10}},
		synth.Transfer{Address: 0x3C, Read: true, Data: []byte{0x00}, Restart: true},
		synth.Transfer{Address: 0x21, Data: []byte{0xFF}},
	)

	assert.Equal(t, 2, out.Counters.Starts)
	assert.Equal(t, 1, out.Counters.Restarts)
	assert.Equal(t, 2, out.Counters.Stops)

	require.Len(t, out.Addresses, 3)
	assert.Equal(t, "0111100", out.Addresses[0].Bits)
	assert.False(t, out.Addresses[0].Read)
	assert.Equal(t, "0111100", out.Addresses[1].Bits)
	assert.True(t, out.Addresses[1].Read)
	assert.Equal(t, "0100001", out.Addresses[2].Bits)

	assert.True(t, has(out, measure.TSuSta))
	assert.True(t, has(out, measure.THdStaSr))
	assert.True(t, has(out, measure.TBuf))
}

func TestDecodeClockPeriod(t *testing.T) {
	out, _ := decodeTransfers(t, synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	clk, ok := out.Measurements.Get(measure.TClk)
	require.True(t, ok)
	// 100 kHz at 100 MS/s is 1000 samples per period
	assert.InDelta(t, 1000, clk.Min.Value, 1e-6)
	assert.InDelta(t, 1000, clk.Max.Value, 1e-6)
}

func TestDecodeStartHold(t *testing.T) {
	out, _ := decodeTransfers(t, synth.Transfer{Address: 0x50, Data: []byte{0xA5}})

	hd, ok := out.Measurements.Get(measure.THdStaS)
	require.True(t, ok)
	// half a clock period between the SDA and SCL falls, measured from the
	// SDA 30% crossing to the SCL 70% crossing of 10-sample ramps
	assert.InDelta(t, 500-7+3, hd.Min.Value, 1e-6)
}

func TestDecodeNoTransaction(t *testing.T) {
	th := threshold.ForVoltage(3.3)
	flat := make([]float64, 1000)
	for i := range flat {
		flat[i] = 3.3
	}

	out, err := Decode(th, 1e-8, flat, flat)
	require.NoError(t, err)
	assert.Empty(t, out.Addresses)
	assert.Zero(t, out.Counters.Starts)
	assert.Empty(t, out.Measurements.Values)
}

func TestDecodeRejectsMisaligned(t *testing.T) {
	th := threshold.ForVoltage(3.3)

	tests := []struct {
		name     string
		scl, sda []float64
		period   float64
	}{
		{"length mismatch", make([]float64, 10), make([]float64, 9), 1e-8},
		{"too short", make([]float64, 1), make([]float64, 1), 1e-8},
		{"bad period", make([]float64, 10), make([]float64, 10), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(th, tt.period, tt.scl, tt.sda)
			if !errors.Is(err, ErrMisaligned) {
				t.Fatalf("Decode() error = %v, want ErrMisaligned", err)
			}
		})
	}
}

func TestAttribution(t *testing.T) {
	tests := []struct {
		name  string
		state State
		setup bool
		hold  bool
	}{
		{"address bit", State{Cycle: 3, FirstPacket: true, FallCycle: 3, FallFirst: true}, false, false},
		{"address ack", State{Cycle: 8, FirstPacket: true, FallCycle: 9, FallFirst: true}, true, true},
		{"write data", State{Cycle: 2, FallCycle: 2}, false, false},
		{"write ack", State{Cycle: 8, FallCycle: 9}, true, true},
		{"read data", State{Cycle: 2, Read: true, FallCycle: 2}, true, true},
		{"read ack", State{Cycle: 8, Read: true, FallCycle: 9}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.SetupByDevice(); got != tt.setup {
				t.Errorf("SetupByDevice() = %v, want %v", got, tt.setup)
			}
			if got := tt.state.HoldByDevice(); got != tt.hold {
				t.Errorf("HoldByDevice() = %v, want %v", got, tt.hold)
			}
		})
	}
}

// Package synth renders I2C transfers into analog sample streams
package synth

import (
	"math"
)

// Config describes the bus being synthesised
type Config struct {
	Voltage        float64 `yaml:"voltage"`
	SamplingPeriod float64 `yaml:"sampling_period"`
	Frequency      float64 `yaml:"frequency"`
	// RiseTime and FallTime are full-swing ramp durations
	RiseTime float64 `yaml:"rise_time"`
	FallTime float64 `yaml:"fall_time"`
	// Idle is the quiet time before the first and after the last transfer
	Idle float64 `yaml:"idle"`
}

// DefaultConfig is a 3.3 V, 100 kHz bus sampled at 100 MS/s
func DefaultConfig() Config {
	return Config{
		Voltage:        3.3,
		SamplingPeriod: 1e-8,
		Frequency:      1e5,
		RiseTime:       1e-7,
		FallTime:       1e-7,
		Idle:           2e-5,
	}
}

// Transfer is one addressed message on the bus
type Transfer struct {
	Address byte
	Read    bool
	Data    []byte
	// Restart joins this transfer to the previous one with a repeated START
	Restart bool
}

// Glitch pulls a line towards Level volts for Width seconds starting At seconds
type Glitch struct {
	SDA   bool
	At    float64
	Width float64
	Level float64
}

type transition struct {
	at   float64
	high bool
}

type line struct {
	high   bool
	events []transition
}

func (l *line) set(at float64, high bool) {
	if l.high == high {
		return
	}
	l.high = high
	l.events = append(l.events, transition{at: at, high: high})
}

// Waveform is a rendered capture
type Waveform struct {
	SCL            []float64
	SDA            []float64
	SamplingPeriod float64
}

// Generate renders the transfers, plus optional glitches, as sampled voltages
func Generate(cfg Config, transfers []Transfer, glitches ...Glitch) Waveform {
	half := 1 / (2 * cfg.Frequency)
	quarter := half / 2

	scl := &line{high: true}
	sda := &line{high: true}

	t := cfg.Idle
	for n, tr := range transfers {
		if n > 0 && tr.Restart {
			sda.set(t+quarter, true)
			scl.set(t+half, true)
			sda.set(t+2*half, false)
			scl.set(t+3*half, false)
			t += 3 * half
		} else {
			if n > 0 {
				t += 2 * half
			}
			sda.set(t, false)
			scl.set(t+half, false)
			t += half
		}

		addr := tr.Address << 1
		if tr.Read {
			addr |= 1
		}
		t = clockByte(scl, sda, t, half, addr, false)
		for i, b := range tr.Data {
			nack := tr.Read && i == len(tr.Data)-1
			t = clockByte(scl, sda, t, half, b, nack)
		}

		last := n == len(transfers)-1
		if last || !transfers[n+1].Restart {
			sda.set(t+quarter, false)
			scl.set(t+half, true)
			sda.set(t+2*half, true)
			t += 2 * half
		}
	}
	t += cfg.Idle

	n := int(math.Ceil(t/cfg.SamplingPeriod)) + 1
	w := Waveform{
		SCL:            render(scl.events, n, cfg),
		SDA:            render(sda.events, n, cfg),
		SamplingPeriod: cfg.SamplingPeriod,
	}
	for _, g := range glitches {
		target := w.SCL
		if g.SDA {
			target = w.SDA
		}
		from := int(math.Round(g.At / cfg.SamplingPeriod))
		to := int(math.Round((g.At + g.Width) / cfg.SamplingPeriod))
		for k := from; k < to && k < len(target); k++ {
			if k >= 0 {
				target[k] = g.Level
			}
		}
	}
	return w
}

// clockByte shifts out eight bits MSB first followed by the acknowledge bit
// t is the time of the SCL falling edge that starts the byte
func clockByte(scl, sda *line, t, half float64, b byte, nack bool) float64 {
	quarter := half / 2
	for k := 0; k < 9; k++ {
		var bit bool
		if k < 8 {
			bit = b&(0x80>>k) != 0
		} else {
			bit = nack
		}
		sda.set(t+quarter, bit)
		scl.set(t+half, true)
		scl.set(t+2*half, false)
		t += 2 * half
	}
	return t
}

func render(events []transition, n int, cfg Config) []float64 {
	out := make([]float64, n)
	level := cfg.Voltage
	from := cfg.Voltage
	next := 0
	var current *transition

	for k := 0; k < n; k++ {
		at := float64(k) * cfg.SamplingPeriod
		for next < len(events) && events[next].at <= at {
			from = level
			current = &events[next]
			next++
		}

		if current == nil {
			out[k] = level
			continue
		}

		target := 0.0
		ramp := cfg.FallTime
		if current.high {
			target = cfg.Voltage
			ramp = cfg.RiseTime
		}
		elapsed := at - current.at
		if ramp <= 0 || elapsed >= ramp {
			level = target
		} else {
			level = from + (target-from)*elapsed/ramp
		}
		out[k] = level
	}
	return out
}

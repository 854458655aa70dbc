package decoder

import (
	"errors"
	"fmt"

	"github.com/googleinterns/cros-hummingbird/pkg/edge"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/threshold"
)

// ErrMisaligned is returned when the two lines cannot be decoded together
var ErrMisaligned = errors.New("scl and sda captures are not aligned")

// Outcome is the product of a full decode pass
type Outcome struct {
	Measurements measure.Snapshot
	Addresses    []Address
	Counters     Counters
	State        State
}

// Decoder walks both lines in lockstep and extracts bus timing
type Decoder struct {
	scl *edge.Tracker
	sda *edge.Tracker

	state     State
	agg       *measure.Aggregator
	counters  Counters
	addresses []Address
}

// New creates a decoder for lines sampled every samplingPeriod seconds
// SCL is assumed HIGH before the first sample
func New(th threshold.Set, samplingPeriod float64) *Decoder {
	return &Decoder{
		scl:   edge.NewTracker(th, samplingPeriod, edge.High),
		sda:   edge.NewTracker(th, samplingPeriod, edge.Unknown),
		state: Idle(),
		agg:   measure.NewAggregator(),
	}
}

// Decode runs a decoder over two aligned captures
func Decode(th threshold.Set, samplingPeriod float64, scl, sda []float64) (*Outcome, error) {
	if len(scl) != len(sda) {
		return nil, fmt.Errorf("%w: %d scl samples, %d sda samples", ErrMisaligned, len(scl), len(sda))
	}
	if len(scl) < 2 {
		return nil, fmt.Errorf("%w: need at least two samples", ErrMisaligned)
	}
	if samplingPeriod <= 0 {
		return nil, fmt.Errorf("%w: sampling period %g", ErrMisaligned, samplingPeriod)
	}

	d := New(th, samplingPeriod)
	for i := 1; i < len(scl); i++ {
		d.Step(i, scl[i-1], scl[i], sda[i-1], sda[i])
	}
	return d.Outcome(), nil
}

// State returns the current transaction state
func (d *Decoder) State() State { return d.state }

// Outcome snapshots everything decoded so far
func (d *Decoder) Outcome() *Outcome {
	return &Outcome{
		Measurements: d.agg.Snapshot(),
		Addresses:    append([]Address(nil), d.addresses...),
		Counters:     d.counters,
		State:        d.state,
	}
}

// Step consumes the transition of both lines into sample i
func (d *Decoder) Step(i int, vSCL, nSCL, vSDA, nSDA float64) {
	var sclLowEnd, sclHighEnd, sdaLowEnd, sdaHighEnd edge.Mark

	for _, ev := range d.scl.Step(i, vSCL, nSCL) {
		switch ev.Kind {
		case edge.Falling:
			d.sclFalling(ev)
		case edge.Rising:
			d.sclRising(ev)
		case edge.LowEnd:
			sclLowEnd = edge.At(ev.At)
			if ev.HasWidth {
				if ev.HasMedian {
					d.agg.Add(measure.VLowSCL, measure.Occurrence{Index: ev.At, Value: ev.Median, Width: ev.Width})
				}
				d.agg.Add(measure.TLow, measure.Occurrence{Index: ev.At, Value: ev.Width})
			}
		case edge.HighEnd:
			sclHighEnd = edge.At(ev.At)
			if ev.HasWidth {
				if ev.HasMedian {
					d.agg.Add(measure.VHighSCL, measure.Occurrence{Index: ev.At, Value: ev.Median, Width: ev.Width})
				}
				d.agg.Add(measure.THigh, measure.Occurrence{Index: ev.At, Value: ev.Width})
			}
			d.sampleBit()
		case edge.Runt:
			d.agg.AddRunt(measure.SCL, measure.Occurrence{Index: ev.At, Value: ev.Width})
		}
	}

	for _, ev := range d.sda.Step(i, vSDA, nSDA) {
		switch ev.Kind {
		case edge.Falling:
			d.counters.SDAFalling++
			d.agg.Add(measure.TFallSDA, measure.Occurrence{Index: ev.At, Value: ev.Width})
		case edge.Rising:
			d.counters.SDARising++
			d.agg.Add(measure.TRiseSDA, measure.Occurrence{Index: ev.At, Value: ev.Width})
		case edge.LowEnd:
			sdaLowEnd = edge.At(ev.At)
			if ev.HasMedian && d.sda.LowStart().Set && d.sda.LowStart().Before(d.scl.LowStart()) {
				d.agg.Add(measure.VLowSDA, measure.Occurrence{Index: ev.At, Value: ev.Median, Width: ev.Width})
			}
		case edge.HighEnd:
			sdaHighEnd = edge.At(ev.At)
			if ev.HasMedian && d.sda.HighStart().Set && d.sda.HighStart().Before(d.scl.LowStart()) {
				d.agg.Add(measure.VHighSDA, measure.Occurrence{Index: ev.At, Value: ev.Median, Width: ev.Width})
			}
		case edge.Runt:
			d.agg.AddRunt(measure.SDA, measure.Occurrence{Index: ev.At, Value: ev.Width})
		}
	}

	d.dataHold(sdaLowEnd, sdaHighEnd)
	d.dataSetup(sclLowEnd)
	d.startCondition(sdaHighEnd)
	d.startHold(sclHighEnd)
	d.stopCondition(sdaLowEnd)

	if !d.state.Stop {
		d.scl.Sample(nSCL)
	}
	if d.state.Cycle != 0 {
		d.sda.Sample(nSDA)
	}
}

func (d *Decoder) sclFalling(ev edge.Event) {
	d.counters.SCLFalling++
	d.agg.Add(measure.TFallSCL, measure.Occurrence{Index: ev.At, Value: ev.Width})

	// the interval across a STOP/START is bus free time, not a clock period
	if ev.HasPeriod && d.state.Cycle != 0 {
		d.agg.Add(measure.TClk, measure.Occurrence{Index: ev.At, Value: ev.Period})
	}

	d.state.FallCycle = d.state.Cycle
	d.state.FallFirst = d.state.FirstPacket

	if d.state.Cycle == CyclesPerByte {
		d.state.Cycle = 0
		if d.state.FirstPacket {
			d.addresses = append(d.addresses, Address{Bits: d.state.Address, Read: d.state.Read})
			d.state.FirstPacket = false
		}
	}
}

func (d *Decoder) sclRising(ev edge.Event) {
	d.counters.SCLRising++
	d.agg.Add(measure.TRiseSCL, measure.Occurrence{Index: ev.At, Value: ev.Width})

	if ev.HasPeriod && d.state.Cycle != 0 {
		d.agg.Add(measure.TClk, measure.Occurrence{Index: ev.At, Value: ev.Period})
	}

	switch {
	case (d.state.Start || d.state.Restart) && d.state.Cycle == 0:
		d.state.Cycle = 1
	case d.state.Cycle != 0:
		d.state.Cycle++
	}
}

// sampleBit reads SDA at the end of an SCL high phase of the address byte
func (d *Decoder) sampleBit() {
	if !d.state.FirstPacket {
		return
	}
	high := d.sda.Level() == edge.High
	switch {
	case d.state.Cycle > 0 && d.state.Cycle < BitsPerByte:
		if high {
			d.state.Address += "1"
		} else {
			d.state.Address += "0"
		}
	case d.state.Cycle == BitsPerByte:
		d.state.Read = high
	}
}

func (d *Decoder) dataHold(sdaLowEnd, sdaHighEnd edge.Mark) {
	if d.scl.Level() != edge.Low || !d.state.Open || d.state.FallCycle == 0 {
		return
	}
	sclLow := d.scl.LowStart()
	if !sclLow.Set {
		return
	}

	device := d.state.HoldByDevice()
	if sdaHighEnd.Set && d.sda.HighStart().Before(sclLow) {
		d.agg.Add(measure.HoldData(device, false), measure.Occurrence{
			Index: sdaHighEnd.At,
			Value: sdaHighEnd.At - sclLow.At,
		})
	}
	if sdaLowEnd.Set && d.sda.LowStart().Before(sclLow) {
		d.agg.Add(measure.HoldData(device, true), measure.Occurrence{
			Index: sdaLowEnd.At,
			Value: sdaLowEnd.At - sclLow.At,
		})
	}
}

func (d *Decoder) dataSetup(sclLowEnd edge.Mark) {
	if !sclLowEnd.Set || !d.state.Open {
		return
	}

	device := d.state.SetupByDevice()
	switch d.sda.Level() {
	case edge.Low:
		if start := d.sda.LowStart(); start.Set && d.scl.LowStart().Before(start) {
			d.agg.Add(measure.SetupData(device, false), measure.Occurrence{
				Index: sclLowEnd.At,
				Value: sclLowEnd.At - start.At,
			})
		}
	case edge.High:
		if start := d.sda.HighStart(); start.Set && d.scl.LowStart().Before(start) {
			d.agg.Add(measure.SetupData(device, true), measure.Occurrence{
				Index: sclLowEnd.At,
				Value: sclLowEnd.At - start.At,
			})
		}
	}
}

// startCondition detects SDA leaving HIGH while SCL is HIGH
func (d *Decoder) startCondition(sdaHighEnd edge.Mark) {
	if !sdaHighEnd.Set || d.scl.Level() != edge.High {
		return
	}
	sclHigh, sdaHigh := d.scl.HighStart(), d.sda.HighStart()

	switch {
	case !d.state.Stop && (!sdaHigh.Set || sdaHigh.Before(sclHigh)):
		d.begin(true)
		d.counters.Restarts++
		if sclHigh.Set {
			d.agg.Add(measure.TSuSta, measure.Occurrence{Index: sdaHighEnd.At, Value: sdaHighEnd.At - sclHigh.At})
		}
	case d.state.Stop && (!sdaHigh.Set || sclHigh.Before(sdaHigh)):
		d.begin(false)
		d.counters.Starts++
		if sdaHigh.Set {
			d.agg.Add(measure.TBuf, measure.Occurrence{Index: sdaHighEnd.At, Value: sdaHighEnd.At - sdaHigh.At})
		}
	}
}

func (d *Decoder) begin(restart bool) {
	d.state.Stop = false
	d.state.Start = !restart
	d.state.Restart = restart
	d.state.Open = true
	d.state.Cycle = 0
	d.state.FirstPacket = true
	d.state.Read = false
	d.state.Address = ""
	d.state.FallCycle = 0
	d.state.FallFirst = false
}

// startHold measures from the START SDA fall to the end of that SCL high phase
func (d *Decoder) startHold(sclHighEnd edge.Mark) {
	if !sclHighEnd.Set || d.sda.Level() != edge.Low {
		return
	}
	sdaLow := d.sda.LowStart()
	if !d.scl.HighStart().Before(sdaLow) {
		return
	}

	o := measure.Occurrence{Index: sclHighEnd.At, Value: sclHighEnd.At - sdaLow.At}
	switch {
	case d.state.Restart:
		d.agg.Add(measure.THdStaSr, o)
	case d.state.Start:
		d.agg.Add(measure.THdStaS, o)
	}
}

// stopCondition detects SDA leaving LOW while SCL is HIGH
func (d *Decoder) stopCondition(sdaLowEnd edge.Mark) {
	if !sdaLowEnd.Set || d.scl.Level() != edge.High {
		return
	}
	sclHigh := d.scl.HighStart()
	if !d.sda.LowStart().Before(sclHigh) {
		return
	}

	d.state.Stop = true
	d.state.Start = false
	d.state.Restart = false
	d.state.Read = false
	d.state.Open = false
	d.state.Cycle = 0
	d.counters.Stops++
	d.agg.Add(measure.TSuSto, measure.Occurrence{Index: sdaLowEnd.At, Value: sdaLowEnd.At - sclHigh.At})
}

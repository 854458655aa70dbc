package spec

import (
	"fmt"
)

// Grade is an I2C speed grade
type Grade string

const (
	Standard Grade = "Standard Mode"
	Fast     Grade = "Fast Mode"
	FastPlus Grade = "Fast Mode Plus"
	Unknown  Grade = "Unknown"
)

// GradeFor picks the speed grade of an estimated clock frequency
func GradeFor(fclk float64) Grade {
	switch {
	case fclk <= 0:
		return Unknown
	case fclk < 1.1e5:
		return Standard
	case fclk < 4.4e5:
		return Fast
	case fclk < 1.1e6:
		return FastPlus
	default:
		return Unknown
	}
}

// ParseGrade accepts the grade names used on the command line
// An empty result means the grade is detected from the capture
func ParseGrade(s string) (Grade, error) {
	switch s {
	case "", "auto":
		return "", nil
	case "standard", "sm", string(Standard):
		return Standard, nil
	case "fast", "fm", string(Fast):
		return Fast, nil
	case "fast-plus", "fmp", string(FastPlus):
		return FastPlus, nil
	case "unknown", "voltage", string(Unknown):
		return Unknown, nil
	}
	return "", fmt.Errorf("unknown speed grade %q", s)
}

// Limit names one entry of a limit table
type Limit int

const (
	VLow Limit = iota
	VHigh
	VNH
	VNL
	RiseMax
	RiseMin
	FallMax
	FallMin
	Low
	High
	FClk
	SuDat
	HdDat
	HdSta
	SuSta
	SuSto
	Buf
)

var limitNames = map[Limit]string{
	VLow: "v_low", VHigh: "v_high", VNH: "v_nh", VNL: "v_nl",
	RiseMax: "t_rise_max", RiseMin: "t_rise_min", FallMax: "t_fall_max", FallMin: "t_fall_min",
	Low: "t_low", High: "t_high", FClk: "f_clk",
	SuDat: "t_SU_DAT", HdDat: "t_HD_DAT", HdSta: "t_HD_STA",
	SuSta: "t_SU_STA", SuSto: "t_SU_STO", Buf: "t_BUF",
}

func (l Limit) String() string {
	if name, ok := limitNames[l]; ok {
		return name
	}
	return fmt.Sprintf("limit(%d)", int(l))
}

// Table maps limits to values in volts, seconds, hertz or fractions of vs
type Table map[Limit]float64

// Get returns a limit and whether the table defines it
func (t Table) Get(l Limit) (float64, bool) {
	v, ok := t[l]
	return v, ok
}

// For builds the limit table of a speed grade at supply voltage vs
// Unknown grades only constrain voltage levels
func For(grade Grade, vs float64) Table {
	t := Table{
		VLow:  0.3 * vs,
		VHigh: 0.7 * vs,
		VNH:   0.2,
		VNL:   0.1,
	}

	var timing Table
	switch grade {
	case Standard:
		timing = Table{
			RiseMax: 1e-6, FallMax: 3e-7,
			Low: 4.7e-6, High: 4e-6, FClk: 1e5,
			SuDat: 2.5e-7, HdDat: 3.45e-6, HdSta: 4e-6,
			SuSta: 4.7e-6, SuSto: 4e-6, Buf: 4.7e-6,
		}
	case Fast:
		timing = Table{
			RiseMax: 3e-7, RiseMin: 2e-8,
			FallMax: 3e-7, FallMin: 20 * vs / 5.5 * 1e-9,
			Low: 1.3e-6, High: 6e-7, FClk: 4e5,
			SuDat: 1e-7, HdDat: 9e-7, HdSta: 6e-7,
			SuSta: 6e-7, SuSto: 6e-7, Buf: 1.3e-6,
		}
	case FastPlus:
		timing = Table{
			RiseMax: 1.2e-7,
			FallMax: 1.2e-7, FallMin: 20 * vs / 5.5 * 1e-9,
			Low: 5e-7, High: 2.6e-7, FClk: 1e6,
			SuDat: 5e-8, HdSta: 2.6e-7,
			SuSta: 2.6e-7, SuSto: 2.6e-7, Buf: 5e-7,
		}
	}
	for k, v := range timing {
		t[k] = v
	}
	return t
}

// HasTiming reports whether the table constrains timing at all
func (t Table) HasTiming() bool {
	_, ok := t[FClk]
	return ok
}

package measure

import "fmt"

// Param identifies one electrical or timing parameter
type Param int

const (
	VLowSCL Param = iota
	VHighSCL
	VLowSDA
	VHighSDA

	VNLSCL
	VNHSCL
	VNLSDA
	VNHSDA

	TRiseSCL
	TFallSCL
	TRiseSDA
	TFallSDA

	TLow
	THigh
	TClk
	FClk

	TSuDatHostRising
	TSuDatHostFalling
	TSuDatDevRising
	TSuDatDevFalling

	THdDatHostRising
	THdDatHostFalling
	THdDatDevRising
	THdDatDevFalling

	THdStaS
	THdStaSr
	TSuSta
	TSuSto
	TBuf

	numParams
)

// Family groups parameters that share an evaluation rule
type Family int

const (
	FamilyVoltage Family = iota
	FamilyNoiseMargin
	FamilyEdge
	FamilyPeriod
	FamilyClock
	FamilyHold
)

// Unit is the display unit of a parameter
type Unit string

const (
	UnitVolt   Unit = "V"
	UnitSecond Unit = "s"
	UnitHertz  Unit = "Hz"
	// UnitRatio is a fraction of the supply voltage
	UnitRatio Unit = "VS"
)

type paramInfo struct {
	key     string
	family  Family
	unit    Unit
	derived bool
}

var params = [numParams]paramInfo{
	VLowSCL:  {"v_low_scl", FamilyVoltage, UnitVolt, false},
	VHighSCL: {"v_high_scl", FamilyVoltage, UnitVolt, false},
	VLowSDA:  {"v_low_sda", FamilyVoltage, UnitVolt, false},
	VHighSDA: {"v_high_sda", FamilyVoltage, UnitVolt, false},

	VNLSCL: {"v_nl_scl", FamilyNoiseMargin, UnitRatio, true},
	VNHSCL: {"v_nh_scl", FamilyNoiseMargin, UnitRatio, true},
	VNLSDA: {"v_nl_sda", FamilyNoiseMargin, UnitRatio, true},
	VNHSDA: {"v_nh_sda", FamilyNoiseMargin, UnitRatio, true},

	TRiseSCL: {"t_rise_scl", FamilyEdge, UnitSecond, false},
	TFallSCL: {"t_fall_scl", FamilyEdge, UnitSecond, false},
	TRiseSDA: {"t_rise_sda", FamilyEdge, UnitSecond, false},
	TFallSDA: {"t_fall_sda", FamilyEdge, UnitSecond, false},

	TLow:  {"t_low", FamilyPeriod, UnitSecond, false},
	THigh: {"t_high", FamilyPeriod, UnitSecond, false},
	TClk:  {"T_clk", FamilyClock, UnitSecond, false},
	FClk:  {"f_clk", FamilyClock, UnitHertz, true},

	TSuDatHostRising:  {"t_SU_DAT_host_rising", FamilyPeriod, UnitSecond, false},
	TSuDatHostFalling: {"t_SU_DAT_host_falling", FamilyPeriod, UnitSecond, false},
	TSuDatDevRising:   {"t_SU_DAT_dev_rising", FamilyPeriod, UnitSecond, false},
	TSuDatDevFalling:  {"t_SU_DAT_dev_falling", FamilyPeriod, UnitSecond, false},

	THdDatHostRising:  {"t_HD_DAT_host_rising", FamilyHold, UnitSecond, false},
	THdDatHostFalling: {"t_HD_DAT_host_falling", FamilyHold, UnitSecond, false},
	THdDatDevRising:   {"t_HD_DAT_dev_rising", FamilyHold, UnitSecond, false},
	THdDatDevFalling:  {"t_HD_DAT_dev_falling", FamilyHold, UnitSecond, false},

	THdStaS:  {"t_HD_STA_S", FamilyPeriod, UnitSecond, false},
	THdStaSr: {"t_HD_STA_Sr", FamilyPeriod, UnitSecond, false},
	TSuSta:   {"t_SU_STA", FamilyPeriod, UnitSecond, false},
	TSuSto:   {"t_SU_STO", FamilyPeriod, UnitSecond, false},
	TBuf:     {"t_BUF", FamilyPeriod, UnitSecond, false},
}

// All returns every parameter in report order
func All() []Param {
	out := make([]Param, 0, numParams)
	for p := Param(0); p < numParams; p++ {
		out = append(out, p)
	}
	return out
}

// Key returns the stable name used in storage and reports
func (p Param) Key() string {
	if !p.Valid() {
		return fmt.Sprintf("param(%d)", int(p))
	}
	return params[p].key
}

func (p Param) String() string { return p.Key() }

// Family returns the evaluation family of the parameter
func (p Param) Family() Family { return params[p].family }

// Unit returns the display unit of the parameter
func (p Param) Unit() Unit { return params[p].unit }

// Derived reports whether the parameter is computed from other measurements
func (p Param) Derived() bool { return params[p].derived }

// Valid reports whether p is a known parameter
func (p Param) Valid() bool { return p >= 0 && p < numParams }

// Lookup finds a parameter by its key
func Lookup(key string) (Param, bool) {
	for p := Param(0); p < numParams; p++ {
		if params[p].key == key {
			return p, true
		}
	}
	return 0, false
}

// Channel names a bus line
type Channel string

const (
	SCL Channel = "scl"
	SDA Channel = "sda"
)

// SetupData picks the setup-time parameter for a transition
func SetupData(device, rising bool) Param {
	switch {
	case device && rising:
		return TSuDatDevRising
	case device:
		return TSuDatDevFalling
	case rising:
		return TSuDatHostRising
	default:
		return TSuDatHostFalling
	}
}

// HoldData picks the hold-time parameter for a transition
func HoldData(device, rising bool) Param {
	switch {
	case device && rising:
		return THdDatDevRising
	case device:
		return THdDatDevFalling
	case rising:
		return THdDatHostRising
	default:
		return THdDatHostFalling
	}
}

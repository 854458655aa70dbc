package decoder

import "fmt"

// Cycles per byte on the wire: eight data bits and the acknowledge
const (
	BitsPerByte   = 8
	CyclesPerByte = 9
)

// State is the bus transaction state threaded through the decode pass
type State struct {
	// Stop is set while the bus is idle
	Stop    bool
	Start   bool
	Restart bool

	// Open is set between a START or RESTART and the next STOP
	Open bool

	// Cycle counts SCL high phases in the current byte, 0 before the first
	Cycle int

	// FirstPacket marks the address byte following START or RESTART
	FirstPacket bool
	Read        bool
	Address     string

	// FallCycle and FallFirst are latched at each SCL falling edge, before the
	// byte counter wraps, so data changes in the following low phase know
	// which bit they belong to
	FallCycle int
	FallFirst bool
}

// Idle returns the state of a bus before any traffic
func Idle() State {
	return State{Stop: true}
}

// SetupByDevice reports whether a data change before the next rising edge is
// driven by the device
func (s State) SetupByDevice() bool {
	ack := s.Cycle == BitsPerByte
	switch {
	case s.FirstPacket:
		return ack
	case s.Read:
		return !ack
	default:
		return ack
	}
}

// HoldByDevice reports whether a data change after the last falling edge
// releases a bit driven by the device
func (s State) HoldByDevice() bool {
	ack := s.FallCycle == CyclesPerByte
	switch {
	case s.FallFirst:
		return ack
	case s.Read:
		return !ack
	default:
		return ack
	}
}

// Address is one decoded address byte
type Address struct {
	Bits string `json:"bits"`
	Read bool   `json:"read"`
}

// String returns the seven address bits followed by the direction bit
func (a Address) String() string {
	if a.Read {
		return a.Bits + "1"
	}
	return a.Bits + "0"
}

// Hex formats the 7-bit address as 0xNN
func (a Address) Hex() string {
	var v int
	for _, b := range a.Bits {
		v <<= 1
		if b == '1' {
			v |= 1
		}
	}
	return fmt.Sprintf("0x%02X", v)
}

// Direction returns "R" or "W"
func (a Address) Direction() string {
	if a.Read {
		return "R"
	}
	return "W"
}

// Counters summarise the waveform
type Counters struct {
	SCLRising  int `json:"scl_rising"`
	SCLFalling int `json:"scl_falling"`
	SDARising  int `json:"sda_rising"`
	SDAFalling int `json:"sda_falling"`
	Starts     int `json:"starts"`
	Restarts   int `json:"restarts"`
	Stops      int `json:"stops"`
}

package measure

import (
	"golang.org/x/exp/slices"
)

// Occurrence is one measured event located in the capture
// Index is a fractional sample index; Width is the on-screen span of the event in samples
type Occurrence struct {
	Index float64 `json:"index"`
	Value float64 `json:"value"`
	Width float64 `json:"width,omitempty"`
}

// Extrema holds the largest and smallest occurrence of a parameter
type Extrema struct {
	Max Occurrence `json:"max"`
	Min Occurrence `json:"min"`
}

// Aggregator reduces a stream of measurements into per-parameter extrema
type Aggregator struct {
	seen   [numParams]bool
	values [numParams]Extrema
	runts  map[Channel][]Occurrence
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{runts: make(map[Channel][]Occurrence)}
}

// Add records one measurement of p
func (a *Aggregator) Add(p Param, o Occurrence) {
	if !p.Valid() {
		return
	}
	if !a.seen[p] {
		a.seen[p] = true
		a.values[p] = Extrema{Max: o, Min: o}
		return
	}

	e := &a.values[p]
	if e.Max.Value < o.Value {
		e.Max = o
	} else if e.Min.Value > o.Value {
		e.Min = o
	}
}

// AddRunt appends a runt pulse seen on channel ch
func (a *Aggregator) AddRunt(ch Channel, o Occurrence) {
	a.runts[ch] = append(a.runts[ch], o)
}

// Get returns the extrema of p, if any were recorded
func (a *Aggregator) Get(p Param) (Extrema, bool) {
	if !p.Valid() || !a.seen[p] {
		return Extrema{}, false
	}
	return a.values[p], true
}

// Snapshot copies the current state so later updates do not leak into it
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Values: make(map[Param]Extrema),
		Runts:  make(map[Channel][]Occurrence, len(a.runts)),
	}
	for p := Param(0); p < numParams; p++ {
		if a.seen[p] {
			s.Values[p] = a.values[p]
		}
	}
	for ch, list := range a.runts {
		s.Runts[ch] = slices.Clone(list)
	}
	return s
}

// Snapshot is an immutable view of aggregated measurements
type Snapshot struct {
	Values map[Param]Extrema
	Runts  map[Channel][]Occurrence
}

// Get returns the extrema of p from the snapshot
func (s Snapshot) Get(p Param) (Extrema, bool) {
	e, ok := s.Values[p]
	return e, ok
}

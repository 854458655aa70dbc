package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoOverlap is returned when two captures share no samples in time
	ErrNoOverlap = errors.New("captures do not overlap")

	// ErrRateMismatch is returned when two captures use different sampling periods
	ErrRateMismatch = errors.New("captures use different sampling periods")
)

// Capture is a set of analog channels sampled on a common clock
type Capture struct {
	// Name identifies the capture, usually the file it came from
	Name string `json:"name"`
	// Source is the name of the Source that loaded it
	Source string `json:"source"`
	// Start is the time of the first sample, zero when the format has none
	Start          time.Time `json:"start"`
	SamplingPeriod float64   `json:"sampling_period"`
	// Channels names the columns of Samples in file order
	Channels []string `json:"channels"`
	// Samples holds one row per sample and one column per channel
	Samples *mat.Dense `json:"-"`
}

// Len returns the number of samples per channel
func (c *Capture) Len() int {
	if c.Samples == nil {
		return 0
	}
	r, _ := c.Samples.Dims()
	return r
}

// Channel copies out the samples of column i
func (c *Capture) Channel(i int) ([]float64, error) {
	if c.Samples == nil {
		return nil, fmt.Errorf("capture %q holds no samples", c.Name)
	}
	if _, cols := c.Samples.Dims(); i < 0 || i >= cols {
		return nil, fmt.Errorf("capture %q has no channel %d", c.Name, i)
	}
	return mat.Col(nil, i, c.Samples), nil
}

// Duration returns the time covered by the capture
func (c *Capture) Duration() time.Duration {
	return time.Duration(float64(c.Len()) * c.SamplingPeriod * float64(time.Second))
}

// Source is the interface that all capture readers must implement
type Source interface {
	// Name returns the unique name of the source format
	Name() string

	// Description returns a human-readable description
	Description() string

	// Load reads a capture from path
	Load(ctx context.Context, path string) (*Capture, error)
}

// SourceInfo provides metadata about a source
type SourceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Channels is how many channels one file carries
	Channels int `json:"channels"`
}

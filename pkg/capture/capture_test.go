package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVSource(t *testing.T) {
	path := writeFile(t, "bus.csv", "Time [s],CH1,CH2\n0,3.3,0.1\n1e-8,3.2,0.2\n2e-8,3.1,0.3\n")

	c, err := (&CSVSource{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "bus.csv", c.Name)
	assert.Equal(t, "csv", c.Source)
	assert.Equal(t, []string{"CH1", "CH2"}, c.Channels)
	assert.InDelta(t, 1e-8, c.SamplingPeriod, 1e-20)
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Start.IsZero())

	ch2, err := c.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, ch2)

	_, err = c.Channel(2)
	assert.Error(t, err)
}

func TestCSVSourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"narrow header", "time,CH1\n0,1\n1,1\n"},
		{"single sample", "t,a,b\n0,1,1\n"},
		{"bad value", "t,a,b\n0,1,1\n1e-8,x,1\n"},
		{"short row", "t,a,b\n0,1,1\n1e-8,1\n"},
		{"backwards time", "t,a,b\n1e-8,1,1\n0,1,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.csv", tt.content)
			if _, err := (&CSVSource{}).Load(context.Background(), path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	_, err := (&CSVSource{}).Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVSourceCancelled(t *testing.T) {
	path := writeFile(t, "bus.csv", "t,a,b\n0,1,1\n1e-8,1,1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&CSVSource{}).Load(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRigolSource(t *testing.T) {
	content := strings.Join([]string{
		"X,CH1,CH2,Start,Increment,",
		"Sequence,Volt,Volt,-1.000000e-03,2.000000e-09",
		"0,3.28,0.04,",
		"1,3.30,0.02,",
		"2,1.60,0.03,",
		"",
	}, "\n")
	path := writeFile(t, "NewFile1.csv", content)

	c, err := (&RigolSource{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "rigol", c.Source)
	assert.Equal(t, []string{"CH1", "CH2"}, c.Channels)
	assert.InDelta(t, 2e-9, c.SamplingPeriod, 1e-21)
	ch1, err := c.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.28, 3.30, 1.60}, ch1)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch1 := []float64{3.3, 3.3, 0, 0}
	ch2 := []float64{0, 1.65, 3.3, 3.3}
	require.NoError(t, WriteCSV(&buf, 1e-8, [2]string{"SCL", "SDA"}, ch1, ch2))

	path := writeFile(t, "synth.csv", buf.String())
	c, err := (&CSVSource{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SCL", "SDA"}, c.Channels)
	assert.InDelta(t, 1e-8, c.SamplingPeriod, 1e-20)
	got, err := c.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, ch2, got)

	assert.Error(t, WriteCSV(&buf, 1e-8, [2]string{"a", "b"}, ch1, ch2[:1]))
}

func TestTraceSource(t *testing.T) {
	content := "2020-07-21 10:15:30\t123456789012\n1e-08\n3.3\n3.2\n\n0.1\n"
	path := writeFile(t, "SCL.txt", content)

	c, err := (&TraceSource{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SCL"}, c.Channels)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 123456789, c.Start.Nanosecond())
	assert.Equal(t, 30, c.Start.Second())
	assert.InDelta(t, 1e-8, c.SamplingPeriod, 1e-20)
}

func TestWriteTraceRoundTrip(t *testing.T) {
	start := time.Date(2021, 3, 4, 5, 6, 7, 500, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, start, 2e-9, []float64{0.5, 3.25}))

	c, err := (&TraceSource{}).Load(context.Background(), writeFile(t, "SDA.txt", buf.String()))
	require.NoError(t, err)
	assert.True(t, start.Equal(c.Start))
	assert.InDelta(t, 2e-9, c.SamplingPeriod, 1e-21)
	got, err := c.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 3.25}, got)
}

func TestTraceTimeRoundTrip(t *testing.T) {
	want := time.Date(2021, 3, 4, 5, 6, 7, 890, time.UTC)
	got, err := ParseTraceTime(FormatTraceTime(want))
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v, want %v", got, want)

	for _, bad := range []string{"2021-03-04 05:06:07", "2021-03-04 05:06:07\t12", "yesterday\t000000000000"} {
		_, err := ParseTraceTime(bad)
		assert.Error(t, err, bad)
	}
}

func single(start time.Time, period float64, data ...float64) *Capture {
	return &Capture{
		Start:          start,
		SamplingPeriod: period,
		Channels:       []string{"x"},
		Samples:        mat.NewDense(len(data), 1, data),
	}
}

func TestAlign(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		a, b       *Capture
		first      []float64
		second     []float64
		shift      int
		wantErr    error
		wantAnyErr bool
	}{
		{
			name:   "same start",
			a:      single(t0, 1e-8, 1, 2, 3, 4),
			b:      single(t0, 1e-8, 5, 6, 7),
			first:  []float64{1, 2, 3},
			second: []float64{5, 6, 7},
		},
		{
			name:   "first starts earlier",
			a:      single(t0, 1e-8, 1, 2, 3, 4, 5),
			b:      single(t0.Add(20*time.Nanosecond), 1e-8, 6, 7, 8, 9, 10),
			first:  []float64{3, 4, 5},
			second: []float64{6, 7, 8},
			shift:  2,
		},
		{
			name:   "second starts earlier",
			a:      single(t0.Add(11*time.Nanosecond), 1e-8, 1, 2, 3),
			b:      single(t0, 1e-8, 4, 5, 6, 7),
			first:  []float64{1, 2, 3},
			second: []float64{5, 6, 7},
			shift:  -1,
		},
		{
			name:    "no overlap",
			a:       single(t0, 1e-8, 1, 2, 3),
			b:       single(t0.Add(time.Microsecond), 1e-8, 4, 5, 6),
			wantErr: ErrNoOverlap,
		},
		{
			name:    "rate mismatch",
			a:       single(t0, 1e-8, 1, 2, 3),
			b:       single(t0, 2e-8, 4, 5, 6),
			wantErr: ErrRateMismatch,
		},
		{
			name:       "missing capture",
			a:          single(t0, 1e-8, 1, 2, 3),
			wantAnyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Align(tt.a, tt.b)
			if tt.wantErr != nil || tt.wantAnyErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Fatalf("Align() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.first, got.First)
			assert.Equal(t, tt.second, got.Second)
			assert.Equal(t, tt.shift, got.Shift)
		})
	}
}

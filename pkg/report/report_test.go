package report

import (
	"io"
	"log"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stored(t *testing.T, grade spec.Grade) (*Generator, *db.Run, *Waveform) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	w := synth.Generate(synth.DefaultConfig(), []synth.Transfer{
		{Address: 0x50, Data: []byte{0x42}},
		{Address: 0x50, Read: true, Data: []byte{0x99}, Restart: true},
	})
	r, err := analyzer.Analyze(w.SCL, w.SDA, w.SamplingPeriod, analyzer.Options{
		Grade:  grade,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	run, err := database.CreateRun("bus.csv", "csv", nil)
	require.NoError(t, err)
	require.NoError(t, database.SaveReport(run, r, nil))

	g := NewGenerator(database)
	g.SystemInfo = func() SystemInfo {
		return SystemInfo{Hostname: "bench-01", Architecture: "amd64"}
	}
	return g, run, &Waveform{SCL: w.SCL, SDA: w.SDA, SamplingPeriod: w.SamplingPeriod}
}

func TestGenerateHTML(t *testing.T) {
	g, run, _ := stored(t, "")

	html, err := g.GenerateHTML(run.ID, nil)
	require.NoError(t, err)

	for _, want := range []string{
		"Hummingbird I2C Report",
		"Standard Mode",
		"0x50 W",
		"0x50 R",
		"t_SU_DAT_host_rising",
		"Noise margins",
		"restarts",
		"bench-01",
		`class="status pass"`,
	} {
		assert.Contains(t, html, want)
	}
	assert.NotContains(t, html, "<svg", "no plots without a waveform")
}

func TestGenerateHTMLWithPlots(t *testing.T) {
	g, run, wf := stored(t, spec.Fast)

	data, err := g.LoadReportData(run.ID, wf)
	require.NoError(t, err)
	require.NotEmpty(t, data.Plots, "fast mode hold limit fails")
	assert.True(t, strings.HasPrefix(string(data.Plots[0].SVG), "<svg"))
	assert.Contains(t, data.Plots[0].Title, "t_HD_DAT")

	html, err := g.GenerateHTML(run.ID, wf)
	require.NoError(t, err)
	assert.Contains(t, html, "Worst cases")
	assert.Contains(t, html, `class="status fail"`)
}

func TestGenerateHTMLMissingRun(t *testing.T) {
	g, _, _ := stored(t, "")
	_, err := g.GenerateHTML(404, nil)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestGroupResults(t *testing.T) {
	results := []*db.Result{
		{Param: "t_low", Unit: "s", Max: db.NewFloat(5e-6), Min: db.NewFloat(4.9e-6), Worst: db.NewFloat(4.9e-6),
			Limit: db.NewFloat(4.7e-6), Margin: db.NewFloat(2e-7), MarginPercent: db.NewFloat(4.26), Evaluated: true, Pass: true},
		{Param: "v_low_scl", Unit: "V", Max: db.NewFloat(0.1), Min: db.NewFloat(0.02), Worst: db.NewFloat(0.1)},
		{Param: "unknown_param", Unit: "s"},
	}

	groups := groupResults(results)
	require.Len(t, groups, 2)
	assert.Equal(t, "Voltage levels", groups[0].Name)
	assert.Equal(t, "N/A", groups[0].Params[0].Limit)
	assert.Equal(t, "Bus timing", groups[1].Name)

	row := groups[1].Params[0]
	assert.Equal(t, "4.900 µs", row.Worst)
	assert.Equal(t, "200.000 ns", row.Margin)
	assert.Equal(t, "4.3%", row.MarginPercent)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value float64
		unit  string
		want  string
	}{
		{1e5, "Hz", "100.000 kHz"},
		{3.3, "V", "3.300 V"},
		{0.25, "VS", "0.250 VS"},
		{-1e-8, "s", "-10.000 ns"},
		{0, "s", "0 s"},
		{2e-13, "s", "0.200 ps"},
		{math.Inf(1), "s", "N/A"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(db.NewFloat(tt.value), tt.unit))
		})
	}
}

func TestPlotEventWindow(t *testing.T) {
	wf := &Waveform{SCL: make([]float64, 1000), SDA: make([]float64, 1000), SamplingPeriod: 1e-8}

	from, to := wf.window(10, 5)
	assert.Equal(t, 0, from)
	assert.Equal(t, 115, to)

	from, to = wf.window(990, 0)
	assert.Equal(t, 890, from)
	assert.Equal(t, 1000, to)

	_, err := wf.PlotEvent("outside", 5000, 0)
	assert.Error(t, err)

	_, err = (*Waveform)(nil).PlotEvent("none", 0, 0)
	assert.Error(t, err)
}

func TestDefaultPDFOptions(t *testing.T) {
	opts := DefaultPDFOptions()
	assert.True(t, opts.PrintBackground)
	assert.Equal(t, 8.5, opts.PaperWidth)

	params := printParams(&opts)
	assert.Equal(t, 11.0, params.PaperHeight)
	assert.True(t, params.PrintBackground)
	assert.Empty(t, params.HeaderTemplate)
}

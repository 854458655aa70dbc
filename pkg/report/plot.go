package report

import (
	"bytes"
	"fmt"
	"html/template"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/colornames"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	// minPadding is the least number of samples drawn around an event
	minPadding = 100
	// maxPoints caps the points per trace; longer windows are decimated
	maxPoints = 2000
	maxPlots  = 8

	plotWidth  = 520
	plotHeight = 220
)

// Waveform is the analysed capture window a run's indices refer to
type Waveform struct {
	SCL            []float64
	SDA            []float64
	SamplingPeriod float64
}

// Plot is a rendered waveform excerpt
type Plot struct {
	Title string
	SVG   template.HTML
}

// window returns the sample range drawn around an event at index spanning
// width samples
func (w *Waveform) window(index, width float64) (int, int) {
	pad := math.Max(4*width, minPadding)
	from := int(math.Floor(index - pad))
	to := int(math.Ceil(index + width + pad))
	if from < 0 {
		from = 0
	}
	if to > len(w.SCL) {
		to = len(w.SCL)
	}
	return from, to
}

func (w *Waveform) trace(data []float64, from, to int) plotter.XYs {
	step := (to-from)/maxPoints + 1
	xys := make(plotter.XYs, 0, (to-from)/step+1)
	for i := from; i < to; i += step {
		xys = append(xys, plotter.XY{X: float64(i) * w.SamplingPeriod * 1e6, Y: data[i]})
	}
	return xys
}

// PlotEvent draws both lines around an event and marks its span
func (w *Waveform) PlotEvent(title string, index, width float64) (Plot, error) {
	if w == nil || len(w.SCL) == 0 || len(w.SCL) != len(w.SDA) {
		return Plot{}, fmt.Errorf("no waveform to plot")
	}
	from, to := w.window(index, width)
	if to-from < 2 {
		return Plot{}, fmt.Errorf("event at sample %g is outside the waveform", index)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (µs)"
	p.Y.Label.Text = "voltage (V)"
	p.BackgroundColor = colornames.Snow
	p.Legend.Top = true
	p.Legend.Padding = vg.Points(4)
	p.Add(plotter.NewGrid())

	for _, tr := range []struct {
		name  string
		data  []float64
		color color.RGBA
	}{
		{"SCL", w.SCL, colornames.Darkmagenta},
		{"SDA", w.SDA, colornames.Darkcyan},
	} {
		line, err := plotter.NewLine(w.trace(tr.data, from, to))
		if err != nil {
			return Plot{}, fmt.Errorf("failed to draw %s: %w", tr.name, err)
		}
		line.Color = tr.color
		p.Add(line)
		p.Legend.Add(tr.name, line)
	}

	lo, hi := p.Y.Min, p.Y.Max
	for _, at := range []float64{index, index + width} {
		x := at * w.SamplingPeriod * 1e6
		marker, err := plotter.NewLine(plotter.XYs{{X: x, Y: lo}, {X: x, Y: hi}})
		if err != nil {
			return Plot{}, fmt.Errorf("failed to draw marker: %w", err)
		}
		marker.Color = colornames.Crimson
		marker.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(marker)
		if width == 0 {
			break
		}
	}

	svg, err := renderSVG(p)
	if err != nil {
		return Plot{}, err
	}
	return Plot{Title: title, SVG: svg}, nil
}

func renderSVG(p *plot.Plot) (template.HTML, error) {
	wt, err := p.WriterTo(vg.Points(plotWidth), vg.Points(plotHeight), "svg")
	if err != nil {
		return "", fmt.Errorf("failed to render plot: %w", err)
	}

	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("failed to write plot: %w", err)
	}

	// drop the XML prolog so the SVG can be inlined
	out := buf.String()
	if i := strings.Index(out, "<svg"); i > 0 {
		out = out[i:]
	}
	return template.HTML(out), nil // #nosec G203 -- generated by gonum/plot
}

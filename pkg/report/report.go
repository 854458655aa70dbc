// Package report renders stored analysis runs as HTML and PDF documents
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ReportData contains all data needed for report generation
type ReportData struct {
	Run         *db.Run
	Groups      []ParamGroup
	Runts       []*db.Runt
	Counters    []Counter
	Plots       []Plot
	GeneratedAt time.Time
	SystemInfo  SystemInfo
}

// ParamGroup lists the parameters of one family
type ParamGroup struct {
	Name   string
	Params []ParamRow
}

// ParamRow is one formatted result line
type ParamRow struct {
	Name          string
	Max           string
	Min           string
	Worst         string
	Limit         string
	Margin        string
	MarginPercent string
	Evaluated     bool
	Pass          bool
}

// Counter is a named waveform count
type Counter struct {
	Name  string
	Value interface{}
}

var familyNames = map[measure.Family]string{
	measure.FamilyVoltage:     "Voltage levels",
	measure.FamilyNoiseMargin: "Noise margins",
	measure.FamilyEdge:        "Rise and fall times",
	measure.FamilyClock:       "Clock",
	measure.FamilyPeriod:      "Bus timing",
	measure.FamilyHold:        "Data hold",
}

var familyOrder = []measure.Family{
	measure.FamilyVoltage,
	measure.FamilyNoiseMargin,
	measure.FamilyEdge,
	measure.FamilyClock,
	measure.FamilyPeriod,
	measure.FamilyHold,
}

// Generator creates reports from stored runs
type Generator struct {
	database *db.DB
	// SystemInfo fills the host block; nil leaves it empty
	SystemInfo func() SystemInfo
}

// NewGenerator creates a new report generator
func NewGenerator(database *db.DB) *Generator {
	return &Generator{
		database:   database,
		SystemInfo: GetSystemInfo,
	}
}

// GenerateHTML generates an HTML report for a run. Waveform plots are
// included around failing parameters when wf holds the analysed samples
func (g *Generator) GenerateHTML(runID int64, wf *Waveform) (string, error) {
	data, err := g.LoadReportData(runID, wf)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := Render(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadReportData gathers a run and formats it for rendering
func (g *Generator) LoadReportData(runID int64, wf *Waveform) (*ReportData, error) {
	export, err := g.database.Load(runID)
	if err != nil {
		return nil, err
	}

	data := &ReportData{
		Run:         export.Run,
		Groups:      groupResults(export.Results),
		Runts:       export.Runts,
		Counters:    counters(export.Run.Counters),
		GeneratedAt: time.Now(),
	}
	if g.SystemInfo != nil {
		data.SystemInfo = g.SystemInfo()
	}
	if wf != nil {
		data.Plots = plots(export.Results, wf)
	}
	return data, nil
}

// Render executes the report template
func Render(w io.Writer, data *ReportData) error {
	tmpl, err := loadHTMLTemplate()
	if err != nil {
		return err
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

func groupResults(results []*db.Result) []ParamGroup {
	byFamily := make(map[measure.Family][]ParamRow)
	for _, r := range results {
		p, ok := measure.Lookup(r.Param)
		if !ok {
			continue
		}
		byFamily[p.Family()] = append(byFamily[p.Family()], ParamRow{
			Name:          r.Param,
			Max:           FormatValue(r.Max, r.Unit),
			Min:           FormatValue(r.Min, r.Unit),
			Worst:         FormatValue(r.Worst, r.Unit),
			Limit:         evaluatedValue(r, r.Limit, r.Unit),
			Margin:        evaluatedValue(r, r.Margin, r.Unit),
			MarginPercent: FormatPercent(r),
			Evaluated:     r.Evaluated,
			Pass:          r.Pass,
		})
	}

	var groups []ParamGroup
	for _, f := range familyOrder {
		if rows := byFamily[f]; len(rows) > 0 {
			groups = append(groups, ParamGroup{Name: familyNames[f], Params: rows})
		}
	}
	return groups
}

func counters(data db.JSONData) []Counter {
	keys := maps.Keys(data)
	slices.Sort(keys)

	out := make([]Counter, 0, len(keys))
	for _, k := range keys {
		out = append(out, Counter{Name: k, Value: data[k]})
	}
	return out
}

func plots(results []*db.Result, wf *Waveform) []Plot {
	var out []Plot
	for _, r := range results {
		if len(out) == maxPlots {
			break
		}
		if !r.Evaluated || r.Pass || !r.WorstIndex.Valid {
			continue
		}
		width := 0.0
		if r.Width.Valid {
			width = r.Width.Float64
		}
		title := fmt.Sprintf("%s worst case %s", r.Param, FormatValue(r.Worst, r.Unit))
		p, err := wf.PlotEvent(title, r.WorstIndex.Float64, width)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func evaluatedValue(r *db.Result, f db.Float, unit string) string {
	if !r.Evaluated {
		return "N/A"
	}
	return FormatValue(f, unit)
}

// FormatPercent formats the margin percentage of an evaluated result
func FormatPercent(r *db.Result) string {
	if !r.Evaluated || !r.MarginPercent.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", r.MarginPercent.Float64)
}

// FormatValue formats a stored value in its unit, N/A when null
func FormatValue(f db.Float, unit string) string {
	if !f.Valid {
		return "N/A"
	}
	switch measure.Unit(unit) {
	case measure.UnitSecond, measure.UnitHertz:
		return scaled(f.Float64, unit)
	default:
		return fmt.Sprintf("%.3f %s", f.Float64, unit)
	}
}

var prefixes = []struct {
	factor float64
	symbol string
}{
	{1e6, "M"},
	{1e3, "k"},
	{1, ""},
	{1e-3, "m"},
	{1e-6, "µ"},
	{1e-9, "n"},
}

// scaled formats v with an SI prefix
func scaled(v float64, unit string) string {
	a := math.Abs(v)
	if a == 0 {
		return "0 " + unit
	}
	for _, p := range prefixes {
		if a >= p.factor {
			return fmt.Sprintf("%.3f %s%s", v/p.factor, p.symbol, unit)
		}
	}
	return fmt.Sprintf("%.3f p%s", v*1e12, unit)
}

func loadHTMLTemplate() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Format("2006-01-02 15:04:05")
		},
		"formatDuration": func(d time.Duration) string {
			return fmt.Sprintf("%.2f seconds", d.Seconds())
		},
		"status": func(run *db.Run) string {
			return string(run.GetStatus())
		},
		"hertz": func(v float64) string {
			return scaled(v, "Hz")
		},
		"seconds": func(v float64) string {
			return scaled(v, "s")
		},
		"micros": func(index, period float64) string {
			return fmt.Sprintf("%.3f", index*period*1e6)
		},
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Hummingbird I2C Report - Run #{{.Run.ID}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            line-height: 1.5;
            color: #333;
            max-width: 1200px;
            margin: 0 auto;
            padding: 20px;
            background-color: #f5f5f5;
        }
        .container {
            background-color: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            padding: 30px;
        }
        h1, h2, h3 {
            color: #2c3e50;
        }
        .header {
            border-bottom: 3px solid #1A73E8;
            padding-bottom: 20px;
            margin-bottom: 30px;
        }
        .status {
            display: inline-block;
            padding: 5px 15px;
            border-radius: 4px;
            font-weight: bold;
            text-transform: uppercase;
            color: white;
        }
        .status.pass { background-color: #10B981; }
        .status.fail { background-color: #EF4444; }
        .status.error { background-color: #6B7280; }
        .status.running { background-color: #F59E0B; }
        .info-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(220px, 1fr));
            gap: 20px;
            margin: 20px 0;
        }
        .info-card {
            background-color: #f8f9fa;
            padding: 15px;
            border-radius: 4px;
            border-left: 4px solid #1A73E8;
        }
        .info-card h3 {
            margin: 0 0 10px 0;
            color: #666;
            font-size: 0.9em;
            text-transform: uppercase;
        }
        .info-card p {
            margin: 0;
            font-size: 1.1em;
            font-weight: 500;
        }
        .section {
            margin: 30px 0;
        }
        table {
            width: 100%;
            border-collapse: collapse;
        }
        th, td {
            padding: 8px;
            text-align: left;
            border-bottom: 1px solid #e0e0e0;
            font-size: 0.95em;
        }
        th {
            background-color: #f8f9fa;
            font-weight: 600;
            color: #666;
        }
        tr.fail td { background-color: #FEF2F2; }
        tr.na td { color: #999; }
        .plot { margin: 20px 0; }
        .footer {
            margin-top: 40px;
            padding-top: 20px;
            border-top: 1px solid #e0e0e0;
            text-align: center;
            color: #666;
            font-size: 0.9em;
        }
        .error-section {
            background-color: #FEE;
            border: 1px solid #FCC;
            border-radius: 4px;
            padding: 15px;
            margin: 20px 0;
        }
        pre {
            background-color: #f4f4f4;
            padding: 10px;
            border-radius: 4px;
            overflow-x: auto;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Hummingbird I2C Report</h1>
            <p>Run ID: #{{.Run.ID}} | Capture: {{.Run.Capture}} ({{.Run.Format}}) |
               Status: <span class="status {{status .Run}}">{{status .Run}}</span>
            </p>
        </div>

        <div class="info-grid">
            <div class="info-card">
                <h3>Speed grade</h3>
                <p>{{if .Run.Grade}}{{.Run.Grade}}{{else}}N/A{{end}}</p>
            </div>
            <div class="info-card">
                <h3>Clock frequency</h3>
                <p>{{hertz .Run.FClk}}</p>
            </div>
            <div class="info-card">
                <h3>Working voltage</h3>
                <p>{{printf "%.2f V" .Run.VS}}</p>
            </div>
            <div class="info-card">
                <h3>Sampling period</h3>
                <p>{{seconds .Run.SamplingPeriod}}</p>
            </div>
            <div class="info-card">
                <h3>Verdict</h3>
                <p>{{.Run.Fails}} failing of {{.Run.Evaluated}} evaluated</p>
            </div>
            <div class="info-card">
                <h3>Analysed at</h3>
                <p>{{formatTime .Run.StartTime}}{{if .Run.EndTime}} ({{formatDuration .Run.Duration}}){{end}}</p>
            </div>
        </div>

        {{if .Run.Error}}
        <div class="error-section">
            <h3>Error Details</h3>
            <pre>{{.Run.Error}}</pre>
        </div>
        {{end}}

        {{if .Run.Addresses}}
        <div class="section">
            <h2>Addresses</h2>
            <p>{{range .Run.Addresses}}<code>{{.}}</code> {{end}}</p>
            {{if .Run.Swapped}}<p>Channel 2 carried SCL.</p>{{end}}
            <p>Decode window starts at sample {{.Run.Offset}}.</p>
        </div>
        {{end}}

        {{range .Groups}}
        <div class="section">
            <h2>{{.Name}}</h2>
            <table>
                <thead>
                    <tr>
                        <th>Parameter</th>
                        <th>Max</th>
                        <th>Min</th>
                        <th>Worst</th>
                        <th>Limit</th>
                        <th>Margin</th>
                        <th>Margin (%)</th>
                        <th>Result</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Params}}
                    <tr class="{{if not .Evaluated}}na{{else if not .Pass}}fail{{end}}">
                        <td>{{.Name}}</td>
                        <td>{{.Max}}</td>
                        <td>{{.Min}}</td>
                        <td>{{.Worst}}</td>
                        <td>{{.Limit}}</td>
                        <td>{{.Margin}}</td>
                        <td>{{.MarginPercent}}</td>
                        <td>{{if not .Evaluated}}N/A{{else if .Pass}}PASS{{else}}FAIL{{end}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        {{if .Plots}}
        <div class="section">
            <h2>Worst cases</h2>
            {{range .Plots}}
            <div class="plot">
                <h3>{{.Title}}</h3>
                {{.SVG}}
            </div>
            {{end}}
        </div>
        {{end}}

        {{if .Counters}}
        <div class="section">
            <h2>Bus counters</h2>
            <table>
                <tbody>
                    {{range .Counters}}
                    <tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        {{if .Runts}}
        <div class="section">
            <h2>Runt pulses</h2>
            <table>
                <thead>
                    <tr><th>Channel</th><th>Sample</th><th>Time (µs)</th><th>Width (samples)</th></tr>
                </thead>
                <tbody>
                    {{$period := .Run.SamplingPeriod}}
                    {{range .Runts}}
                    <tr><td>{{.Channel}}</td><td>{{printf "%.1f" .Index}}</td><td>{{micros .Index $period}}</td><td>{{printf "%.1f" .Width}}</td></tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        <div class="section">
            <h2>Host</h2>
            <p>{{.SystemInfo.Hostname}} {{.SystemInfo.Platform}} {{.SystemInfo.Architecture}}
               {{if .SystemInfo.CPUModel}}| {{.SystemInfo.CPUModel}} ({{.SystemInfo.CPUCores}} cores){{end}}
               {{if .SystemInfo.TotalMemory}}| {{.SystemInfo.TotalMemory}}{{end}}</p>
        </div>

        <div class="footer">
            <p>Generated by Hummingbird on {{formatTime .GeneratedAt}}</p>
        </div>
    </div>
</body>
</html>
`

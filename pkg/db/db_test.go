package db

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func analyze(t *testing.T, grade spec.Grade) *analyzer.Report {
	t.Helper()
	w := synth.Generate(synth.DefaultConfig(), []synth.Transfer{
		{Address: 0x50, Data: []byte{0xA5}},
		{Address: 0x50, Read: true, Data: []byte{0x01}, Restart: true},
	})
	r, err := analyzer.Analyze(w.SCL, w.SDA, w.SamplingPeriod, analyzer.Options{
		Grade:  grade,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	return r
}

func TestRunLifecycle(t *testing.T) {
	database := openTestDB(t)

	run, err := database.CreateRun("bus.csv", "csv", JSONData{"grade": "auto"})
	require.NoError(t, err)
	assert.NotZero(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.GetStatus())

	report := analyze(t, "")
	require.NoError(t, database.SaveReport(run, report, nil))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "bus.csv", got.Capture)
	assert.Equal(t, string(spec.Standard), got.Grade)
	assert.True(t, got.Success)
	assert.Equal(t, RunStatusPass, got.GetStatus())
	assert.InDelta(t, 3.3, got.VS, 1e-9)
	assert.Equal(t, StringList{"0x50 W", "0x50 R"}, got.Addresses)
	assert.EqualValues(t, 1, got.Counters["restarts"])
	assert.Equal(t, "auto", got.Options["grade"])
	require.NotNil(t, got.EndTime)

	results, err := database.GetResults(run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, measure.VLowSCL.Key(), results[0].Param, "results keep canonical order")

	evaluated := 0
	for _, r := range results {
		if r.Evaluated {
			evaluated++
		}
	}
	assert.Equal(t, report.Evaluated, evaluated)
}

func TestSaveFailedRun(t *testing.T) {
	database := openTestDB(t)

	run, err := database.CreateRun("broken.csv", "csv", nil)
	require.NoError(t, err)
	require.NoError(t, database.SaveReport(run, nil, analyzer.ErrNoVoltage))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, RunStatusError, got.GetStatus())
	assert.Contains(t, got.Error, "working voltage")
	assert.Empty(t, got.Addresses)

	results, err := database.GetResults(run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNonFiniteValuesAreNull(t *testing.T) {
	database := openTestDB(t)
	run, err := database.CreateRun("fmp.csv", "csv", nil)
	require.NoError(t, err)

	require.NoError(t, database.CreateResults(run.ID, []*Result{{
		Param:         measure.THdDatHostFalling.Key(),
		Unit:          "s",
		Max:           NewFloat(1e-7),
		Min:           NewFloat(2e-8),
		Worst:         NewFloat(2e-8),
		Limit:         NewFloat(0),
		Margin:        NewFloat(2e-8),
		MarginPercent: NewFloat(math.Inf(1)),
		Pass:          true,
		Evaluated:     true,
	}}))

	results, err := database.GetResults(run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].MarginPercent.Valid)
	assert.True(t, results[0].Limit.Valid)
	assert.Equal(t, "", results[0].MarginPercent.String())

	var buf bytes.Buffer
	require.NoError(t, database.ExportJSON(&buf, run.ID))

	var export struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	require.Len(t, export.Results, 1)
	assert.Nil(t, export.Results[0]["margin_percent"])
	assert.Equal(t, 0.0, export.Results[0]["limit"])
}

func TestListRunsAndFilters(t *testing.T) {
	database := openTestDB(t)

	for _, name := range []string{"a.csv", "b.csv", "a.csv"} {
		run, err := database.CreateRun(name, "csv", nil)
		require.NoError(t, err)
		require.NoError(t, database.SaveReport(run, analyze(t, spec.Fast), nil))
	}

	all, err := database.ListRuns(RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Greater(t, all[0].ID, all[2].ID, "newest first")

	onlyA, err := database.ListRuns(RunFilter{Capture: "a.csv"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, err := database.ListRuns(RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	ok := true
	succeeded, err := database.ListRuns(RunFilter{Success: &ok, Grade: string(spec.Fast)})
	require.NoError(t, err)
	assert.Len(t, succeeded, 3)
	assert.Equal(t, RunStatusFail, succeeded[0].GetStatus(), "data hold exceeds the fast mode ceiling")

	failing, err := database.ListResults(ResultFilter{RunID: &all[0].ID, Failing: true})
	require.NoError(t, err)
	assert.Len(t, failing, all[0].Fails)
}

func TestRuntsAndDelete(t *testing.T) {
	database := openTestDB(t)
	run, err := database.CreateRun("noisy.csv", "csv", nil)
	require.NoError(t, err)

	require.NoError(t, database.CreateRunts(run.ID, []*Runt{
		{Channel: "sda", Index: 40, Width: 12},
		{Channel: "scl", Index: 90, Width: 15},
		{Channel: "scl", Index: 10, Width: 20},
	}))

	runts, err := database.GetRunts(run.ID)
	require.NoError(t, err)
	require.Len(t, runts, 3)
	assert.Equal(t, "scl", runts[0].Channel)
	assert.Equal(t, 10.0, runts[0].Index)
	assert.Equal(t, "sda", runts[2].Channel)

	require.NoError(t, database.DeleteRun(run.ID))
	_, err = database.GetRun(run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	runts, err = database.GetRunts(run.ID)
	require.NoError(t, err)
	assert.Empty(t, runts, "runts are removed with their run")

	assert.ErrorIs(t, database.DeleteRun(run.ID), ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	database := openTestDB(t)
	run, err := database.CreateRun("bus.csv", "csv", nil)
	require.NoError(t, err)
	report := analyze(t, "")
	require.NoError(t, database.SaveReport(run, report, nil))

	var buf bytes.Buffer
	require.NoError(t, database.ExportCSV(&buf, run.ID))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(records), 1)
	assert.Equal(t, csvHeaders, records[0])
	assert.Equal(t, len(report.Values), len(records)-1)
	assert.Equal(t, "bus.csv", records[1][1])
	assert.Equal(t, "0x50 W 0x50 R", records[1][16])

	buf.Reset()
	require.NoError(t, database.ExportAllCSV(&buf))
	all, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, len(records))

	buf.Reset()
	require.NoError(t, database.ExportAllJSON(&buf))
	var exports []RunExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &exports))
	require.Len(t, exports, 1)
	assert.Equal(t, run.ID, exports[0].Run.ID)

	assert.Error(t, database.ExportCSV(&buf, 999))
}

package db

import (
	"fmt"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/measure"
)

// ResultsFromReport flattens a report into result rows, one per measured
// parameter in canonical order
func ResultsFromReport(r *analyzer.Report) []*Result {
	var results []*Result
	for _, p := range measure.All() {
		v, ok := r.Values[p]
		if !ok {
			continue
		}

		row := &Result{
			Param: p.Key(),
			Unit:  string(p.Unit()),
			Max:   NewFloat(v.Max),
			Min:   NewFloat(v.Min),
			Worst: NewFloat(v.Worst),
		}
		if res, ok := r.Results[p]; ok {
			row.Evaluated = true
			row.Pass = res.Pass
			row.WorstIndex = NewFloat(res.WorstIndex)
			row.Width = NewFloat(res.Width)
			row.Limit = NewFloat(res.Limit)
			row.Margin = NewFloat(res.Margin)
			row.MarginPercent = NewFloat(res.MarginPercent)
		}
		results = append(results, row)
	}
	return results
}

// RuntsFromReport lists the runts of a report, SCL first
func RuntsFromReport(r *analyzer.Report) []*Runt {
	var runts []*Runt
	for _, ch := range []measure.Channel{measure.SCL, measure.SDA} {
		for _, o := range r.Runts[ch] {
			runts = append(runts, &Runt{Channel: string(ch), Index: o.Index, Width: o.Width})
		}
	}
	return runts
}

// SaveReport completes run with the outcome of an analysis and stores its
// results. A nil report with a non-nil err records a failed run
func (db *DB) SaveReport(run *Run, r *analyzer.Report, err error) error {
	end := time.Now()
	run.EndTime = &end

	if err != nil || r == nil {
		run.Success = false
		if err != nil {
			run.Error = err.Error()
		}
		return db.UpdateRun(run)
	}

	run.Success = true
	run.Grade = string(r.Grade)
	run.VS = r.Thresholds.VS
	run.SamplingPeriod = r.SamplingPeriod
	run.FClk = r.FClk
	run.Offset = r.Offset
	run.Swapped = r.Swapped
	run.Fails = r.Fails
	run.Evaluated = r.Evaluated

	run.Addresses = make(StringList, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		run.Addresses = append(run.Addresses, a.Hex()+" "+a.Direction())
	}
	run.Counters = JSONData{
		"scl_rising":  r.Counters.SCLRising,
		"scl_falling": r.Counters.SCLFalling,
		"sda_rising":  r.Counters.SDARising,
		"sda_falling": r.Counters.SDAFalling,
		"starts":      r.Counters.Starts,
		"restarts":    r.Counters.Restarts,
		"stops":       r.Counters.Stops,
	}

	if err := db.UpdateRun(run); err != nil {
		return err
	}
	if err := db.CreateResults(run.ID, ResultsFromReport(r)); err != nil {
		return fmt.Errorf("failed to store results of run %d: %w", run.ID, err)
	}
	if runts := RuntsFromReport(r); len(runts) > 0 {
		if err := db.CreateRunts(run.ID, runts); err != nil {
			return fmt.Errorf("failed to store runts of run %d: %w", run.ID, err)
		}
	}
	return nil
}

package schedule

import (
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
)

// Schedule re-analyzes a capture file on a cron expression. The capture is
// read afresh each time, so a logger overwriting it gets every snapshot
// checked
type Schedule struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CronExpr    string      `json:"cron_expr"`
	Capture     string      `json:"capture"`
	Format      string      `json:"format"`
	Options     db.JSONData `json:"options"`
	Enabled     bool        `json:"enabled"`
	LastRunID   *int64      `json:"last_run_id"`
	LastRunTime *time.Time  `json:"last_run_time"`
	NextRunTime *time.Time  `json:"next_run_time"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ScheduleFilter represents filters for querying schedules
type ScheduleFilter struct {
	Capture string
	Enabled *bool
	Limit   int
	Offset  int
}

// IsOverdue returns true if the schedule is overdue for execution
func (s *Schedule) IsOverdue() bool {
	if !s.Enabled || s.NextRunTime == nil {
		return false
	}
	return time.Now().After(*s.NextRunTime)
}

// ShouldRun returns true if the schedule should run now
func (s *Schedule) ShouldRun() bool {
	if !s.Enabled {
		return false
	}
	if s.LastRunTime == nil {
		return true
	}
	return s.IsOverdue()
}

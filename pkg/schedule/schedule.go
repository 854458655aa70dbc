package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/robfig/cron/v3"
)

// ErrNotFound is returned when no schedule matches
var ErrNotFound = errors.New("schedule not found")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next returns the first activation of expr after from
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched.Next(from), nil
}

const scheduleColumns = `id, name, description, cron_expr, capture, format, options, enabled,
	last_run_id, last_run_time, next_run_time, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	s := &Schedule{}
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.CronExpr,
		&s.Capture, &s.Format, &s.Options, &s.Enabled,
		&s.LastRunID, &s.LastRunTime, &s.NextRunTime,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// Store handles schedule persistence
type Store struct {
	db *db.DB
}

// NewStore creates a new schedule store
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create validates and stores a new schedule
func (s *Store) Create(schedule *Schedule) error {
	if schedule.Capture == "" || schedule.Format == "" {
		return fmt.Errorf("schedule needs a capture and a format")
	}

	now := time.Now()
	nextRun, err := Next(schedule.CronExpr, now)
	if err != nil {
		return err
	}
	schedule.NextRunTime = &nextRun
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if schedule.Options == nil {
		schedule.Options = db.JSONData{}
	}

	result, err := s.db.Conn().Exec(
		`INSERT INTO schedules (name, description, cron_expr, capture, format, options, enabled, next_run_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.Name, schedule.Description, schedule.CronExpr, schedule.Capture,
		schedule.Format, schedule.Options, schedule.Enabled, schedule.NextRunTime,
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	schedule.ID = id
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(id int64) (*Schedule, error) {
	return s.getBy("id", id)
}

// GetByName retrieves a schedule by name
func (s *Store) GetByName(name string) (*Schedule, error) {
	return s.getBy("name", name)
}

func (s *Store) getBy(column string, key interface{}) (*Schedule, error) {
	row := s.db.Conn().QueryRow(
		`SELECT `+scheduleColumns+` FROM schedules WHERE `+column+` = ?`, key)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// List retrieves schedules based on filters
func (s *Store) List(filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE 1=1`
	args := []interface{}{}

	if filter.Capture != "" {
		query += " AND capture = ?"
		args = append(args, filter.Capture)
	}

	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}

	query += " ORDER BY name"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.query(query, args...)
}

func (s *Store) query(query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// Update stores changes to a schedule and recomputes its next run
func (s *Store) Update(schedule *Schedule) error {
	now := time.Now()
	nextRun, err := Next(schedule.CronExpr, now)
	if err != nil {
		return err
	}
	schedule.NextRunTime = &nextRun
	schedule.UpdatedAt = now

	res, err := s.db.Conn().Exec(
		`UPDATE schedules SET name = ?, description = ?, cron_expr = ?, capture = ?,
		 format = ?, options = ?, enabled = ?, next_run_time = ?, updated_at = ?
		 WHERE id = ?`,
		schedule.Name, schedule.Description, schedule.CronExpr, schedule.Capture,
		schedule.Format, schedule.Options, schedule.Enabled, schedule.NextRunTime,
		schedule.UpdatedAt, schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return affected(res, schedule.ID)
}

// UpdateLastRun records a run of the schedule and moves its next run on
func (s *Store) UpdateLastRun(scheduleID int64, runID int64) error {
	schedule, err := s.Get(scheduleID)
	if err != nil {
		return err
	}

	now := time.Now()
	nextRun, err := Next(schedule.CronExpr, now)
	if err != nil {
		return err
	}

	_, err = s.db.Conn().Exec(
		`UPDATE schedules SET last_run_id = ?, last_run_time = ?, next_run_time = ?
		 WHERE id = ?`,
		runID, now, nextRun, scheduleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last run: %w", err)
	}
	return nil
}

// Enable enables a schedule, counting its next run from now
func (s *Store) Enable(id int64) error {
	schedule, err := s.Get(id)
	if err != nil {
		return err
	}

	nextRun, err := Next(schedule.CronExpr, time.Now())
	if err != nil {
		return err
	}

	_, err = s.db.Conn().Exec(
		`UPDATE schedules SET enabled = 1, next_run_time = ? WHERE id = ?`,
		nextRun, id,
	)
	if err != nil {
		return fmt.Errorf("failed to enable schedule: %w", err)
	}
	return nil
}

// Disable disables a schedule
func (s *Store) Disable(id int64) error {
	res, err := s.db.Conn().Exec(`UPDATE schedules SET enabled = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to disable schedule: %w", err)
	}
	return affected(res, id)
}

// Delete deletes a schedule; its runs are kept
func (s *Store) Delete(id int64) error {
	res, err := s.db.Conn().Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return affected(res, id)
}

// GetDue returns all enabled schedules whose next run has passed
func (s *Store) GetDue() ([]*Schedule, error) {
	schedules, err := s.query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND (next_run_time IS NULL OR next_run_time <= ?)
		 ORDER BY next_run_time`,
		time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get due schedules: %w", err)
	}
	return schedules, nil
}

func affected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQL database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate creates or updates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture TEXT NOT NULL,
		format TEXT NOT NULL,
		grade TEXT,
		vs REAL DEFAULT 0,
		sampling_period REAL DEFAULT 0,
		f_clk REAL DEFAULT 0,
		sample_offset INTEGER DEFAULT 0,
		swapped BOOLEAN DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		success BOOLEAN DEFAULT 0,
		fails INTEGER DEFAULT 0,
		evaluated INTEGER DEFAULT 0,
		error TEXT,
		addresses TEXT,
		counters TEXT,
		options TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		param TEXT NOT NULL,
		unit TEXT,
		max REAL,
		min REAL,
		worst REAL,
		worst_index REAL,
		width REAL,
		limit_value REAL,
		margin REAL,
		margin_percent REAL,
		pass BOOLEAN DEFAULT 0,
		evaluated BOOLEAN DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS runts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		channel TEXT NOT NULL,
		sample_index REAL NOT NULL,
		width REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		cron_expr TEXT NOT NULL,
		capture TEXT NOT NULL,
		format TEXT NOT NULL,
		options TEXT,
		enabled BOOLEAN DEFAULT 1,
		last_run_id INTEGER,
		last_run_time DATETIME,
		next_run_time DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (last_run_id) REFERENCES runs(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_capture ON runs(capture);
	CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time);
	CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success);
	CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_param ON results(param);
	CREATE INDEX IF NOT EXISTS idx_runts_run_id ON runts(run_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_time);

	CREATE TRIGGER IF NOT EXISTS update_schedules_timestamp
	AFTER UPDATE ON schedules
	BEGIN
		UPDATE schedules SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := db.conn.Exec(schema)
	return err
}

const runColumns = `id, capture, format, grade, vs, sampling_period, f_clk, sample_offset,
	swapped, start_time, end_time, success, fails, evaluated, error, addresses,
	counters, options, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var grade, errText sql.NullString
	err := row.Scan(
		&run.ID, &run.Capture, &run.Format, &grade, &run.VS, &run.SamplingPeriod,
		&run.FClk, &run.Offset, &run.Swapped, &run.StartTime, &run.EndTime,
		&run.Success, &run.Fails, &run.Evaluated, &errText, &run.Addresses,
		&run.Counters, &run.Options, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Grade = grade.String
	run.Error = errText.String
	return run, nil
}

// CreateRun creates a new run record for a capture
func (db *DB) CreateRun(capture, format string, options JSONData) (*Run, error) {
	now := time.Now()
	run := &Run{
		Capture:   capture,
		Format:    format,
		Options:   options,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := db.conn.Exec(
		`INSERT INTO runs (capture, format, options, start_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Capture, run.Format, run.Options, run.StartTime, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return run, nil
}

// UpdateRun updates a run record
func (db *DB) UpdateRun(run *Run) error {
	run.UpdatedAt = time.Now()
	_, err := db.conn.Exec(
		`UPDATE runs SET
		 grade = ?, vs = ?, sampling_period = ?, f_clk = ?, sample_offset = ?, swapped = ?,
		 end_time = ?, success = ?, fails = ?, evaluated = ?, error = ?,
		 addresses = ?, counters = ?, updated_at = ?
		 WHERE id = ?`,
		run.Grade, run.VS, run.SamplingPeriod, run.FClk, run.Offset, run.Swapped,
		run.EndTime, run.Success, run.Fails, run.Evaluated, run.Error,
		run.Addresses, run.Counters, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(id int64) (*Run, error) {
	run, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs based on filters, newest first
func (db *DB) ListRuns(filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}

	if filter.Capture != "" {
		query += " AND capture = ?"
		args = append(args, filter.Capture)
	}

	if filter.Grade != "" {
		query += " AND grade = ?"
		args = append(args, filter.Grade)
	}

	if filter.StartTime != nil {
		query += " AND start_time >= ?"
		args = append(args, filter.StartTime)
	}

	if filter.EndTime != nil {
		query += " AND start_time <= ?"
		args = append(args, filter.EndTime)
	}

	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, filter.Success)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run with its results and runts
func (db *DB) DeleteRun(id int64) error {
	res, err := db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return nil
}

const resultColumns = `id, run_id, param, unit, max, min, worst, worst_index, width,
	limit_value, margin, margin_percent, pass, evaluated, created_at`

func scanResult(row scanner) (*Result, error) {
	r := &Result{}
	var unit sql.NullString
	err := row.Scan(
		&r.ID, &r.RunID, &r.Param, &unit, &r.Max, &r.Min, &r.Worst, &r.WorstIndex,
		&r.Width, &r.Limit, &r.Margin, &r.MarginPercent, &r.Pass, &r.Evaluated,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Unit = unit.String
	return r, nil
}

// CreateResults creates multiple result records in a transaction
func (db *DB) CreateResults(runID int64, results []*Result) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Only rollback if we haven't committed
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(
		`INSERT INTO results (run_id, param, unit, max, min, worst, worst_index, width,
		 limit_value, margin, margin_percent, pass, evaluated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, r := range results {
		r.RunID = runID
		r.CreatedAt = now
		res, err := stmt.Exec(
			runID, r.Param, r.Unit, r.Max, r.Min, r.Worst, r.WorstIndex, r.Width,
			r.Limit, r.Margin, r.MarginPercent, r.Pass, r.Evaluated, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.Param, err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetResults retrieves results for a run in the order they were stored
func (db *DB) GetResults(runID int64) ([]*Result, error) {
	return db.ListResults(ResultFilter{RunID: &runID})
}

// ListResults retrieves results based on filters
func (db *DB) ListResults(filter ResultFilter) ([]*Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != nil {
		query += " AND run_id = ?"
		args = append(args, *filter.RunID)
	}

	if filter.Param != "" {
		query += " AND param = ?"
		args = append(args, filter.Param)
	}

	if filter.Failing {
		query += " AND evaluated = 1 AND pass = 0"
	}

	query += " ORDER BY run_id DESC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// CreateRunts stores the runt pulses of a run
func (db *DB) CreateRunts(runID int64, runts []*Runt) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO runts (run_id, channel, sample_index, width) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range runts {
		r.RunID = runID
		res, err := stmt.Exec(runID, r.Channel, r.Index, r.Width)
		if err != nil {
			return fmt.Errorf("failed to insert runt: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRunts retrieves the runt pulses of a run ordered by channel and position
func (db *DB) GetRunts(runID int64) ([]*Runt, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, channel, sample_index, width
		 FROM runts WHERE run_id = ? ORDER BY channel, sample_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get runts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runts []*Runt
	for rows.Next() {
		r := &Runt{}
		if err := rows.Scan(&r.ID, &r.RunID, &r.Channel, &r.Index, &r.Width); err != nil {
			return nil, fmt.Errorf("failed to scan runt: %w", err)
		}
		runts = append(runts, r)
	}

	return runts, rows.Err()
}

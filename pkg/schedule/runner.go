package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/pipeline"
	"github.com/robfig/cron/v3"
)

// DefaultTimeout bounds one scheduled analysis
const DefaultTimeout = 10 * time.Minute

// Runner manages scheduled analyses
type Runner struct {
	cron     *cron.Cron
	store    *Store
	database *db.DB
	jobs     map[int64]cron.EntryID
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *log.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	// Timeout bounds each analysis
	Timeout time.Duration
}

// NewRunner creates a new schedule runner
func NewRunner(database *db.DB, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cron:     cron.New(cron.WithParser(parser)),
		store:    NewStore(database),
		database: database,
		jobs:     make(map[int64]cron.EntryID),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		Timeout:  DefaultTimeout,
	}
}

// Store returns the schedule store used by the runner
func (r *Runner) Store() *Store {
	return r.store
}

// Start registers every enabled schedule and starts the scheduler
func (r *Runner) Start() error {
	r.logger.Println("Starting scheduler...")

	enabled := true
	schedules, err := r.store.List(ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := r.registerSchedule(schedule); err != nil {
			r.logger.Printf("Failed to register schedule %s: %v", schedule.Name, err)
		}
	}

	r.cron.Start()

	r.mu.RLock()
	active := len(r.jobs)
	r.mu.RUnlock()
	r.logger.Printf("Scheduler started with %d active schedules", active)
	return nil
}

// Stop stops the scheduler and waits for running analyses
func (r *Runner) Stop() {
	r.logger.Println("Stopping scheduler...")

	r.cancel()
	ctx := r.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Println("All jobs completed")
	case <-time.After(r.Timeout):
		r.logger.Println("Timeout waiting for jobs to complete")
	}

	r.logger.Println("Scheduler stopped")
}

// RegisterSchedule adds a schedule to the runner
func (r *Runner) RegisterSchedule(scheduleID int64) error {
	schedule, err := r.store.Get(scheduleID)
	if err != nil {
		return err
	}
	return r.registerSchedule(schedule)
}

// UnregisterSchedule removes a schedule from the runner
func (r *Runner) UnregisterSchedule(scheduleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entryID, exists := r.jobs[scheduleID]; exists {
		r.cron.Remove(entryID)
		delete(r.jobs, scheduleID)
		r.logger.Printf("Unregistered schedule ID %d", scheduleID)
	}
	return nil
}

// RefreshSchedule re-reads a schedule and re-registers it if enabled
func (r *Runner) RefreshSchedule(scheduleID int64) error {
	if err := r.UnregisterSchedule(scheduleID); err != nil {
		return err
	}

	schedule, err := r.store.Get(scheduleID)
	if err != nil {
		return err
	}
	return r.registerSchedule(schedule)
}

func (r *Runner) registerSchedule(schedule *Schedule) error {
	if !schedule.Enabled {
		return nil
	}

	entryID, err := r.cron.AddFunc(schedule.CronExpr, r.createJob(schedule))
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	r.mu.Lock()
	r.jobs[schedule.ID] = entryID
	r.mu.Unlock()

	r.logger.Printf("Registered schedule '%s' (ID: %d) with cron expression: %s",
		schedule.Name, schedule.ID, schedule.CronExpr)
	return nil
}

func (r *Runner) createJob(schedule *Schedule) func() {
	return func() {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.logger.Printf("Executing scheduled job: %s", schedule.Name)
		r.spawn(schedule)
	}
}

func (r *Runner) spawn(schedule *Schedule) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.executeSchedule(schedule); err != nil {
			r.logger.Printf("Failed to execute schedule %s: %v", schedule.Name, err)
		}
	}()
}

// executeSchedule analyzes the schedule's capture and records the run. An
// analysis that fails is still recorded and returns no error
func (r *Runner) executeSchedule(schedule *Schedule) (run *db.Run, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("Panic in schedule %s: %v", schedule.Name, p)
			err = fmt.Errorf("panic in schedule %s: %v", schedule.Name, p)
		}
	}()

	req, err := pipeline.FromOptions(schedule.Capture, schedule.Format, schedule.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.Timeout)
	defer cancel()

	startTime := time.Now()
	out, runErr := pipeline.Run(ctx, r.database, req, r.logger)
	if out == nil || out.Run == nil {
		return nil, fmt.Errorf("failed to record run: %w", runErr)
	}
	run = out.Run

	if err := r.store.UpdateLastRun(schedule.ID, run.ID); err != nil {
		r.logger.Printf("Failed to update schedule last run: %v", err)
	}

	if runErr != nil {
		r.logger.Printf("Run %d for schedule %s failed: %v", run.ID, schedule.Name, runErr)
		return run, nil
	}

	r.logger.Printf("Completed run %d for schedule %s (grade: %s, fails: %d, duration: %s)",
		run.ID, schedule.Name, run.Grade, run.Fails, time.Since(startTime))
	return run, nil
}

// CheckDue runs any overdue schedules immediately
func (r *Runner) CheckDue() error {
	schedules, err := r.store.GetDue()
	if err != nil {
		return fmt.Errorf("failed to get due schedules: %w", err)
	}

	for _, schedule := range schedules {
		r.logger.Printf("Running overdue schedule: %s", schedule.Name)
		r.spawn(schedule)
	}
	return nil
}

// ListJobs returns information about all scheduled jobs
func (r *Runner) ListJobs() []cron.Entry {
	return r.cron.Entries()
}

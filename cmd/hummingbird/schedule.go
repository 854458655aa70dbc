package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/pipeline"
	"github.com/googleinterns/cros-hummingbird/pkg/schedule"
	"github.com/spf13/cobra"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage analysis schedules",
		Long:  "Create, manage, and run analyses of captures on a cron schedule",
	}

	cmd.AddCommand(scheduleAddCmd())
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleRemoveCmd())
	cmd.AddCommand(scheduleEnableCmd())
	cmd.AddCommand(scheduleDisableCmd())
	cmd.AddCommand(scheduleStartCmd())
	cmd.AddCommand(scheduleShowCmd())

	return cmd
}

func scheduleAddCmd() *cobra.Command {
	var (
		name        string
		description string
		cronExpr    string
		format      string
		sda         string
		voltage     float64
		grade       string
		enabled     bool
	)

	cmd := &cobra.Command{
		Use:   "add <capture>",
		Short: "Add a new schedule",
		Long: `Add a schedule that re-analyzes a capture with cron-style timing.
Useful when a logic analyzer overwrites the same capture file periodically.

Cron expression format:
  ┌───────────── minute (0 - 59)
  │ ┌───────────── hour (0 - 23)
  │ │ ┌───────────── day of month (1 - 31)
  │ │ │ ┌───────────── month (1 - 12)
  │ │ │ │ ┌───────────── day of week (0 - 6) (Sunday to Saturday)
  │ │ │ │ │
  * * * * *

Examples:
  # Analyze a CSV capture every hour
  hummingbird schedule add --name "Hourly bus" --cron "0 * * * *" bus.csv

  # Analyze two traces nightly against fast mode limits
  hummingbird schedule add --name "Nightly FM" --cron "0 2 * * *" \
      --format trace --sda SDA.txt --grade fast SCL.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("schedule name is required")
			}
			if cronExpr == "" {
				return fmt.Errorf("cron expression is required")
			}

			f, err := resolveFormat(format)
			if err != nil {
				return err
			}
			g, err := resolveGrade(cmd, grade)
			if err != nil {
				return err
			}

			// the daemon may run from another directory
			capturePath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve capture path: %w", err)
			}
			if sda != "" {
				if sda, err = filepath.Abs(sda); err != nil {
					return fmt.Errorf("failed to resolve SDA path: %w", err)
				}
			}

			req := pipeline.Request{
				Capture: capturePath,
				Format:  f,
				SDA:     sda,
				Voltage: resolveVoltage(cmd, voltage),
				Grade:   g,
			}
			if err := req.Validate(); err != nil {
				return err
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			store := schedule.NewStore(database)
			sched := &schedule.Schedule{
				Name:        name,
				Description: description,
				CronExpr:    cronExpr,
				Capture:     req.Capture,
				Format:      req.Format,
				Options:     req.Options(),
				Enabled:     enabled,
			}

			if err := store.Create(sched); err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			fmt.Printf("Created schedule '%s' (ID: %d)\n", sched.Name, sched.ID)
			fmt.Printf("Cron: %s\n", sched.CronExpr)
			fmt.Printf("Capture: %s (%s)\n", sched.Capture, sched.Format)
			if sched.NextRunTime != nil {
				fmt.Printf("Next run: %s\n", sched.NextRunTime.Format("2006-01-02 15:04:05"))
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Schedule name (required)")
	cmd.Flags().StringVarP(&description, "desc", "d", "", "Schedule description")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Capture format (default from config)")
	cmd.Flags().StringVar(&sda, "sda", "", "SDA trace file for single-channel formats")
	cmd.Flags().Float64Var(&voltage, "voltage", 0, "Bus voltage; 0 infers it from the capture")
	cmd.Flags().StringVarP(&grade, "grade", "g", "auto", "Speed grade (auto, standard, fast, fast-plus)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Enable schedule immediately")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}

func scheduleListCmd() *cobra.Command {
	var (
		all      bool
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Long: `List configured schedules.

Examples:
  # List enabled schedules
  hummingbird schedule list

  # List all schedules
  hummingbird schedule list --all`,
		RunE: func(_ *cobra.Command, _ []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			store := schedule.NewStore(database)

			filter := schedule.ScheduleFilter{}
			if disabled {
				enabled := false
				filter.Enabled = &enabled
			} else if !all {
				enabled := true
				filter.Enabled = &enabled
			}

			schedules, err := store.List(filter)
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			if len(schedules) == 0 {
				fmt.Println("No schedules found")
				return nil
			}

			fmt.Printf("%-4s %-20s %-30s %-15s %-8s %-20s\n",
				"ID", "Name", "Capture", "Cron", "Enabled", "Next Run")
			fmt.Println(strings.Repeat("-", 100))

			for _, sched := range schedules {
				nextRun := "N/A"
				if sched.NextRunTime != nil {
					nextRun = sched.NextRunTime.Format("2006-01-02 15:04")
					if sched.IsOverdue() {
						nextRun += " (overdue)"
					}
				}

				fmt.Printf("%-4d %-20s %-30s %-15s %-8v %-20s\n",
					sched.ID,
					truncate(sched.Name, 20),
					truncate(filepath.Base(sched.Capture), 30),
					sched.CronExpr,
					sched.Enabled,
					nextRun,
				)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show all schedules")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Show only disabled schedules")

	return cmd
}

func scheduleRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove [id|name]",
		Short: "Remove a schedule",
		Long: `Remove a schedule by ID or name. Runs it produced are kept.

Examples:
  hummingbird schedule remove 1
  hummingbird schedule remove "Hourly bus" --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			store := schedule.NewStore(database)
			sched, err := findSchedule(store, args[0])
			if err != nil {
				return err
			}

			if !yes {
				fmt.Printf("Delete schedule '%s' (ID: %d)? [y/N] ", sched.Name, sched.ID)
				var confirm string
				if _, err := fmt.Scanln(&confirm); err != nil {
					confirm = "n"
				}
				if !strings.EqualFold(confirm, "y") {
					fmt.Println("Cancelled")
					return nil
				}
			}

			if err := store.Delete(sched.ID); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("Deleted schedule '%s'\n", sched.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func scheduleEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [id|name]",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return toggleSchedule(args[0], true)
		},
	}
}

func scheduleDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [id|name]",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return toggleSchedule(args[0], false)
		},
	}
}

func toggleSchedule(identifier string, enable bool) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	store := schedule.NewStore(database)
	sched, err := findSchedule(store, identifier)
	if err != nil {
		return err
	}

	if enable {
		if err := store.Enable(sched.ID); err != nil {
			return fmt.Errorf("failed to enable schedule: %w", err)
		}
		fmt.Printf("Enabled schedule '%s'\n", sched.Name)
	} else {
		if err := store.Disable(sched.ID); err != nil {
			return fmt.Errorf("failed to disable schedule: %w", err)
		}
		fmt.Printf("Disabled schedule '%s'\n", sched.Name)
	}

	return nil
}

func scheduleStartCmd() *cobra.Command {
	var (
		checkInterval time.Duration
		timeout       time.Duration
		logFile       string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Start the scheduler daemon to analyze captures automatically.

The scheduler will:
- Load all enabled schedules
- Analyze each capture according to its cron expression
- Record every run, failed analyses included
- Continue running until interrupted

Examples:
  # Start scheduler in foreground
  hummingbird schedule start

  # Start with custom check interval and log file
  hummingbird schedule start --check-interval 30s --log scheduler.log`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- user-specified log file
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer func() { _ = f.Close() }()
				logger = log.New(f, "[scheduler] ", log.LstdFlags)
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			runner := schedule.NewRunner(database, logger)
			runner.Timeout = timeout
			if err := runner.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			ticker := time.NewTicker(checkInterval)
			defer ticker.Stop()

			fmt.Println("Scheduler started. Press Ctrl+C to stop.")
			if err := runner.CheckDue(); err != nil {
				logger.Printf("Error checking due schedules: %v", err)
			}

			for {
				select {
				case <-sigChan:
					logger.Println("Received shutdown signal")
					runner.Stop()
					return nil

				case <-ticker.C:
					if err := runner.CheckDue(); err != nil {
						logger.Printf("Error checking due schedules: %v", err)
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&checkInterval, "check-interval", 60*time.Second, "Interval to check for overdue schedules")
	cmd.Flags().DurationVar(&timeout, "timeout", schedule.DefaultTimeout, "Time limit for one analysis")
	cmd.Flags().StringVar(&logFile, "log", "", "Log file path (default: stdout)")

	return cmd
}

func scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|name]",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			store := schedule.NewStore(database)
			sched, err := findSchedule(store, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Schedule: %s (ID: %d)\n", sched.Name, sched.ID)
			if sched.Description != "" {
				fmt.Printf("Description: %s\n", sched.Description)
			}
			fmt.Printf("Capture: %s\n", sched.Capture)
			fmt.Printf("Format: %s\n", sched.Format)
			fmt.Printf("Cron Expression: %s\n", sched.CronExpr)
			fmt.Printf("Enabled: %v\n", sched.Enabled)
			fmt.Printf("Created: %s\n", sched.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated: %s\n", sched.UpdatedAt.Format("2006-01-02 15:04:05"))

			if sched.LastRunTime != nil {
				fmt.Printf("\nLast Run: %s\n", sched.LastRunTime.Format("2006-01-02 15:04:05"))
				if sched.LastRunID != nil {
					printLastRun(database, *sched.LastRunID)
				}
			} else {
				fmt.Printf("\nLast Run: Never\n")
			}

			if sched.NextRunTime != nil {
				fmt.Printf("Next Run: %s", sched.NextRunTime.Format("2006-01-02 15:04:05"))
				if sched.IsOverdue() {
					fmt.Printf(" (OVERDUE)")
				}
				fmt.Println()
			}

			if len(sched.Options) > 0 {
				fmt.Printf("\nOptions:\n")
				for k, v := range sched.Options {
					fmt.Printf("  %s: %v\n", k, v)
				}
			}

			return nil
		},
	}
}

func printLastRun(database *db.DB, runID int64) {
	run, err := database.GetRun(runID)
	if err != nil {
		fmt.Printf("Last Run ID: %d\n", runID)
		return
	}
	fmt.Printf("Last Run ID: %d (%s, %d of %d limits failed)\n",
		run.ID, formatStatus(run), run.Fails, run.Evaluated)
}

// findSchedule looks a schedule up by ID, then by name
func findSchedule(store *schedule.Store, identifier string) (*schedule.Schedule, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		sched, err := store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("schedule with ID %d not found", id)
		}
		return sched, nil
	}
	sched, err := store.GetByName(identifier)
	if err != nil {
		return nil, fmt.Errorf("schedule '%s' not found", identifier)
	}
	return sched, nil
}

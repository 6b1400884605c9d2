package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/pipeline"
	"github.com/trobanga/rythmiq/internal/services"
	"github.com/trobanga/rythmiq/internal/ui"
)

var (
	maxJobs    int
	noProgress bool
)

// workerCmd represents the worker command group
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued jobs",
	Long: `Process queued jobs one at a time.

Available subcommands:
  run  - Drain the queue
  once - Process at most one job`,
}

// workerRunCmd represents the worker run command
var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the queue",
	Long: `Process visible jobs oldest first until the queue is empty or
--max-jobs jobs were handled. Jobs scheduled for a retry later than now
are left for a future run.

Only one worker may drain a data directory at a time.

Examples:
  rythmiq worker run
  rythmiq worker run --max-jobs 50 --no-progress`,
	RunE: runWorkerRun,
}

// workerOnceCmd represents the worker once command
var workerOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Process at most one job",
	RunE:  runWorkerOnce,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)
	workerCmd.AddCommand(workerOnceCmd)

	workerRunCmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Stop after this many jobs (default: worker.batch_size, 0 in config means no cap)")
	workerRunCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
}

// withWorkerLock runs fn while holding the data directory's worker lock
func withWorkerLock(a *app, fn func() error) error {
	lock, err := services.AcquireWorkerLock(a.config.Storage.DataDir, a.logger)
	if err != nil {
		return fmt.Errorf("cannot start worker: %w\n\nAnother worker may be draining this data directory", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Error("Failed to release worker lock", "error", err)
		}
	}()
	return fn()
}

func runWorkerRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	limit := maxJobs
	if !cmd.Flags().Changed("max-jobs") {
		limit = a.config.Worker.BatchSize
	}

	return withWorkerLock(a, func() error {
		total, err := countVisible(ctx, a, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if total == 0 {
			fmt.Fprintln(out, "No jobs ready")
			return nil
		}

		summary := ui.NewBatchSummary(time.Now())
		var bar *ui.ProgressBar
		if !noProgress {
			bar = ui.NewProgressBarWithWriter(int64(total), "Processing jobs", cmd.ErrOrStderr())
		}

		worker, err := a.newWorker(ctx, pipeline.WithObserver(func(job *models.Job) {
			summary.Record(job)
			if bar != nil {
				_ = bar.Add(1)
			}
		}))
		if err != nil {
			return err
		}

		jobs, err := worker.RunBatch(ctx, limit)
		if bar != nil {
			if err != nil {
				_ = bar.Clear()
			} else {
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
		}

		for _, job := range jobs {
			printOutcome(cmd, job)
		}
		fmt.Fprintf(out, "\n%s\n", summary.Format(time.Now()))
		return err
	})
}

func runWorkerOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return withWorkerLock(a, func() error {
		worker, err := a.newWorker(ctx)
		if err != nil {
			return err
		}

		job, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs ready")
			return nil
		}
		printOutcome(cmd, job)
		return nil
	})
}

// countVisible estimates the batch size for the progress bar
func countVisible(ctx context.Context, a *app, limit int) (int, error) {
	now := time.Now()
	count := 0
	for _, state := range []models.JobState{models.JobStateQueued, models.JobStateRetrying} {
		jobs, err := a.queue.List(ctx, state)
		if err != nil {
			return 0, fmt.Errorf("failed to list jobs: %w", err)
		}
		for _, job := range jobs {
			if job.IsVisibleAt(now) {
				count++
			}
		}
	}
	if limit > 0 && count > limit {
		count = limit
	}
	return count, nil
}

func printOutcome(cmd *cobra.Command, job *models.Job) {
	out := cmd.OutOrStdout()
	switch job.State {
	case models.JobStateSucceeded:
		ui.Success(out, "%s succeeded (quality %.2f)", job.JobID, job.QualityScore)
	case models.JobStateRetrying:
		ui.Warning(out, "%s will retry at %s after %s (attempt %d/%d)",
			job.JobID, job.NextVisibleAt.Local().Format(time.TimeOnly), job.ErrorCode, job.Attempt, job.MaxAttempts)
	default:
		ui.Failure(out, "%s failed: %s", job.JobID, job.ErrorCode)
	}
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/services"
	"github.com/trobanga/rythmiq/internal/ui"
)

const downloadTimeout = 2 * time.Minute

var (
	enqueueSchema      string
	enqueueUser        string
	enqueueJobID       string
	enqueueMaxAttempts int
	listState          string
	exportOut          string
	exportState        string
)

// jobCmd represents the job command group
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage document jobs",
	Long: `Manage document jobs: submit documents and inspect their progress.

Available subcommands:
  enqueue - Submit a document for processing
  status  - Show one job
  list    - List jobs
  result  - Print the structured output of a finished job
  export  - Write jobs and results to an Excel workbook`,
}

// jobEnqueueCmd represents the job enqueue command
var jobEnqueueCmd = &cobra.Command{
	Use:   "enqueue <file|url>",
	Short: "Submit a document for processing",
	Long: `Store a document and queue a job for it.

The document is a local file or an http(s) URL. Downloads retry
transient failures using the retry settings.

The schema is given as id or id@version. Without a version the highest
version found in the schema directory is used when the job runs.

Examples:
  rythmiq job enqueue invoice.pdf --schema invoice@1 --user acme
  rythmiq job enqueue scan.png --schema receipt --user acme --max-attempts 5
  rythmiq job enqueue https://files.example.com/inv-7.pdf --schema invoice --user acme`,
	Args: cobra.ExactArgs(1),
	RunE: runJobEnqueue,
}

// jobStatusCmd represents the job status command
var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

// jobListCmd represents the job list command
var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List jobs oldest first.

Example:
  rythmiq job list
  rythmiq job list --state FAILED`,
	RunE: runJobList,
}

// jobResultCmd represents the job result command
var jobResultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print the structured output of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobResult,
}

// jobExportCmd represents the job export command
var jobExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write jobs and results to an Excel workbook",
	Long: `Write every job to an .xlsx workbook. Structured output of succeeded
jobs goes to a second sheet with one column per field.

Example:
  rythmiq job export --out jobs.xlsx
  rythmiq job export --out done.xlsx --state SUCCEEDED`,
	RunE: runJobExport,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobEnqueueCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobResultCmd)
	jobCmd.AddCommand(jobExportCmd)

	jobEnqueueCmd.Flags().StringVar(&enqueueSchema, "schema", "", "Schema as id or id@version")
	jobEnqueueCmd.Flags().StringVar(&enqueueUser, "user", "", "Owner of the job and its artifacts")
	jobEnqueueCmd.Flags().StringVar(&enqueueJobID, "job-id", "", "Job id (default: random UUID)")
	jobEnqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 0, "Attempt ceiling (default: retry.max_attempts)")
	_ = jobEnqueueCmd.MarkFlagRequired("user")

	jobListCmd.Flags().StringVar(&listState, "state", "", "Only list jobs in this state")

	jobExportCmd.Flags().StringVarP(&exportOut, "out", "o", "jobs.xlsx", "Output file")
	jobExportCmd.Flags().StringVar(&exportState, "state", "", "Only export jobs in this state")
}

// parseSchemaRef splits "id@version"; the version is optional
func parseSchemaRef(ref string) (id, version string) {
	id, version, _ = strings.Cut(ref, "@")
	return id, version
}

// parseState validates a --state flag value
func parseState(s string) (models.JobState, error) {
	if s == "" {
		return "", nil
	}
	state := models.JobState(strings.ToUpper(s))
	if !models.IsValidJobState(state) {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return state, nil
}

func runJobEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	schemaID, schemaVersion := parseSchemaRef(enqueueSchema)
	jobID := enqueueJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	if !models.IsSafeID(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}

	var blobID string
	if services.IsRemoteSource(args[0]) {
		client := services.NewHTTPClient(downloadTimeout, a.config.Retry, a.logger)
		blobID, err = a.blobs.ImportURL(ctx, client, args[0], a.config.Extraction.MaxBytes)
	} else {
		blobID, err = a.blobs.Import(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	job, err := a.queue.Enqueue(ctx, queue.EnqueueRequest{
		JobID:         jobID,
		BlobID:        blobID,
		UserID:        enqueueUser,
		SchemaID:      schemaID,
		SchemaVersion: schemaVersion,
		MaxAttempts:   enqueueMaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	out := cmd.OutOrStdout()
	ui.Success(out, "Queued job: %s", job.JobID)
	fmt.Fprintf(out, "  Document: %s\n", args[0])
	fmt.Fprintf(out, "  Blob: %s\n", job.BlobID)
	if schemaID == "" {
		ui.Warning(out, "No schema given; the job will fail with %s", models.ErrCodeSchemaIDMissing)
	} else {
		fmt.Fprintf(out, "  Schema: %s\n", formatSchema(job))
	}
	return nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.queue.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job: %s\n", job.JobID)
	fmt.Fprintf(out, "State: %s %s\n", ui.StateSymbol(job.State), job.State)
	fmt.Fprintf(out, "Attempt: %d/%d\n", job.Attempt, job.MaxAttempts)
	fmt.Fprintf(out, "Schema: %s\n", formatSchema(job))
	fmt.Fprintf(out, "Owner: %s\n", job.UserID)
	fmt.Fprintf(out, "Created: %s\n", job.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Updated: %s\n", job.UpdatedAt.Local().Format(time.DateTime))

	switch job.State {
	case models.JobStateSucceeded:
		fmt.Fprintf(out, "Quality: %.2f\n", job.QualityScore)
	case models.JobStateRetrying:
		fmt.Fprintf(out, "Last error: %s (retryable)\n", job.ErrorCode)
		fmt.Fprintf(out, "Next attempt: %s\n", job.NextVisibleAt.Local().Format(time.DateTime))
	case models.JobStateFailed:
		fmt.Fprintf(out, "Error: %s (retryable: %t)\n", job.ErrorCode, job.Retryable)
	}
	return nil
}

func runJobList(cmd *cobra.Command, args []string) error {
	state, err := parseState(listState)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.queue.List(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	// Print table header
	fmt.Fprintf(out, "%-38s %-11s %-9s %-20s %-24s %s\n", "JOB ID", "STATE", "ATTEMPT", "SCHEMA", "ERROR", "AGE")
	fmt.Fprintln(out, strings.Repeat("-", 112))

	for _, job := range jobs {
		fmt.Fprintf(out, "%-38s %s %-9s %-9s %-20s %-24s %s\n",
			job.JobID,
			ui.StateSymbol(job.State),
			job.State,
			fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts),
			formatSchema(job),
			string(job.ErrorCode),
			formatAge(time.Since(job.CreatedAt)),
		)
	}

	fmt.Fprintf(out, "\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobResult(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.queue.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if job.State != models.JobStateSucceeded {
		return fmt.Errorf("job %s has no result (state %s)", job.JobID, job.State)
	}

	data, err := a.artifacts.Read(ctx, job.UserID, job.SchemaArtifactID)
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return fmt.Errorf("result artifact is not valid JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}

func runJobExport(cmd *cobra.Command, args []string) error {
	state, err := parseState(exportState)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.queue.List(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	err = lib.LogOperation(a.logger, "export "+exportOut, func() error {
		results := collectResults(ctx, a, jobs)
		data, err := services.ExportJobsXLSX(jobs, results)
		if err != nil {
			return fmt.Errorf("failed to build workbook: %w", err)
		}
		if err := os.WriteFile(exportOut, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOut, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ui.Success(cmd.OutOrStdout(), "Exported %d jobs to %s", len(jobs), exportOut)
	return nil
}

// collectResults loads the structured output of every succeeded job.
// Unreadable artifacts are logged and left out.
func collectResults(ctx context.Context, a *app, jobs []*models.Job) map[string]map[string]any {
	results := make(map[string]map[string]any)
	for _, job := range jobs {
		if job.State != models.JobStateSucceeded || job.SchemaArtifactID == "" {
			continue
		}
		data, err := a.artifacts.Read(ctx, job.UserID, job.SchemaArtifactID)
		if err != nil {
			a.logger.Warn("Failed to read result artifact", "job_id", job.JobID, "error", err)
			continue
		}
		var result models.TransformResult
		if err := json.Unmarshal(data, &result); err != nil {
			a.logger.Warn("Failed to parse result artifact", "job_id", job.JobID, "error", err)
			continue
		}
		results[job.JobID] = result.Structured
	}
	return results
}

func formatSchema(job *models.Job) string {
	switch {
	case job.SchemaID == "":
		return "-"
	case job.SchemaVersion == "":
		return job.SchemaID
	default:
		return job.SchemaID + "@" + job.SchemaVersion
	}
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

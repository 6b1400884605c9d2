package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/trobanga/rythmiq/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	jobsSheet    = "Jobs"
	resultsSheet = "Results"
)

var jobHeaders = []string{
	"Job ID",
	"State",
	"Attempt",
	"Max Attempts",
	"Schema",
	"Quality Score",
	"Error Code",
	"Retryable",
	"Created",
	"Updated",
}

// ExportJobsXLSX renders jobs as a spreadsheet. When results holds structured
// output per job id, a second sheet lists one row per job and one column per field.
func ExportJobsXLSX(jobs []*models.Job, results map[string]map[string]any) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	// Rename the default sheet
	if err := f.SetSheetName(f.GetSheetName(0), jobsSheet); err != nil {
		return nil, err
	}

	for i, h := range jobHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, h)
	}

	for i, job := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(jobsSheet, cell, v)
		}

		schema := job.SchemaID
		if schema != "" && job.SchemaVersion != "" {
			schema += "@" + job.SchemaVersion
		}

		write(1, job.JobID)
		write(2, string(job.State))
		write(3, job.Attempt)
		write(4, job.MaxAttempts)
		write(5, schema)
		if job.State == models.JobStateSucceeded {
			write(6, job.QualityScore)
		}
		write(7, string(job.ErrorCode))
		write(8, job.Retryable)
		write(9, job.CreatedAt.UTC().Format(time.RFC3339))
		write(10, job.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(jobsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(jobsSheet, "B", "B", 12) // state
	_ = f.SetColWidth(jobsSheet, "E", "E", 20) // schema
	_ = f.SetColWidth(jobsSheet, "G", "G", 24) // error code
	_ = f.SetColWidth(jobsSheet, "I", "J", 22) // timestamps

	if len(results) > 0 {
		if err := writeResultsSheet(f, jobs, results); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeResultsSheet(f *excelize.File, jobs []*models.Job, results map[string]map[string]any) error {
	if _, err := f.NewSheet(resultsSheet); err != nil {
		return err
	}

	fieldSet := make(map[string]bool)
	for _, fields := range results {
		for name := range fields {
			fieldSet[name] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	cell, _ := excelize.CoordinatesToCellName(1, 1)
	_ = f.SetCellValue(resultsSheet, cell, "Job ID")
	for i, name := range fields {
		cell, _ := excelize.CoordinatesToCellName(i+2, 1)
		_ = f.SetCellValue(resultsSheet, cell, name)
	}

	row := 2
	for _, job := range jobs {
		values, ok := results[job.JobID]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(resultsSheet, cell, job.JobID)
		for i, name := range fields {
			v, ok := values[name]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+2, row)
			_ = f.SetCellValue(resultsSheet, cell, fmt.Sprint(v))
		}
		row++
	}
	return nil
}

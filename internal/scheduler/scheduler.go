package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	splithttp "github.com/tanq16/splitdl/internal/downloaders/http"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/utils"
)

// Reporter is the part of the output manager the scheduler drives.
type Reporter interface {
	Register(name string) int
	SetMessage(id int, message string)
	SetStatus(id int, status string)
	SetProgress(id int, downloaded, total int64)
	Complete(id int, message string)
	Cancelled(id int, message string)
	ReportError(id int, err error)
}

// NewRegistry maps job types to their downloader implementations.
func NewRegistry(fs afero.Fs) map[string]utils.Downloader {
	return map[string]utils.Downloader{
		"http": splithttp.NewHTTPDownloader(fs),
	}
}

// Run processes jobs with numWorkers parallel workers and returns how many
// did not complete. Cancelling ctx cancels every running session.
func Run(ctx context.Context, jobs []utils.SplitJob, numWorkers int, registry map[string]utils.Downloader, reporter Reporter) int {
	logger := log.With().Str("op", "scheduler").Logger()
	logger.Info().Int("jobs", len(jobs)).Int("workers", numWorkers).Msg("Starting jobs")

	jobCh := make(chan utils.SplitJob, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var unfinished int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range max(numWorkers, 1) {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobCh {
				if !processJob(ctx, job, registry, reporter) {
					mu.Lock()
					unfinished++
					mu.Unlock()
				}
			}
			logger.Debug().Int("worker", workerID).Msg("Worker finished")
		}(i)
	}
	wg.Wait()
	return unfinished
}

func processJob(ctx context.Context, job utils.SplitJob, registry map[string]utils.Downloader, reporter Reporter) bool {
	id := reporter.Register(job.URL)
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	downloader, exists := registry[job.JobType]
	if !exists {
		reporter.ReportError(id, fmt.Errorf("unknown job type: %s", job.JobType))
		reporter.SetMessage(id, fmt.Sprintf("Error: unknown job type %s", job.JobType))
		return false
	}
	if ctx.Err() != nil {
		reporter.Cancelled(id, fmt.Sprintf("Skipped %s", job.URL))
		return false
	}

	reporter.SetStatus(id, output.StatusPending)
	reporter.SetMessage(id, fmt.Sprintf("Validating %s", job.URL))
	if err := downloader.ValidateJob(&job); err != nil {
		reporter.ReportError(id, fmt.Errorf("validation failed: %w", err))
		reporter.SetMessage(id, fmt.Sprintf("Validation failed for %s", job.URL))
		return false
	}

	reporter.SetMessage(id, fmt.Sprintf("Collecting information for %s", job.URL))
	if err := downloader.BuildJob(ctx, &job); err != nil {
		reporter.ReportError(id, fmt.Errorf("build failed: %w", err))
		reporter.SetMessage(id, fmt.Sprintf("Build failed for %s", job.URL))
		return false
	}

	name := filepath.Base(job.OutputPath)
	job.ProgressFunc = func(downloaded, total int64) {
		reporter.SetProgress(id, downloaded, total)
	}
	err := downloader.Download(ctx, &job)
	switch {
	case err == nil:
		reporter.Complete(id, completionMessage(job))
		return true
	case errors.Is(err, context.Canceled):
		// partial file stays on disk for the user to inspect or remove
		reporter.Cancelled(id, fmt.Sprintf("Cancelled %s (partial file left at %s)", name, job.OutputPath))
	default:
		reporter.ReportError(id, err)
		reporter.SetMessage(id, fmt.Sprintf("Download failed for %s", name))
	}
	return false
}

func completionMessage(job utils.SplitJob) string {
	message := fmt.Sprintf("Downloaded %s", job.OutputPath)
	if elapsed, ok := job.Metadata["totalTime"].(time.Duration); ok {
		message += fmt.Sprintf(" in %s", elapsed.Round(time.Millisecond))
	}
	return message
}

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/queue"
	"github.com/alaamer12/pixcrawler/internal/retry"
)

// DownloadWorker is the body of the download task: it runs the opaque crawl
// for one chunk and reports the outcome through the completion callback.
// The outbound crawl is wrapped by the operation-layer retry; only
// infrastructure failures escape to the pool's task-layer re-queue.
type DownloadWorker struct {
	fetcher Fetcher
	jobs    interfaces.JobService
	logger  arbor.ILogger
}

// NewDownloadWorker creates the download task body.
func NewDownloadWorker(fetcher Fetcher, jobs interfaces.JobService, logger arbor.ILogger) *DownloadWorker {
	return &DownloadWorker{
		fetcher: fetcher,
		jobs:    jobs,
		logger:  logger,
	}
}

// Run executes one download task.
func (w *DownloadWorker) Run(ctx context.Context, task *queue.Task) error {
	jobID, _ := task.Payload["job_id"].(string)
	if jobID == "" {
		w.logger.Error().
			Str("task_id", task.ID).
			Msg("Download task without job_id dropped")
		return nil
	}

	var images []models.ImageRecord
	fetchErr := retry.Operation(ctx, w.logger, "fetch_chunk", func() error {
		var err error
		images, err = w.fetcher.FetchChunk(ctx, task.Payload)
		return err
	})

	if fetchErr != nil {
		kind := errkind.KindOf(fetchErr)
		if kind == errkind.KindInfrastructure {
			// The task layer owns this class; re-queue instead of counting
			// the chunk as failed.
			return fetchErr
		}

		w.logger.Warn().
			Str("job_id", jobID).
			Str("task_id", task.ID).
			Str("error_kind", string(kind)).
			Err(fetchErr).
			Msg("Chunk crawl failed")

		return w.jobs.HandleTaskCompletion(ctx, jobID, task.ID, models.TaskResult{
			Success:   false,
			Failed:    true,
			Error:     fetchErr.Error(),
			ErrorKind: string(kind),
		})
	}

	return w.jobs.HandleTaskCompletion(ctx, jobID, task.ID, models.TaskResult{
		Success:    true,
		Downloaded: len(images),
		Images:     images,
	})
}

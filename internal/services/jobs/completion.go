package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// HandleTaskCompletion applies one worker callback. The whole application
// runs under the completion guard so counter updates, image creation and
// terminal detection commit as one linearized step per callback. Unknown
// tasks, replays and callbacks for jobs no longer running are absorbed
// silently; none of these is an error to the worker. Datastore failures are
// returned.
func (s *Service) HandleTaskCompletion(ctx context.Context, jobID, taskID string, result models.TaskResult) error {
	s.completionMu.Lock()
	defer s.completionMu.Unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errkind.KindOf(err) == errkind.KindNotFound {
			// Unknown job: silent accept.
			s.logger.Debug().
				Str("job_id", jobID).
				Str("task_id", taskID).
				Msg("Completion for unknown job absorbed")
			return nil
		}
		return err
	}

	// Only a dispatched task may contribute (processed ⊆ dispatched).
	if !containsTask(job.TaskIDs, taskID) {
		s.logger.Debug().
			Str("job_id", jobID).
			Str("task_id", taskID).
			Msg("Completion for unknown task absorbed")
		return nil
	}

	switch job.Status {
	case models.JobStatusRunning:
		// fall through to application
	case models.JobStatusCancelled:
		// Late callback after cancel: record the task as seen so revoke
		// accounting stays consistent, apply nothing.
		if _, err := s.jobs.MarkTaskProcessed(ctx, jobID, taskID); err != nil {
			return err
		}
		s.logger.Debug().
			Str("job_id", jobID).
			Str("task_id", taskID).
			Msg("Late completion after cancel absorbed")
		return nil
	default:
		s.logger.Debug().
			Str("job_id", jobID).
			Str("task_id", taskID).
			Str("status", string(job.Status)).
			Msg("Completion for non-running job absorbed")
		return nil
	}

	firstTime, err := s.jobs.MarkTaskProcessed(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if !firstTime {
		// Replay of an already-applied callback.
		s.logger.Debug().
			Str("job_id", jobID).
			Str("task_id", taskID).
			Msg("Duplicate completion absorbed")
		return nil
	}

	var deltas models.CounterDeltas
	if result.Success {
		if len(result.Images) > 0 {
			if _, err := s.images.BulkCreate(ctx, jobID, result.Images); err != nil {
				return err
			}
		}
		deltas = models.CounterDeltas{Completed: 1, Active: -1, Downloaded: len(result.Images)}
	} else {
		deltas = models.CounterDeltas{Failed: 1, Active: -1}
	}

	updated, err := s.jobs.UpdateCounters(ctx, jobID, deltas)
	if err != nil {
		return err
	}

	if job.Chunking == models.ChunkingRange {
		to := models.ChunkStatusCompleted
		if !result.Success {
			to = models.ChunkStatusFailed
		}
		if _, err := s.chunks.TransitionByTask(ctx, jobID, taskID, to, result.Error); err != nil {
			s.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to transition chunk row")
		}
	}

	if s.cache != nil {
		s.cache.Put(ctx, snapshotOf(updated))
	}

	// Terminal detection: aggregation reaching total closes the job.
	if updated.TotalChunks > 0 && updated.CompletedChunks+updated.FailedChunks >= updated.TotalChunks {
		return s.finishJob(ctx, updated)
	}
	return nil
}

// finishJob applies the terminal transition once aggregation reaches the
// chunk total. The job completes unless the failed share reaches the
// configured threshold (default 1.0: only an all-failed job fails).
func (s *Service) finishJob(ctx context.Context, job *models.CrawlJob) error {
	now := time.Now().UTC()
	zero := 0

	failedShare := float64(job.FailedChunks) / float64(job.TotalChunks)
	fields := interfaces.TransitionFields{
		CompletedAt:  &now,
		ActiveChunks: &zero,
	}

	to := models.JobStatusCompleted
	notifType := models.NotificationJobCompleted
	if job.FailedChunks > 0 && failedShare >= s.cfg.FailureThreshold {
		to = models.JobStatusFailed
		notifType = models.NotificationJobFailed
		msg := fmt.Sprintf("%d of %d chunks failed", job.FailedChunks, job.TotalChunks)
		fields.Error = &msg
	}

	ok, err := s.jobs.TransitionStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusRunning}, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		// The job left running between the counter commit and here
		// (e.g. a concurrent cancel); that transition owns the terminal
		// state.
		return nil
	}

	owner, err := s.jobs.OwnerOf(ctx, job.ID)
	if err == nil {
		s.notify(ctx, owner, notifType, map[string]interface{}{
			"job_id":            job.ID,
			"status":            string(to),
			"completed_chunks":  job.CompletedChunks,
			"failed_chunks":     job.FailedChunks,
			"downloaded_images": job.DownloadedImages,
		})
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(to)).
		Int("completed_chunks", job.CompletedChunks).
		Int("failed_chunks", job.FailedChunks).
		Int("downloaded_images", job.DownloadedImages).
		Msg("Job reached terminal state")
	return nil
}

func containsTask(taskIDs []string, taskID string) bool {
	for _, id := range taskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

package validation

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// enqueueConcurrency bounds the validation fan-out so a large job does not
// monopolise the broker connection.
const enqueueConcurrency = 8

// Service dispatches per-image validation tasks and applies their results.
// Validation has its own lifecycle on the image row; it never touches job
// chunk counters.
type Service struct {
	jobs       interfaces.JobStorage
	images     interfaces.ImageStorage
	dispatcher interfaces.TaskDispatcher
	logger     arbor.ILogger
}

// NewService wires the validation service.
func NewService(storage interfaces.StorageManager, dispatcher interfaces.TaskDispatcher, logger arbor.ILogger) *Service {
	return &Service{
		jobs:       storage.Jobs(),
		images:     storage.Images(),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ValidateJobImages enqueues one validation task per image of the job at
// the requested level and returns the task ids plus the image count.
func (s *Service) ValidateJobImages(ctx context.Context, userID, jobID string, level models.ValidationLevel) ([]string, int, error) {
	owner, err := s.jobs.OwnerOf(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	if owner != userID {
		return nil, 0, errkind.Forbiddenf("job %s is not owned by the requesting user", jobID)
	}

	taskName := level.TaskName()
	if taskName == "" {
		return nil, 0, errkind.Validationf("unknown validation level: %s", level)
	}

	count, err := s.images.CountByJob(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, errkind.BadRequestf("job %s has no images to validate", jobID)
	}

	var (
		mu      sync.Mutex
		taskIDs []string
	)

	page := 1
	const pageSize = 200
	for {
		images, _, err := s.images.GetByJob(ctx, jobID, page, pageSize)
		if err != nil {
			return nil, 0, err
		}
		if len(images) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(enqueueConcurrency)
		for _, img := range images {
			img := img
			g.Go(func() error {
				taskID, err := s.dispatcher.Enqueue(gctx, taskName, interfaces.TaskPayload{
					"image_id": img.ID,
					"job_id":   jobID,
				})
				if err != nil {
					return err
				}
				mu.Lock()
				taskIDs = append(taskIDs, taskID)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}

		if len(images) < pageSize {
			break
		}
		page++
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("level", string(level)).
		Int("images", count).
		Int("tasks", len(taskIDs)).
		Msg("Validation tasks dispatched")

	return taskIDs, count, nil
}

// HandleValidationResult applies one validation outcome to its image row.
func (s *Service) HandleValidationResult(ctx context.Context, imageID string, result models.ValidationResult) error {
	if err := s.images.MarkValidated(ctx, imageID, result); err != nil {
		if errkind.KindOf(err) == errkind.KindNotFound {
			// The image vanished (project deletion); nothing to record.
			s.logger.Debug().Str("image_id", imageID).Msg("Validation result for unknown image absorbed")
			return nil
		}
		return err
	}
	return nil
}

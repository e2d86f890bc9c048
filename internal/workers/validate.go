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

// ValidateWorker is the body of the validate_* tasks. One registration per
// level; the level only selects the agent's validation depth.
type ValidateWorker struct {
	validator Validator
	service   interfaces.ValidationService
	level     models.ValidationLevel
	logger    arbor.ILogger
}

// NewValidateWorker creates the validation task body for one level.
func NewValidateWorker(validator Validator, service interfaces.ValidationService, level models.ValidationLevel, logger arbor.ILogger) *ValidateWorker {
	return &ValidateWorker{
		validator: validator,
		service:   service,
		level:     level,
		logger:    logger,
	}
}

// Run executes one validation task.
func (w *ValidateWorker) Run(ctx context.Context, task *queue.Task) error {
	imageID, _ := task.Payload["image_id"].(string)
	if imageID == "" {
		w.logger.Error().
			Str("task_id", task.ID).
			Msg("Validation task without image_id dropped")
		return nil
	}

	var result models.ValidationResult
	valErr := retry.Operation(ctx, w.logger, "validate_image", func() error {
		var err error
		result, err = w.validator.ValidateImage(ctx, imageID, w.level)
		return err
	})
	if valErr != nil {
		if errkind.KindOf(valErr) == errkind.KindInfrastructure {
			return valErr
		}
		w.logger.Warn().
			Str("image_id", imageID).
			Str("task_id", task.ID).
			Err(valErr).
			Msg("Image validation failed")
		return nil
	}

	return w.service.HandleValidationResult(ctx, imageID, result)
}

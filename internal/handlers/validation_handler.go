package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// ValidationHandler handles validation API requests.
type ValidationHandler struct {
	validation interfaces.ValidationService
	verifier   interfaces.TokenVerifier
	logger     arbor.ILogger
}

// NewValidationHandler creates a new validation handler
func NewValidationHandler(validation interfaces.ValidationService, verifier interfaces.TokenVerifier, logger arbor.ILogger) *ValidationHandler {
	return &ValidationHandler{
		validation: validation,
		verifier:   verifier,
		logger:     logger,
	}
}

// validateJobRequest is the POST /api/v1/validation/job/{id} body.
type validateJobRequest struct {
	Level string `json:"level" validate:"required,oneof=fast medium slow"`
}

// ValidateJobHandler dispatches validation tasks for every image of a job
// POST /api/v1/validation/job/{id}
func (h *ValidationHandler) ValidateJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req validateJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	taskIDs, imageCount, err := h.validation.ValidateJobImages(r.Context(), userID, jobID, models.ValidationLevel(req.Level))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"job_id":           jobID,
		"images_count":     imageCount,
		"validation_level": req.Level,
		"task_ids":         taskIDs,
		"message":          "Validation tasks dispatched",
	})
}

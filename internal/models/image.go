package models

import "time"

// Image is one downloaded image belonging to a crawl job. Rows are created
// when a chunk completes successfully and mutated only by validation result
// application, never re-created.
type Image struct {
	ID             string                 `json:"id"`
	CrawlJobID     string                 `json:"crawl_job_id"`
	SourceURL      string                 `json:"source_url"`
	StorageKey     string                 `json:"storage_key"`
	Width          int                    `json:"width"`
	Height         int                    `json:"height"`
	Bytes          int64                  `json:"bytes"`
	Format         string                 `json:"format"`
	ContentHash    string                 `json:"content_hash"`
	PerceptualHash string                 `json:"perceptual_hash"`
	IsValid        *bool                  `json:"is_valid,omitempty"`
	IsDuplicate    *bool                  `json:"is_duplicate,omitempty"`
	Labels         []string               `json:"labels,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ImageRecord is the primitive shape of an image inside a task result,
// before it becomes a persisted Image row.
type ImageRecord struct {
	SourceURL      string                 `json:"source_url"`
	StorageKey     string                 `json:"storage_key"`
	Width          int                    `json:"width"`
	Height         int                    `json:"height"`
	Bytes          int64                  `json:"bytes"`
	Format         string                 `json:"format"`
	ContentHash    string                 `json:"content_hash"`
	PerceptualHash string                 `json:"perceptual_hash"`
	Labels         []string               `json:"labels,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationResult is the primitive outcome of one image validation task.
type ValidationResult struct {
	IsValid     bool                   `json:"is_valid"`
	IsDuplicate bool                   `json:"is_duplicate"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationLevel selects the validation task family and its rate limit.
type ValidationLevel string

const (
	ValidationFast   ValidationLevel = "fast"
	ValidationMedium ValidationLevel = "medium"
	ValidationSlow   ValidationLevel = "slow"
)

// TaskName returns the broker task name for the level.
func (l ValidationLevel) TaskName() string {
	switch l {
	case ValidationFast:
		return TaskValidateFast
	case ValidationMedium:
		return TaskValidateMedium
	case ValidationSlow:
		return TaskValidateSlow
	}
	return ""
}

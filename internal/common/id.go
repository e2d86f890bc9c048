package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique crawl job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewImageID generates a unique image ID with the "img_" prefix
func NewImageID() string {
	return "img_" + uuid.New().String()
}

// NewChunkID generates a unique job chunk ID with the "chunk_" prefix
func NewChunkID() string {
	return "chunk_" + uuid.New().String()
}

// NewProjectID generates a unique project ID with the "prj_" prefix
func NewProjectID() string {
	return "prj_" + uuid.New().String()
}

// NewNotificationID generates a unique notification ID with the "ntf_" prefix
func NewNotificationID() string {
	return "ntf_" + uuid.New().String()
}

// NewRequestID generates a request correlation ID
func NewRequestID() string {
	return uuid.New().String()
}

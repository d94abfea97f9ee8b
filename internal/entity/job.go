package entity

import (
	"encoding/json"
	"time"

	"github.com/aodunsi/docpipeline/constants"
)

// JobPayload carries everything a consumer needs to run the pipeline for a
// document.
type JobPayload struct {
	DocumentID   string         `json:"document_id"`
	FilePath     string         `json:"file_path"`
	DocumentType string         `json:"document_type"`
	UserID       string         `json:"user_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Job is a queued unit of pipeline work, distinct from the Document it
// processes. It is owned exclusively by the job queue.
type Job struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Payload      JobPayload          `json:"data"`
	Status       constants.JobStatus `json:"status"`
	Priority     int                 `json:"priority"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Result       json.RawMessage     `json:"result,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

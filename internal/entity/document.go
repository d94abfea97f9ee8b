package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
)

// Document represents an uploaded document for data transfer between layers.
// Rows are never deleted by the pipeline; documents are retained for
// reprocessing and audit.
type Document struct {
	ID           uuid.UUID                 `json:"id"`
	Filename     string                    `json:"filename"`
	FilePath     string                    `json:"file_path"`
	MediaType    string                    `json:"file_type"`
	FileSize     int64                     `json:"file_size"`
	UserID       string                    `json:"user_id"`
	Status       constants.ProcessingStage `json:"status"`
	Stage        constants.ProcessingStage `json:"processing_stage"`
	DocumentType string                    `json:"document_type"`
	ErrorMessage *string                   `json:"error_message,omitempty"`
	Metadata     map[string]any            `json:"metadata,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// StageRecord is one processing_stages row; exactly one exists per
// (document, stage name) pair, created lazily the first time the stage begins.
type StageRecord struct {
	DocumentID   uuid.UUID                 `json:"document_id"`
	StageName    constants.ProcessingStage `json:"stage_name"`
	Status       constants.StageStatus     `json:"status"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
	ErrorMessage *string                   `json:"error_message,omitempty"`
	DurationMS   *int64                    `json:"processing_time_ms,omitempty"`
	Metadata     map[string]any            `json:"metadata,omitempty"`
}

// ExtractionResult is the persisted output of one extraction-producing stage
// (preprocessing, OCR, LLM processing), keyed by (document, stage). Each write
// supersedes any prior row for that key.
type ExtractionResult struct {
	DocumentID      uuid.UUID                 `json:"document_id"`
	Stage           constants.ProcessingStage `json:"stage"`
	RawData         map[string]any            `json:"raw_data,omitempty"`
	ProcessedData   map[string]any            `json:"processed_data,omitempty"`
	ConfidenceScore float64                   `json:"confidence_score"`
	DurationMS      int64                     `json:"processing_time_ms"`
	ModelUsed       string                    `json:"model_used"`
	Metadata        map[string]any            `json:"metadata,omitempty"`
}

// QualityScore is the validation stage's persisted verdict, one per document.
type QualityScore struct {
	DocumentID        uuid.UUID                 `json:"document_id"`
	OverallScore      float64                   `json:"overall_score"`
	CompletenessScore float64                   `json:"completeness_score"`
	AccuracyScore     float64                   `json:"accuracy_score"`
	ComplianceScore   float64                   `json:"compliance_score"`
	QualityScore      float64                   `json:"quality_score"`
	Decision          constants.QualityDecision `json:"decision"`
	Reasoning         map[string]any            `json:"reasoning,omitempty"`
	IssuesFound       []string                  `json:"issues_found,omitempty"`
	Confidence        float64                   `json:"confidence"`
	JudgeModel        string                    `json:"judge_model"`
}

// RoutingDecision is the routing stage's persisted outcome, one per document.
type RoutingDecision struct {
	DocumentID          uuid.UUID                   `json:"document_id"`
	Action              constants.RoutingAction     `json:"routing_action"`
	Reason              string                      `json:"routing_reason"`
	IntegrationStatus   constants.IntegrationStatus `json:"integration_status"`
	IntegrationData     map[string]any              `json:"integration_data,omitempty"`
	HumanReviewRequired bool                        `json:"human_review_required"`
}

// Results bundles everything GetResults returns for a document.
type Results struct {
	ExtractionResults map[string]ExtractionResult `json:"extraction_results"`
	QualityScore      *QualityScore               `json:"quality_score,omitempty"`
	RoutingDecision   *RoutingDecision            `json:"routing_decision,omitempty"`
}

// StageView is the per-stage slice of a status query result.
type StageView struct {
	Name         string         `json:"stage_name"`
	Status       string         `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMS   *int64         `json:"processing_time_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StatusView is the reconciled status of a document computed from persisted
// stage records.
type StatusView struct {
	DocumentID          uuid.UUID   `json:"document_id"`
	Filename            string      `json:"filename"`
	DocumentType        string      `json:"document_type"`
	Status              string      `json:"status"`
	Progress            int         `json:"progress"`
	CurrentStage        string      `json:"current_stage"`
	Stages              []StageView `json:"stages"`
	ErrorMessage        *string     `json:"error_message,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
}

// MarshalMetadata serializes a metadata map for storage; nil maps become "{}".
func MarshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

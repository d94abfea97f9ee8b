// Package pipeline runs documents through the five processing stages:
// preprocessing, OCR extraction, LLM processing, validation and routing. The
// first three are critical; validation and routing degrade to conservative
// defaults when their backends fail.
package pipeline

import (
	"context"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// StageResult carries the fields every stage output persists.
type StageResult struct {
	RawData       map[string]any `json:"raw_data,omitempty"`
	ProcessedData map[string]any `json:"processed_data,omitempty"`
	Confidence    float64        `json:"confidence_score"`
	DurationMS    int64          `json:"processing_time_ms,omitempty"`
	ModelUsed     string         `json:"model_used,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PreprocessOutput is the preprocessing stage result. DocumentType is set when
// the stage classified the document.
type PreprocessOutput struct {
	StageResult
	DocumentType string `json:"document_type,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
}

// OCROutput is the OCR extraction stage result.
type OCROutput struct {
	StageResult
	Text string `json:"text"`
}

// LLMOutput is the structured-extraction stage result. Fields holds the
// structured document data keyed by field name.
type LLMOutput struct {
	StageResult
	Fields map[string]any `json:"fields"`
}

// ValidationOutput is the quality-judgment stage result.
type ValidationOutput struct {
	OverallScore      float64                   `json:"overall_score"`
	CompletenessScore float64                   `json:"completeness_score"`
	AccuracyScore     float64                   `json:"accuracy_score"`
	ComplianceScore   float64                   `json:"compliance_score"`
	QualityScore      float64                   `json:"quality_score"`
	Decision          constants.QualityDecision `json:"decision"`
	Reasoning         map[string]any            `json:"reasoning,omitempty"`
	IssuesFound       []string                  `json:"issues_found,omitempty"`
	Confidence        float64                   `json:"confidence"`
	JudgeModel        string                    `json:"judge_model,omitempty"`
}

// RoutingOutput is the routing stage result.
type RoutingOutput struct {
	Action              constants.RoutingAction     `json:"routing_action"`
	Reason              string                      `json:"routing_reason"`
	IntegrationStatus   constants.IntegrationStatus `json:"integration_status"`
	IntegrationData     map[string]any              `json:"integration_data,omitempty"`
	HumanReviewRequired bool                        `json:"human_review_required"`
}

type Preprocessor interface {
	Preprocess(ctx context.Context, doc *entity.Document) (*PreprocessOutput, error)
}

type OCRExtractor interface {
	Extract(ctx context.Context, doc *entity.Document, pre *PreprocessOutput) (*OCROutput, error)
}

type LLMProcessor interface {
	Process(ctx context.Context, doc *entity.Document, ocr *OCROutput) (*LLMOutput, error)
}

type Validator interface {
	Validate(ctx context.Context, doc *entity.Document, llm *LLMOutput) (*ValidationOutput, error)
}

type Router interface {
	Route(ctx context.Context, doc *entity.Document, val *ValidationOutput) (*RoutingOutput, error)
}

// Processors bundles the five stage backends for injection into the
// orchestrator.
type Processors struct {
	Preprocessor Preprocessor
	OCR          OCRExtractor
	LLM          LLMProcessor
	Validator    Validator
	Router       Router
}

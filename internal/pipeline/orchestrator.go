package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/retry"
)

// Orchestrator drives one document through the pipeline stages in order,
// recording every transition in the status store. Each stage backend gets its
// own circuit breaker so an outage in one does not reject calls to the others.
type Orchestrator struct {
	status   *docstatus.Service
	procs    Processors
	lease    Lease
	retryCfg retry.Config
	breakers map[constants.ProcessingStage]*retry.Breaker
	logger   *slog.Logger
}

type OrchestratorConfig struct {
	Retry   retry.Config
	Breaker retry.BreakerConfig
}

func NewOrchestrator(status *docstatus.Service, procs Processors, lease Lease, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	breakers := make(map[constants.ProcessingStage]*retry.Breaker, len(constants.PipelineStages))
	for _, name := range constants.PipelineStages {
		breakers[name] = retry.NewBreaker(cfg.Breaker, logger.With("stage", string(name)))
	}
	return &Orchestrator{
		status:   status,
		procs:    procs,
		lease:    lease,
		retryCfg: cfg.Retry,
		breakers: breakers,
		logger:   logger,
	}
}

// Run processes a single document end to end. It returns nil without doing
// anything when another worker holds the document's lease. A critical stage
// failure (preprocessing, OCR, LLM) marks the document failed and returns the
// stage error; validation and routing failures degrade to defaults.
func (o *Orchestrator) Run(ctx context.Context, documentID uuid.UUID) error {
	acquired, err := o.lease.Acquire(ctx, documentID.String())
	if err != nil {
		o.logger.Warn("lease acquire failed, proceeding unleased", "document_id", documentID, "error", err)
	} else if !acquired {
		o.logger.Info("document already being processed, skipping", "document_id", documentID)
		return nil
	} else {
		defer func() {
			if err := o.lease.Release(context.WithoutCancel(ctx), documentID.String()); err != nil {
				o.logger.Warn("lease release failed", "document_id", documentID, "error", err)
			}
		}()
	}

	doc, err := o.status.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == constants.StageCompleted {
		o.logger.Info("document already completed, skipping", "document_id", documentID)
		return nil
	}

	log := o.logger.With("document_id", documentID)
	log.Info("pipeline run starting", "document_type", doc.DocumentType)

	pre, err := runCritical(ctx, o, doc, constants.StagePreprocessing, func(ctx context.Context) (*PreprocessOutput, error) {
		return o.procs.Preprocessor.Preprocess(ctx, doc)
	})
	if err != nil {
		return err
	}
	if pre.DocumentType != "" && pre.DocumentType != doc.DocumentType {
		doc.DocumentType = pre.DocumentType
		if err := o.status.Create(ctx, doc); err != nil {
			log.Warn("failed to persist classified document type", "error", err)
		}
	}
	o.saveExtraction(ctx, doc.ID, constants.StagePreprocessing, pre.StageResult)

	ocr, err := runCritical(ctx, o, doc, constants.StageOCRExtraction, func(ctx context.Context) (*OCROutput, error) {
		return o.procs.OCR.Extract(ctx, doc, pre)
	})
	if err != nil {
		return err
	}
	o.saveExtraction(ctx, doc.ID, constants.StageOCRExtraction, ocr.StageResult)

	llm, err := runCritical(ctx, o, doc, constants.StageLLMProcessing, func(ctx context.Context) (*LLMOutput, error) {
		out, err := o.procs.LLM.Process(ctx, doc, ocr)
		if err != nil {
			return nil, err
		}
		if verr := ValidateFields(doc.DocumentType, out.Fields); verr != nil {
			// Advisory only; the extraction is still usable downstream.
			if out.Metadata == nil {
				out.Metadata = map[string]any{}
			}
			out.Metadata["schema_validation"] = verr.Error()
			log.Warn("llm output failed schema validation", "error", verr)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	o.saveExtraction(ctx, doc.ID, constants.StageLLMProcessing, llm.StageResult)

	val := o.runValidation(ctx, doc, llm)
	o.runRouting(ctx, doc, val)

	if err := o.status.UpdateStatus(ctx, doc.ID, constants.StageCompleted, constants.StageCompleted, nil); err != nil {
		return err
	}
	log.Info("pipeline run completed")
	return nil
}

// runCritical executes one of the hard-stop stages under its breaker with
// bounded retries. On failure the document is marked failed with a sanitized
// error and processing stops.
func runCritical[T any](ctx context.Context, o *Orchestrator, doc *entity.Document, name constants.ProcessingStage, op func(context.Context) (*T, error)) (*T, error) {
	start, err := o.beginStage(ctx, doc, name)
	if err != nil {
		return nil, err
	}

	out, err := runProtected(ctx, o, name, op)
	if err != nil {
		o.failStage(ctx, doc, name, start, err)
		msg := common.SanitizeErrorMessage(err, string(name))
		if uerr := o.status.UpdateStatus(ctx, doc.ID, constants.StageFailed, name, &msg); uerr != nil {
			o.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", uerr)
		}
		return nil, fmt.Errorf("%s stage: %w", name, err)
	}

	o.completeStage(ctx, doc, name, start, nil)
	return out, nil
}

// runValidation executes the validation stage, substituting the conservative
// default verdict when the backend stays down.
func (o *Orchestrator) runValidation(ctx context.Context, doc *entity.Document, llm *LLMOutput) *ValidationOutput {
	start, err := o.beginStage(ctx, doc, constants.StageValidation)
	if err != nil {
		o.logger.Warn("could not record validation start", "document_id", doc.ID, "error", err)
		start = time.Now().UTC()
	}

	out, err := runProtected(ctx, o, constants.StageValidation, func(ctx context.Context) (*ValidationOutput, error) {
		return o.procs.Validator.Validate(ctx, doc, llm)
	})
	if err != nil {
		o.logger.Warn("validation unavailable, recording default verdict", "document_id", doc.ID, "error", err)
		o.failStage(ctx, doc, constants.StageValidation, start, err)
		out = DefaultValidationOutput(common.SanitizeErrorMessage(err, string(constants.StageValidation)))
	} else {
		o.completeStage(ctx, doc, constants.StageValidation, start, nil)
	}

	qs := &entity.QualityScore{
		DocumentID:        doc.ID,
		OverallScore:      out.OverallScore,
		CompletenessScore: out.CompletenessScore,
		AccuracyScore:     out.AccuracyScore,
		ComplianceScore:   out.ComplianceScore,
		QualityScore:      out.QualityScore,
		Decision:          out.Decision,
		Reasoning:         out.Reasoning,
		IssuesFound:       out.IssuesFound,
		Confidence:        out.Confidence,
		JudgeModel:        out.JudgeModel,
	}
	if err := o.status.SaveQualityScore(ctx, qs); err != nil {
		o.logger.Error("failed to save quality score", "document_id", doc.ID, "error", err)
	}
	return out
}

// runRouting executes the routing stage, substituting the flag-for-review
// default when the backend stays down.
func (o *Orchestrator) runRouting(ctx context.Context, doc *entity.Document, val *ValidationOutput) {
	start, err := o.beginStage(ctx, doc, constants.StageRouting)
	if err != nil {
		o.logger.Warn("could not record routing start", "document_id", doc.ID, "error", err)
		start = time.Now().UTC()
	}

	out, err := runProtected(ctx, o, constants.StageRouting, func(ctx context.Context) (*RoutingOutput, error) {
		return o.procs.Router.Route(ctx, doc, val)
	})
	if err != nil {
		o.logger.Warn("routing unavailable, recording default decision", "document_id", doc.ID, "error", err)
		o.failStage(ctx, doc, constants.StageRouting, start, err)
		out = DefaultRoutingOutput(common.SanitizeErrorMessage(err, string(constants.StageRouting)))
	} else {
		o.completeStage(ctx, doc, constants.StageRouting, start, nil)
	}

	rd := &entity.RoutingDecision{
		DocumentID:          doc.ID,
		Action:              out.Action,
		Reason:              out.Reason,
		IntegrationStatus:   out.IntegrationStatus,
		IntegrationData:     out.IntegrationData,
		HumanReviewRequired: out.HumanReviewRequired,
	}
	if err := o.status.SaveRoutingDecision(ctx, rd); err != nil {
		o.logger.Error("failed to save routing decision", "document_id", doc.ID, "error", err)
	}
}

func runProtected[T any](ctx context.Context, o *Orchestrator, name constants.ProcessingStage, op func(context.Context) (*T, error)) (*T, error) {
	var out *T
	err := o.breakers[name].Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = retry.Do(ctx, o.retryCfg, op)
		return err
	})
	return out, err
}

func (o *Orchestrator) beginStage(ctx context.Context, doc *entity.Document, name constants.ProcessingStage) (time.Time, error) {
	start := time.Now().UTC()
	if err := o.status.MarkStage(ctx, &entity.StageRecord{
		DocumentID: doc.ID,
		StageName:  name,
		Status:     constants.StageProcessing,
		StartedAt:  &start,
	}); err != nil {
		return start, err
	}
	if err := o.status.UpdateStatus(ctx, doc.ID, name, name, nil); err != nil {
		return start, err
	}
	o.logger.Info("stage started", "document_id", doc.ID, "stage", name,
		"progress", constants.ProgressStarted(name))
	return start, nil
}

func (o *Orchestrator) completeStage(ctx context.Context, doc *entity.Document, name constants.ProcessingStage, start time.Time, meta map[string]any) {
	now := time.Now().UTC()
	duration := now.Sub(start).Milliseconds()
	if err := o.status.MarkStage(ctx, &entity.StageRecord{
		DocumentID:  doc.ID,
		StageName:   name,
		Status:      constants.StageDone,
		StartedAt:   &start,
		CompletedAt: &now,
		DurationMS:  &duration,
		Metadata:    meta,
	}); err != nil {
		o.logger.Error("failed to record stage completion", "document_id", doc.ID, "stage", name, "error", err)
	}
	o.logger.Info("stage completed", "document_id", doc.ID, "stage", name,
		"duration_ms", duration, "progress", constants.ProgressCompleted(name))
}

func (o *Orchestrator) failStage(ctx context.Context, doc *entity.Document, name constants.ProcessingStage, start time.Time, cause error) {
	now := time.Now().UTC()
	duration := now.Sub(start).Milliseconds()
	msg := common.SanitizeErrorMessage(cause, string(name))
	if err := o.status.MarkStage(ctx, &entity.StageRecord{
		DocumentID:   doc.ID,
		StageName:    name,
		Status:       constants.StageErrored,
		StartedAt:    &start,
		CompletedAt:  &now,
		DurationMS:   &duration,
		ErrorMessage: &msg,
	}); err != nil {
		o.logger.Error("failed to record stage failure", "document_id", doc.ID, "stage", name, "error", err)
	}
	o.logger.Error("stage failed", "document_id", doc.ID, "stage", name, "error", cause)
}

func (o *Orchestrator) saveExtraction(ctx context.Context, docID uuid.UUID, name constants.ProcessingStage, res StageResult) {
	er := &entity.ExtractionResult{
		DocumentID:      docID,
		Stage:           name,
		RawData:         res.RawData,
		ProcessedData:   res.ProcessedData,
		ConfidenceScore: res.Confidence,
		DurationMS:      res.DurationMS,
		ModelUsed:       res.ModelUsed,
		Metadata:        res.Metadata,
	}
	if err := o.status.SaveExtractionResult(ctx, er); err != nil {
		o.logger.Error("failed to save extraction result", "document_id", docID, "stage", name, "error", err)
	}
}

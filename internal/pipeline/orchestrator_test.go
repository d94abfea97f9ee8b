package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/repository"
	"github.com/aodunsi/docpipeline/internal/retry"
)

type fakeProcs struct {
	preprocess func(context.Context, *entity.Document) (*PreprocessOutput, error)
	extract    func(context.Context, *entity.Document, *PreprocessOutput) (*OCROutput, error)
	process    func(context.Context, *entity.Document, *OCROutput) (*LLMOutput, error)
	validate   func(context.Context, *entity.Document, *LLMOutput) (*ValidationOutput, error)
	route      func(context.Context, *entity.Document, *ValidationOutput) (*RoutingOutput, error)
}

func (f *fakeProcs) Preprocess(ctx context.Context, doc *entity.Document) (*PreprocessOutput, error) {
	return f.preprocess(ctx, doc)
}
func (f *fakeProcs) Extract(ctx context.Context, doc *entity.Document, pre *PreprocessOutput) (*OCROutput, error) {
	return f.extract(ctx, doc, pre)
}
func (f *fakeProcs) Process(ctx context.Context, doc *entity.Document, ocr *OCROutput) (*LLMOutput, error) {
	return f.process(ctx, doc, ocr)
}
func (f *fakeProcs) Validate(ctx context.Context, doc *entity.Document, llm *LLMOutput) (*ValidationOutput, error) {
	return f.validate(ctx, doc, llm)
}
func (f *fakeProcs) Route(ctx context.Context, doc *entity.Document, val *ValidationOutput) (*RoutingOutput, error) {
	return f.route(ctx, doc, val)
}

func happyProcs() *fakeProcs {
	return &fakeProcs{
		preprocess: func(context.Context, *entity.Document) (*PreprocessOutput, error) {
			return &PreprocessOutput{
				StageResult: StageResult{ProcessedData: map[string]any{"pages": 1.0}, Confidence: 1},
				PageCount:   1,
			}, nil
		},
		extract: func(context.Context, *entity.Document, *PreprocessOutput) (*OCROutput, error) {
			return &OCROutput{
				StageResult: StageResult{RawData: map[string]any{"text": "INVOICE 42"}, Confidence: 0.95, ModelUsed: "tesseract"},
				Text:        "INVOICE 42",
			}, nil
		},
		process: func(context.Context, *entity.Document, *OCROutput) (*LLMOutput, error) {
			return &LLMOutput{
				StageResult: StageResult{Confidence: 0.9, ModelUsed: "gpt-4o-mini"},
				Fields: map[string]any{
					"vendor_name":    "Acme Corp",
					"document_date":  "2026-08-01",
					"invoice_number": "42",
					"total":          "125.00",
				},
			}, nil
		},
		validate: func(context.Context, *entity.Document, *LLMOutput) (*ValidationOutput, error) {
			return &ValidationOutput{
				OverallScore: 0.92,
				Decision:     constants.DecisionApproved,
				Confidence:   0.9,
				JudgeModel:   "gpt-4o-mini",
			}, nil
		},
		route: func(context.Context, *entity.Document, *ValidationOutput) (*RoutingOutput, error) {
			return &RoutingOutput{
				Action:            constants.ActionApproveAuto,
				Reason:            "quality above threshold",
				IntegrationStatus: constants.IntegrationSubmitted,
			}, nil
		},
	}
}

func procsFrom(f *fakeProcs) Processors {
	return Processors{Preprocessor: f, OCR: f, LLM: f, Validator: f, Router: f}
}

func fastOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Retry: retry.Config{
			MaxRetries:      2,
			InitialDelay:    time.Millisecond,
			MaxDelay:        5 * time.Millisecond,
			ExponentialBase: 2.0,
		},
		Breaker: retry.BreakerConfig{FailureThreshold: 50, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1},
	}
}

func newOrchestrator(t *testing.T, f *fakeProcs) (*Orchestrator, *docstatus.Service) {
	t.Helper()
	store, db, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	status := docstatus.NewService(store, nil, nil)
	o := NewOrchestrator(status, procsFrom(f), NewMemoryLease(time.Minute), fastOrchestratorConfig(), nil)
	return o, status
}

func seedDocument(t *testing.T, status *docstatus.Service, docType string) *entity.Document {
	t.Helper()
	doc := &entity.Document{
		ID:           uuid.New(),
		Filename:     "invoice.pdf",
		FilePath:     "/var/uploads/invoice.pdf",
		MediaType:    "application/pdf",
		UserID:       "user-1",
		DocumentType: docType,
	}
	require.NoError(t, status.Create(context.Background(), doc))
	return doc
}

func TestRun_HappyPath(t *testing.T) {
	o, status := newOrchestrator(t, happyProcs())
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	require.NoError(t, o.Run(ctx, doc.ID))

	view, err := status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageCompleted), view.Status)
	assert.Equal(t, 100, view.Progress)
	require.Len(t, view.Stages, 5)
	for _, sv := range view.Stages {
		assert.Equal(t, string(constants.StageDone), sv.Status, "stage %s", sv.Name)
		require.NotNil(t, sv.DurationMS, "stage %s", sv.Name)
	}

	results, err := status.GetResults(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, results.ExtractionResults, 3, "one result per extraction stage")
	require.NotNil(t, results.QualityScore)
	assert.Equal(t, constants.DecisionApproved, results.QualityScore.Decision)
	require.NotNil(t, results.RoutingDecision)
	assert.Equal(t, constants.ActionApproveAuto, results.RoutingDecision.Action)
}

func TestRun_CriticalStageFailureStopsPipeline(t *testing.T) {
	f := happyProcs()
	f.extract = func(context.Context, *entity.Document, *PreprocessOutput) (*OCROutput, error) {
		return nil, retry.FatalErr(errors.New("unsupported image depth at postgres://ocr:hunter2@db/ocr"))
	}
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	err := o.Run(ctx, doc.ID)
	require.Error(t, err)

	view, err := status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageFailed), view.Status)
	assert.Equal(t, 20, view.Progress, "only preprocessing completed")
	require.NotNil(t, view.ErrorMessage)
	assert.True(t, strings.HasPrefix(*view.ErrorMessage, string(constants.StageOCRExtraction)+":"),
		"error message must name the failed stage: %q", *view.ErrorMessage)
	assert.NotContains(t, *view.ErrorMessage, "hunter2", "credentials must be redacted")

	// Stages after the failure never ran.
	for _, sv := range view.Stages {
		switch sv.Name {
		case string(constants.StagePreprocessing):
			assert.Equal(t, string(constants.StageDone), sv.Status)
		case string(constants.StageOCRExtraction):
			assert.Equal(t, string(constants.StageErrored), sv.Status)
		default:
			assert.Equal(t, string(constants.StagePending), sv.Status, "stage %s", sv.Name)
		}
	}

	results, err := status.GetResults(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, results.ExtractionResults, 1)
	assert.Nil(t, results.QualityScore)
	assert.Nil(t, results.RoutingDecision)
}

func TestRun_TransientFailureRetriesThenSucceeds(t *testing.T) {
	f := happyProcs()
	attempts := 0
	f.preprocess = func(context.Context, *entity.Document) (*PreprocessOutput, error) {
		attempts++
		if attempts < 3 {
			return nil, retry.RetryableErr(errors.New("connection reset"))
		}
		return &PreprocessOutput{StageResult: StageResult{Confidence: 1}}, nil
	}
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")

	require.NoError(t, o.Run(context.Background(), doc.ID))
	assert.Equal(t, 3, attempts)

	view, err := status.GetStatus(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageCompleted), view.Status)
}

func stageView(t *testing.T, view *entity.StatusView, name constants.ProcessingStage) entity.StageView {
	t.Helper()
	for _, sv := range view.Stages {
		if sv.Name == string(name) {
			return sv
		}
	}
	t.Fatalf("stage %s not in view", name)
	return entity.StageView{}
}

func TestRun_ValidationOutageDegradesToReviewRequired(t *testing.T) {
	f := happyProcs()
	f.validate = func(context.Context, *entity.Document, *LLMOutput) (*ValidationOutput, error) {
		return nil, retry.RetryableErr(errors.New("judge service unreachable"))
	}
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	require.NoError(t, o.Run(ctx, doc.ID), "validation outage must not fail the document")

	view, err := status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageCompleted), view.Status)
	assert.Equal(t, 100, view.Progress)

	// The stage record keeps the real outcome even though the run went on.
	sv := stageView(t, view, constants.StageValidation)
	assert.Equal(t, string(constants.StageErrored), sv.Status)
	require.NotNil(t, sv.ErrorMessage)
	assert.True(t, strings.HasPrefix(*sv.ErrorMessage, string(constants.StageValidation)+":"),
		"stage error must name the stage: %q", *sv.ErrorMessage)

	results, err := status.GetResults(ctx, doc.ID)
	require.NoError(t, err)
	qs := results.QualityScore
	require.NotNil(t, qs)
	assert.Equal(t, constants.DecisionReviewRequired, qs.Decision, "default verdict forces review")
	assert.Zero(t, qs.OverallScore)
	require.NotEmpty(t, qs.IssuesFound)
	assert.Contains(t, qs.IssuesFound[0], "validation unavailable")
	// Routing still ran with the real backend.
	require.NotNil(t, results.RoutingDecision)
	assert.Equal(t, constants.ActionApproveAuto, results.RoutingDecision.Action)
}

func TestRun_RoutingOutageDegradesToFlagReview(t *testing.T) {
	f := happyProcs()
	f.route = func(context.Context, *entity.Document, *ValidationOutput) (*RoutingOutput, error) {
		return nil, retry.RetryableErr(errors.New("router unreachable"))
	}
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	require.NoError(t, o.Run(ctx, doc.ID))

	view, err := status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageCompleted), view.Status)
	sv := stageView(t, view, constants.StageRouting)
	assert.Equal(t, string(constants.StageErrored), sv.Status)
	require.NotNil(t, sv.ErrorMessage)
	assert.True(t, strings.HasPrefix(*sv.ErrorMessage, string(constants.StageRouting)+":"),
		"stage error must name the stage: %q", *sv.ErrorMessage)

	results, err := status.GetResults(ctx, doc.ID)
	require.NoError(t, err)
	rd := results.RoutingDecision
	require.NotNil(t, rd)
	assert.Equal(t, constants.ActionFlagReview, rd.Action)
	assert.Equal(t, constants.IntegrationPending, rd.IntegrationStatus)
	assert.True(t, rd.HumanReviewRequired, "default routing always requires human review")
}

func TestRun_LeaseHolderBlocksSecondRun(t *testing.T) {
	f := happyProcs()
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	// Simulate another worker holding the lease.
	lease := NewMemoryLease(time.Minute)
	o.lease = lease
	acquired, err := lease.Acquire(ctx, doc.ID.String())
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, o.Run(ctx, doc.ID))

	view, err := status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageUploaded), view.Status, "leased document must be left untouched")
	assert.Equal(t, 0, view.Progress)

	// Once the holder releases, processing proceeds normally.
	require.NoError(t, lease.Release(ctx, doc.ID.String()))
	require.NoError(t, o.Run(ctx, doc.ID))
	view, err = status.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StageCompleted), view.Status)
}

func TestRun_CompletedDocumentIsSkipped(t *testing.T) {
	calls := 0
	f := happyProcs()
	base := f.preprocess
	f.preprocess = func(ctx context.Context, doc *entity.Document) (*PreprocessOutput, error) {
		calls++
		return base(ctx, doc)
	}
	o, status := newOrchestrator(t, f)
	doc := seedDocument(t, status, "invoice")
	ctx := context.Background()

	require.NoError(t, o.Run(ctx, doc.ID))
	require.NoError(t, o.Run(ctx, doc.ID))
	assert.Equal(t, 1, calls, "completed document must not be reprocessed")
}

func TestValidateFields(t *testing.T) {
	err := ValidateFields("invoice", map[string]any{
		"vendor_name":    "Acme Corp",
		"document_date":  "2026-08-01",
		"invoice_number": "42",
		"total":          "125.00",
	})
	assert.NoError(t, err)

	err = ValidateFields("invoice", map[string]any{
		"vendor_name":   "Acme Corp",
		"document_date": "not-a-date",
	})
	assert.Error(t, err)
}

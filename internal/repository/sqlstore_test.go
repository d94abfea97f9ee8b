package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/entity"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, db, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store
}

func newTestDocument() *entity.Document {
	return &entity.Document{
		ID:           uuid.New(),
		Filename:     "invoice.pdf",
		FilePath:     "/var/uploads/invoice.pdf",
		MediaType:    "application/pdf",
		FileSize:     2048,
		UserID:       "user-1",
		Status:       constants.StageUploaded,
		Stage:        constants.StageUploaded,
		DocumentType: "invoice",
		Metadata:     map[string]any{"source": "upload"},
	}
}

func TestSQLStore_DocumentRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "invoice.pdf", got.Filename)
	assert.Equal(t, constants.StageUploaded, got.Status)
	assert.Equal(t, "upload", got.Metadata["source"])
	assert.Nil(t, got.ErrorMessage)
}

func TestSQLStore_GetDocumentNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetDocument(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLStore_CreateDocumentIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	doc.Filename = "invoice-v2.pdf"
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice-v2.pdf", got.Filename)
}

func TestSQLStore_UpdateDocumentStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	require.NoError(t, store.UpdateDocumentStatus(ctx, doc.ID, constants.StageOCRExtraction, constants.StageOCRExtraction, nil))
	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageOCRExtraction, got.Status)
	assert.Nil(t, got.ErrorMessage)

	msg := "ocr_extraction: upstream unreachable"
	require.NoError(t, store.UpdateDocumentStatus(ctx, doc.ID, constants.StageFailed, constants.StageOCRExtraction, &msg))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)

	err = store.UpdateDocumentStatus(ctx, uuid.New(), constants.StageCompleted, constants.StageRouting, nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLStore_UpsertStageKeepsSingleRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpsertStage(ctx, &entity.StageRecord{
		DocumentID: doc.ID,
		StageName:  constants.StagePreprocessing,
		Status:     constants.StageProcessing,
		StartedAt:  &started,
	}))

	completed := started.Add(120 * time.Millisecond)
	duration := int64(120)
	require.NoError(t, store.UpsertStage(ctx, &entity.StageRecord{
		DocumentID:  doc.ID,
		StageName:   constants.StagePreprocessing,
		Status:      constants.StageDone,
		StartedAt:   &started,
		CompletedAt: &completed,
		DurationMS:  &duration,
	}))

	stages, err := store.ListStages(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1, "second write must update, not insert")
	rec := stages[0]
	assert.Equal(t, constants.StagePreprocessing, rec.StageName)
	assert.Equal(t, constants.StageDone, rec.Status)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, rec.DurationMS)
	assert.Equal(t, int64(120), *rec.DurationMS)
}

func TestSQLStore_ExtractionResultSupersedes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	first := &entity.ExtractionResult{
		DocumentID:      doc.ID,
		Stage:           constants.StageOCRExtraction,
		RawData:         map[string]any{"text": "draft"},
		ConfidenceScore: 0.5,
		DurationMS:      90,
		ModelUsed:       "tesseract",
	}
	require.NoError(t, store.SaveExtractionResult(ctx, first))

	second := &entity.ExtractionResult{
		DocumentID:      doc.ID,
		Stage:           constants.StageOCRExtraction,
		RawData:         map[string]any{"text": "final"},
		ConfidenceScore: 0.93,
		DurationMS:      85,
		ModelUsed:       "tesseract",
	}
	require.NoError(t, store.SaveExtractionResult(ctx, second))

	results, err := store.ListExtractionResults(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, results, 1, "rewrite for the same stage must supersede the prior row")
	assert.Equal(t, "final", results[0].RawData["text"])
	assert.InDelta(t, 0.93, results[0].ConfidenceScore, 1e-9)
}

func TestSQLStore_QualityScoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	missing, err := store.GetQualityScore(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	qs := &entity.QualityScore{
		DocumentID:        doc.ID,
		OverallScore:      0.82,
		CompletenessScore: 0.9,
		AccuracyScore:     0.8,
		ComplianceScore:   0.75,
		QualityScore:      0.82,
		Decision:          constants.DecisionReviewRequired,
		IssuesFound:       []string{"missing tax id"},
		Confidence:        0.7,
		JudgeModel:        "gpt-4o-mini",
	}
	require.NoError(t, store.SaveQualityScore(ctx, qs))

	got, err := store.GetQualityScore(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, constants.DecisionReviewRequired, got.Decision)
	assert.Equal(t, []string{"missing tax id"}, got.IssuesFound)
	assert.InDelta(t, 0.82, got.OverallScore, 1e-9)
}

func TestSQLStore_RoutingDecisionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, store.CreateDocument(ctx, doc))

	rd := &entity.RoutingDecision{
		DocumentID:          doc.ID,
		Action:              constants.ActionFlagReview,
		Reason:              "validation unavailable, conservative default",
		IntegrationStatus:   constants.IntegrationPending,
		HumanReviewRequired: true,
	}
	require.NoError(t, store.SaveRoutingDecision(ctx, rd))

	// Approve path rewrites the same row.
	rd.Action = constants.ActionApproveAuto
	rd.Reason = "approved by reviewer"
	rd.IntegrationStatus = constants.IntegrationApproved
	rd.HumanReviewRequired = false
	require.NoError(t, store.SaveRoutingDecision(ctx, rd))

	got, err := store.GetRoutingDecision(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, constants.ActionApproveAuto, got.Action)
	assert.Equal(t, constants.IntegrationApproved, got.IntegrationStatus)
	assert.False(t, got.HumanReviewRequired)
}

func TestSQLStore_CountByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := newTestDocument()
		require.NoError(t, store.CreateDocument(ctx, doc))
	}
	done := newTestDocument()
	done.Status = constants.StageCompleted
	require.NoError(t, store.CreateDocument(ctx, done))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[constants.StageUploaded])
	assert.Equal(t, 1, counts[constants.StageCompleted])
}

func TestSQLStore_ReadsDoubleEncodedJSON(t *testing.T) {
	store, db, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	// Older writers serialized the payload twice, storing a JSON string whose
	// contents are the object. Insert such a row directly.
	docID := uuid.New()
	legacy, err := json.Marshal(`{"vendor_name": "Acme Corp", "total": "125.00"}`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO extraction_results
			(document_id, stage, raw_data, processed_data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		docID.String(), string(constants.StageLLMProcessing),
		string(legacy), string(legacy), time.Now().UTC())
	require.NoError(t, err)

	results, err := store.ListExtractionResults(ctx, docID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Acme Corp", results[0].ProcessedData["vendor_name"])
	assert.Equal(t, "125.00", results[0].RawData["total"])
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// Store is the persistence contract for documents and their per-stage state.
// Two backends implement it: Postgres over a pgx pool and an embedded SQLite
// database used as the in-process fallback. Writes to result tables supersede
// any prior row for the same key atomically.
type Store interface {
	CreateDocument(ctx context.Context, doc *entity.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ListDocuments(ctx context.Context, userID string, limit, offset int) ([]*entity.Document, error)
	// UpdateDocumentStatus moves the document-level status and current stage
	// forward; errMsg overwrites the stored error message when non-nil.
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status, stage constants.ProcessingStage, errMsg *string) error

	// UpsertStage writes the single row for (document, stage name), creating
	// it on first use and updating it on every later transition.
	UpsertStage(ctx context.Context, rec *entity.StageRecord) error
	ListStages(ctx context.Context, docID uuid.UUID) ([]*entity.StageRecord, error)

	SaveExtractionResult(ctx context.Context, res *entity.ExtractionResult) error
	ListExtractionResults(ctx context.Context, docID uuid.UUID) ([]*entity.ExtractionResult, error)

	SaveQualityScore(ctx context.Context, qs *entity.QualityScore) error
	GetQualityScore(ctx context.Context, docID uuid.UUID) (*entity.QualityScore, error)

	SaveRoutingDecision(ctx context.Context, rd *entity.RoutingDecision) error
	GetRoutingDecision(ctx context.Context, docID uuid.UUID) (*entity.RoutingDecision, error)

	CountByStatus(ctx context.Context) (map[constants.ProcessingStage]int, error)
	// AverageScore returns the mean overall quality score across all scored
	// documents, zero when nothing has been scored yet.
	AverageScore(ctx context.Context) (float64, error)

	Ping(ctx context.Context) error
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound to $n for Postgres, so both backends share one set
// of statements.
type sqlStore struct {
	db     *sql.DB
	dollar bool
	logger *slog.Logger
}

func (s *sqlStore) q(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// decodeJSONMap tolerates doubly encoded values (a JSON string whose contents
// are themselves a JSON object), which older writers produced.
func decodeJSONMap(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func decodeJSONList(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return nil
	}
	return l
}

func (s *sqlStore) CreateDocument(ctx context.Context, doc *entity.Document) error {
	meta, err := entity.MarshalMetadata(doc.Metadata)
	if err != nil {
		return common.WrapError(err, "encode document metadata")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO documents
			(id, filename, file_path, file_type, file_size, user_id, status,
			 processing_stage, document_type, error_message, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			file_path = excluded.file_path,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			user_id = excluded.user_id,
			status = excluded.status,
			processing_stage = excluded.processing_stage,
			document_type = excluded.document_type,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`),
		doc.ID.String(), doc.Filename, doc.FilePath, doc.MediaType, doc.FileSize,
		doc.UserID, string(doc.Status), string(doc.Stage), doc.DocumentType,
		doc.ErrorMessage, meta, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		s.logger.Error("failed to create document", "document_id", doc.ID, "error", err)
		return common.WrapError(err, "create document")
	}
	return nil
}

const documentColumns = `id, filename, file_path, file_type, file_size, user_id, status,
	processing_stage, document_type, error_message, metadata, created_at, updated_at`

func (s *sqlStore) scanDocument(row interface{ Scan(...any) error }) (*entity.Document, error) {
	var (
		d       entity.Document
		id      string
		status  string
		stage   sql.NullString
		docType sql.NullString
		errMsg  sql.NullString
		meta    []byte
	)
	err := row.Scan(&id, &d.Filename, &d.FilePath, &d.MediaType, &d.FileSize,
		&d.UserID, &status, &stage, &docType, &errMsg, &meta, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	d.Status = constants.ProcessingStage(status)
	if stage.Valid {
		d.Stage = constants.ProcessingStage(stage.String)
	}
	if docType.Valid {
		d.DocumentType = docType.String
	}
	if errMsg.Valid {
		d.ErrorMessage = &errMsg.String
	}
	d.Metadata = decodeJSONMap(meta)
	return &d, nil
}

func (s *sqlStore) GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id.String())
	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "get document")
	}
	return doc, nil
}

func (s *sqlStore) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]*entity.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, common.WrapError(err, "list documents")
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan document")
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status, stage constants.ProcessingStage, errMsg *string) error {
	var res sql.Result
	var err error
	if errMsg != nil {
		res, err = s.db.ExecContext(ctx, s.q(`
			UPDATE documents SET status = ?, processing_stage = ?, error_message = ?, updated_at = ?
			WHERE id = ?`),
			string(status), string(stage), *errMsg, time.Now().UTC(), id.String())
	} else {
		res, err = s.db.ExecContext(ctx, s.q(`
			UPDATE documents SET status = ?, processing_stage = ?, updated_at = ?
			WHERE id = ?`),
			string(status), string(stage), time.Now().UTC(), id.String())
	}
	if err != nil {
		s.logger.Error("failed to update document status", "document_id", id, "status", status, "error", err)
		return common.WrapError(err, "update document status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) UpsertStage(ctx context.Context, rec *entity.StageRecord) error {
	meta, err := entity.MarshalMetadata(rec.Metadata)
	if err != nil {
		return common.WrapError(err, "encode stage metadata")
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO processing_stages
			(document_id, stage_name, status, started_at, completed_at,
			 error_message, processing_time_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, stage_name) DO UPDATE SET
			status = excluded.status,
			started_at = COALESCE(excluded.started_at, processing_stages.started_at),
			completed_at = excluded.completed_at,
			error_message = excluded.error_message,
			processing_time_ms = excluded.processing_time_ms,
			metadata = excluded.metadata`),
		rec.DocumentID.String(), string(rec.StageName), string(rec.Status),
		rec.StartedAt, rec.CompletedAt, rec.ErrorMessage, rec.DurationMS, meta)
	if err != nil {
		s.logger.Error("failed to upsert stage", "document_id", rec.DocumentID, "stage", rec.StageName, "error", err)
		return common.WrapError(err, "upsert stage")
	}
	return nil
}

func (s *sqlStore) ListStages(ctx context.Context, docID uuid.UUID) ([]*entity.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT document_id, stage_name, status, started_at, completed_at,
		       error_message, processing_time_ms, metadata
		FROM processing_stages WHERE document_id = ?`), docID.String())
	if err != nil {
		return nil, common.WrapError(err, "list stages")
	}
	defer rows.Close()

	var out []*entity.StageRecord
	for rows.Next() {
		var (
			rec       entity.StageRecord
			id        string
			stageName string
			status    string
			started   sql.NullTime
			completed sql.NullTime
			errMsg    sql.NullString
			duration  sql.NullInt64
			meta      []byte
		)
		if err := rows.Scan(&id, &stageName, &status, &started, &completed, &errMsg, &duration, &meta); err != nil {
			return nil, common.WrapError(err, "scan stage")
		}
		if rec.DocumentID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		rec.StageName = constants.ProcessingStage(stageName)
		rec.Status = constants.StageStatus(status)
		if started.Valid {
			t := started.Time
			rec.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		if duration.Valid {
			rec.DurationMS = &duration.Int64
		}
		rec.Metadata = decodeJSONMap(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveExtractionResult(ctx context.Context, res *entity.ExtractionResult) error {
	raw, err := entity.MarshalMetadata(res.RawData)
	if err != nil {
		return common.WrapError(err, "encode raw data")
	}
	processed, err := entity.MarshalMetadata(res.ProcessedData)
	if err != nil {
		return common.WrapError(err, "encode processed data")
	}
	meta, err := entity.MarshalMetadata(res.Metadata)
	if err != nil {
		return common.WrapError(err, "encode result metadata")
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO extraction_results
			(document_id, stage, raw_data, processed_data, confidence_score,
			 processing_time_ms, model_used, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, stage) DO UPDATE SET
			raw_data = excluded.raw_data,
			processed_data = excluded.processed_data,
			confidence_score = excluded.confidence_score,
			processing_time_ms = excluded.processing_time_ms,
			model_used = excluded.model_used,
			metadata = excluded.metadata,
			created_at = excluded.created_at`),
		res.DocumentID.String(), string(res.Stage), raw, processed, res.ConfidenceScore,
		res.DurationMS, res.ModelUsed, meta, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to save extraction result", "document_id", res.DocumentID, "stage", res.Stage, "error", err)
		return common.WrapError(err, "save extraction result")
	}
	return nil
}

func (s *sqlStore) ListExtractionResults(ctx context.Context, docID uuid.UUID) ([]*entity.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT document_id, stage, raw_data, processed_data, confidence_score,
		       processing_time_ms, model_used, metadata
		FROM extraction_results WHERE document_id = ?`), docID.String())
	if err != nil {
		return nil, common.WrapError(err, "list extraction results")
	}
	defer rows.Close()

	var out []*entity.ExtractionResult
	for rows.Next() {
		var (
			res       entity.ExtractionResult
			id        string
			stage     string
			raw       []byte
			processed []byte
			meta      []byte
		)
		if err := rows.Scan(&id, &stage, &raw, &processed, &res.ConfidenceScore,
			&res.DurationMS, &res.ModelUsed, &meta); err != nil {
			return nil, common.WrapError(err, "scan extraction result")
		}
		if res.DocumentID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		res.Stage = constants.ProcessingStage(stage)
		res.RawData = decodeJSONMap(raw)
		res.ProcessedData = decodeJSONMap(processed)
		res.Metadata = decodeJSONMap(meta)
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveQualityScore(ctx context.Context, qs *entity.QualityScore) error {
	reasoning, err := entity.MarshalMetadata(qs.Reasoning)
	if err != nil {
		return common.WrapError(err, "encode reasoning")
	}
	issues, err := json.Marshal(qs.IssuesFound)
	if err != nil {
		return common.WrapError(err, "encode issues")
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO quality_scores
			(document_id, overall_score, completeness_score, accuracy_score,
			 compliance_score, quality_score, decision, reasoning, issues_found,
			 confidence, judge_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			completeness_score = excluded.completeness_score,
			accuracy_score = excluded.accuracy_score,
			compliance_score = excluded.compliance_score,
			quality_score = excluded.quality_score,
			decision = excluded.decision,
			reasoning = excluded.reasoning,
			issues_found = excluded.issues_found,
			confidence = excluded.confidence,
			judge_model = excluded.judge_model,
			created_at = excluded.created_at`),
		qs.DocumentID.String(), qs.OverallScore, qs.CompletenessScore, qs.AccuracyScore,
		qs.ComplianceScore, qs.QualityScore, string(qs.Decision), reasoning, issues,
		qs.Confidence, qs.JudgeModel, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to save quality score", "document_id", qs.DocumentID, "error", err)
		return common.WrapError(err, "save quality score")
	}
	return nil
}

func (s *sqlStore) GetQualityScore(ctx context.Context, docID uuid.UUID) (*entity.QualityScore, error) {
	var (
		qs        entity.QualityScore
		id        string
		decision  string
		reasoning []byte
		issues    []byte
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT document_id, overall_score, completeness_score, accuracy_score,
		       compliance_score, quality_score, decision, reasoning, issues_found,
		       confidence, judge_model
		FROM quality_scores WHERE document_id = ?`), docID.String()).
		Scan(&id, &qs.OverallScore, &qs.CompletenessScore, &qs.AccuracyScore,
			&qs.ComplianceScore, &qs.QualityScore, &decision, &reasoning, &issues,
			&qs.Confidence, &qs.JudgeModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "get quality score")
	}
	if qs.DocumentID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	qs.Decision = constants.QualityDecision(decision)
	qs.Reasoning = decodeJSONMap(reasoning)
	qs.IssuesFound = decodeJSONList(issues)
	return &qs, nil
}

func (s *sqlStore) SaveRoutingDecision(ctx context.Context, rd *entity.RoutingDecision) error {
	data, err := entity.MarshalMetadata(rd.IntegrationData)
	if err != nil {
		return common.WrapError(err, "encode integration data")
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO routing_decisions
			(document_id, routing_action, routing_reason, integration_status,
			 integration_data, human_review_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			routing_action = excluded.routing_action,
			routing_reason = excluded.routing_reason,
			integration_status = excluded.integration_status,
			integration_data = excluded.integration_data,
			human_review_required = excluded.human_review_required,
			created_at = excluded.created_at`),
		rd.DocumentID.String(), string(rd.Action), rd.Reason, string(rd.IntegrationStatus),
		data, rd.HumanReviewRequired, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to save routing decision", "document_id", rd.DocumentID, "error", err)
		return common.WrapError(err, "save routing decision")
	}
	return nil
}

func (s *sqlStore) GetRoutingDecision(ctx context.Context, docID uuid.UUID) (*entity.RoutingDecision, error) {
	var (
		rd      entity.RoutingDecision
		id      string
		action  string
		istatus string
		data    []byte
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT document_id, routing_action, routing_reason, integration_status,
		       integration_data, human_review_required
		FROM routing_decisions WHERE document_id = ?`), docID.String()).
		Scan(&id, &action, &rd.Reason, &istatus, &data, &rd.HumanReviewRequired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "get routing decision")
	}
	if rd.DocumentID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	rd.Action = constants.RoutingAction(action)
	rd.IntegrationStatus = constants.IntegrationStatus(istatus)
	rd.IntegrationData = decodeJSONMap(data)
	return &rd, nil
}

func (s *sqlStore) CountByStatus(ctx context.Context) (map[constants.ProcessingStage]int, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT status, COUNT(*) FROM documents GROUP BY status`))
	if err != nil {
		return nil, common.WrapError(err, "count by status")
	}
	defer rows.Close()

	out := make(map[constants.ProcessingStage]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, common.WrapError(err, "scan count")
		}
		out[constants.ProcessingStage(status)] = n
	}
	return out, rows.Err()
}

func (s *sqlStore) AverageScore(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(AVG(overall_score), 0) FROM quality_scores`)).Scan(&avg)
	if err != nil {
		return 0, common.WrapError(err, "average score")
	}
	return avg, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Package docstatus tracks every document's position in the pipeline. All
// reads and writes go through a Service that fronts the Postgres store with
// the embedded fallback store, so status survives a database outage in
// degraded form.
package docstatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/repository"
)

// Service is the document status store. When the primary store errors on a
// write the same write is applied to the fallback store so callers always see
// an accepted mutation; reads consult the primary first.
type Service struct {
	primary  repository.Store
	fallback repository.Store
	logger   *slog.Logger
}

func NewService(primary, fallback repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}
}

// failedOver reports whether an error should trigger the fallback store.
// Domain errors (not found, bad input) are the caller's problem, not an
// availability problem.
func failedOver(err error) bool {
	return err != nil &&
		!errors.Is(err, common.ErrNotFound) &&
		!errors.Is(err, common.ErrInvalidInput)
}

func (s *Service) write(ctx context.Context, op string, fn func(repository.Store) error) error {
	err := fn(s.primary)
	if !failedOver(err) {
		return err
	}
	if s.fallback == nil {
		return err
	}
	s.logger.Warn("primary store write failed, using fallback", "op", op, "error", err)
	return fn(s.fallback)
}

func (s *Service) Create(ctx context.Context, doc *entity.Document) error {
	if doc.Status == "" {
		doc.Status = constants.StageUploaded
	}
	if doc.Stage == "" {
		doc.Stage = constants.StageUploaded
	}
	return s.write(ctx, "create_document", func(st repository.Store) error {
		return st.CreateDocument(ctx, doc)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	doc, err := s.primary.GetDocument(ctx, id)
	if failedOver(err) && s.fallback != nil {
		s.logger.Warn("primary store read failed, using fallback", "op", "get_document", "error", err)
		return s.fallback.GetDocument(ctx, id)
	}
	return doc, err
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*entity.Document, error) {
	docs, err := s.primary.ListDocuments(ctx, userID, limit, offset)
	if failedOver(err) && s.fallback != nil {
		s.logger.Warn("primary store read failed, using fallback", "op", "list_documents", "error", err)
		return s.fallback.ListDocuments(ctx, userID, limit, offset)
	}
	return docs, err
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status, stage constants.ProcessingStage, errMsg *string) error {
	return s.write(ctx, "update_status", func(st repository.Store) error {
		return st.UpdateDocumentStatus(ctx, id, status, stage, errMsg)
	})
}

// MarkStage records one stage transition; the underlying write is an upsert
// keyed on (document, stage name) so repeated transitions update in place.
func (s *Service) MarkStage(ctx context.Context, rec *entity.StageRecord) error {
	return s.write(ctx, "mark_stage", func(st repository.Store) error {
		return st.UpsertStage(ctx, rec)
	})
}

func (s *Service) SaveExtractionResult(ctx context.Context, res *entity.ExtractionResult) error {
	return s.write(ctx, "save_extraction_result", func(st repository.Store) error {
		return st.SaveExtractionResult(ctx, res)
	})
}

func (s *Service) SaveQualityScore(ctx context.Context, qs *entity.QualityScore) error {
	return s.write(ctx, "save_quality_score", func(st repository.Store) error {
		return st.SaveQualityScore(ctx, qs)
	})
}

func (s *Service) SaveRoutingDecision(ctx context.Context, rd *entity.RoutingDecision) error {
	return s.write(ctx, "save_routing_decision", func(st repository.Store) error {
		return st.SaveRoutingDecision(ctx, rd)
	})
}

// GetStatus reconciles the document row with its persisted stage records into
// a single view. Progress is completed stages over the five pipeline stages;
// stages that never started yet are reported as pending.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*entity.StatusView, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	recs, err := s.listStages(ctx, id)
	if err != nil {
		return nil, err
	}
	byName := make(map[constants.ProcessingStage]*entity.StageRecord, len(recs))
	for _, r := range recs {
		byName[r.StageName] = r
	}

	view := &entity.StatusView{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		DocumentType: doc.DocumentType,
		Status:       string(doc.Status),
		ErrorMessage: doc.ErrorMessage,
	}

	completed := 0
	currentStage := ""
	for _, name := range constants.PipelineStages {
		sv := entity.StageView{Name: string(name), Status: string(constants.StagePending)}
		if r, ok := byName[name]; ok {
			sv.Status = string(r.Status)
			sv.StartedAt = r.StartedAt
			sv.CompletedAt = r.CompletedAt
			sv.DurationMS = r.DurationMS
			sv.ErrorMessage = r.ErrorMessage
			sv.Metadata = r.Metadata
			if r.Status == constants.StageDone {
				completed++
			}
		}
		if currentStage == "" && sv.Status != string(constants.StageDone) {
			currentStage = sv.Name
		}
		view.Stages = append(view.Stages, sv)
	}

	total := len(constants.PipelineStages)
	view.Progress = completed * 100 / total
	view.CurrentStage = currentStage
	switch doc.Status {
	case constants.StageCompleted:
		view.Progress = 100
		view.CurrentStage = string(constants.StageCompleted)
	case constants.StageFailed:
		view.CurrentStage = string(constants.StageFailed)
	default:
		if view.Progress < 100 && completed < total {
			eta := estimateCompletion(recs, total-completed)
			view.EstimatedCompletion = eta
		}
	}
	return view, nil
}

func (s *Service) listStages(ctx context.Context, id uuid.UUID) ([]*entity.StageRecord, error) {
	recs, err := s.primary.ListStages(ctx, id)
	if failedOver(err) && s.fallback != nil {
		s.logger.Warn("primary store read failed, using fallback", "op", "list_stages", "error", err)
		return s.fallback.ListStages(ctx, id)
	}
	return recs, err
}

// estimateCompletion projects the mean duration of finished stages over the
// stages still outstanding. Nil until at least one stage has a duration.
func estimateCompletion(recs []*entity.StageRecord, remaining int) *time.Time {
	var sum, n int64
	for _, r := range recs {
		if r.Status == constants.StageDone && r.DurationMS != nil {
			sum += *r.DurationMS
			n++
		}
	}
	if n == 0 || remaining <= 0 {
		return nil
	}
	eta := time.Now().UTC().Add(time.Duration(sum/n*int64(remaining)) * time.Millisecond)
	return &eta
}

// GetResults returns every persisted result for a document, keyed by stage
// name for the extraction stages.
func (s *Service) GetResults(ctx context.Context, id uuid.UUID) (*entity.Results, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	extractions, err := s.primary.ListExtractionResults(ctx, id)
	if failedOver(err) && s.fallback != nil {
		extractions, err = s.fallback.ListExtractionResults(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	qs, err := s.primary.GetQualityScore(ctx, id)
	if failedOver(err) && s.fallback != nil {
		qs, err = s.fallback.GetQualityScore(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	rd, err := s.primary.GetRoutingDecision(ctx, id)
	if failedOver(err) && s.fallback != nil {
		rd, err = s.fallback.GetRoutingDecision(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	results := &entity.Results{
		ExtractionResults: make(map[string]entity.ExtractionResult, len(extractions)),
		QualityScore:      qs,
		RoutingDecision:   rd,
	}
	for _, res := range extractions {
		results.ExtractionResults[string(res.Stage)] = *res
	}
	return results, nil
}

// Approve overrides the routing outcome after human review.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer string) error {
	return s.reviewDecision(ctx, id, reviewer, constants.ActionApproveAuto, constants.IntegrationApproved)
}

// Reject overrides the routing outcome after human review.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reviewer string) error {
	return s.reviewDecision(ctx, id, reviewer, constants.ActionReject, constants.IntegrationFailed)
}

func (s *Service) reviewDecision(ctx context.Context, id uuid.UUID, reviewer string, action constants.RoutingAction, istatus constants.IntegrationStatus) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	rd, err := s.primary.GetRoutingDecision(ctx, id)
	if failedOver(err) && s.fallback != nil {
		rd, err = s.fallback.GetRoutingDecision(ctx, id)
	}
	if err != nil {
		return err
	}
	if rd == nil {
		return fmt.Errorf("document %s has no routing decision: %w", id, common.ErrNotFound)
	}
	rd.Action = action
	rd.IntegrationStatus = istatus
	rd.HumanReviewRequired = false
	rd.Reason = fmt.Sprintf("%s by %s", action, reviewer)
	if rd.IntegrationData == nil {
		rd.IntegrationData = map[string]any{}
	}
	rd.IntegrationData["reviewed_by"] = reviewer
	rd.IntegrationData["reviewed_at"] = time.Now().UTC().Format(time.RFC3339)

	s.logger.Info("routing decision reviewed", "document_id", id, "action", action, "reviewer", reviewer)
	return s.SaveRoutingDecision(ctx, rd)
}

// Summary is the analytics rollup over all tracked documents.
type Summary struct {
	Total        int                               `json:"total"`
	Completed    int                               `json:"completed"`
	Failed       int                               `json:"failed"`
	InProgress   int                               `json:"in_progress"`
	AverageScore float64                           `json:"average_score"`
	ByStatus     map[constants.ProcessingStage]int `json:"by_status"`
}

func (s *Service) Analytics(ctx context.Context) (*Summary, error) {
	counts, err := s.primary.CountByStatus(ctx)
	if failedOver(err) && s.fallback != nil {
		counts, err = s.fallback.CountByStatus(ctx)
	}
	if err != nil {
		return nil, err
	}
	avg, err := s.primary.AverageScore(ctx)
	if failedOver(err) && s.fallback != nil {
		avg, err = s.fallback.AverageScore(ctx)
	}
	if err != nil {
		return nil, err
	}

	sum := &Summary{ByStatus: counts, AverageScore: avg}
	for status, n := range counts {
		sum.Total += n
		switch status {
		case constants.StageCompleted:
			sum.Completed += n
		case constants.StageFailed:
			sum.Failed += n
		default:
			sum.InProgress += n
		}
	}
	return sum, nil
}

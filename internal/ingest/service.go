// Package ingest handles document intake: content validation, persisting the
// upload, registering the document and queueing it for processing.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
	"github.com/aodunsi/docpipeline/internal/worker"
)

// Service handles upload intake business logic.
type Service struct {
	status    *docstatus.Service
	queue     jobqueue.Queue
	runner    worker.Runner
	uploadDir string
	logger    *slog.Logger
}

func NewService(status *docstatus.Service, queue jobqueue.Queue, runner worker.Runner, uploadDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		status:    status,
		queue:     queue,
		runner:    runner,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// UploadRequest carries one uploaded document.
type UploadRequest struct {
	Filename     string
	Content      []byte
	UserID       string
	DocumentType string
	Priority     int
	MaxRetries   int
	Metadata     map[string]any
}

// UploadResult reports the registered document and its queued job.
type UploadResult struct {
	DocumentID uuid.UUID
	JobID      string
	FilePath   string
	HashHex    string
}

// Upload validates the file, stores it under the upload directory, registers
// the document and enqueues a processing job. Processing is also kicked off
// immediately in the background; the per-document lease keeps the two triggers
// from colliding.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return nil, status.Error(codes.InvalidArgument, "filename is required")
	}
	if len(req.Content) == 0 {
		return nil, status.Error(codes.InvalidArgument, "file content is empty")
	}
	ext := filepath.Ext(filename)
	if !constants.ExtAllowed(ext) {
		s.logger.Warn("rejected upload with unsupported extension", "filename", filename)
		return nil, status.Errorf(codes.InvalidArgument, "unsupported file extension %q", ext)
	}

	sum := sha256.Sum256(req.Content)
	hashHex := hex.EncodeToString(sum[:])
	docID := uuid.New()

	destDir := filepath.Join(s.uploadDir, docID.String())
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		s.logger.Error("failed to create upload directory", "dir", destDir, "error", err)
		return nil, status.Error(codes.Internal, "store upload")
	}
	destPath := filepath.Join(destDir, filepath.Base(filename))
	if err := os.WriteFile(destPath, req.Content, 0o644); err != nil {
		s.logger.Error("failed to write upload", "path", destPath, "error", err)
		return nil, status.Error(codes.Internal, "store upload")
	}

	meta := map[string]any{"sha256": hashHex}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	doc := &entity.Document{
		ID:           docID,
		Filename:     filepath.Base(filename),
		FilePath:     destPath,
		MediaType:    constants.MediaTypeForExt(ext),
		FileSize:     int64(len(req.Content)),
		UserID:       req.UserID,
		Status:       constants.StageUploaded,
		Stage:        constants.StageUploaded,
		DocumentType: req.DocumentType,
		Metadata:     meta,
	}
	if err := s.status.Create(ctx, doc); err != nil {
		s.logger.Error("failed to register document", "document_id", docID, "error", err)
		return nil, status.Error(codes.Internal, "register document")
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	jobID, err := s.queue.Enqueue(ctx, jobqueue.JobTypeProcessDocument, entity.JobPayload{
		DocumentID:   docID.String(),
		FilePath:     destPath,
		DocumentType: req.DocumentType,
		UserID:       req.UserID,
		Metadata:     req.Metadata,
	}, req.Priority, maxRetries)
	if err != nil {
		s.logger.Error("failed to enqueue processing job", "document_id", docID, "error", err)
		return nil, status.Error(codes.Internal, "enqueue processing job")
	}

	s.logger.Info("document uploaded", "document_id", docID, "job_id", jobID,
		"filename", doc.Filename, "size", doc.FileSize, "sha256", hashHex)

	if s.runner != nil {
		// Immediate trigger; the queued job remains as the durable fallback.
		go func() {
			runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
			defer cancel()
			if err := s.runner.Run(runCtx, docID); err != nil {
				s.logger.Warn("immediate processing failed, queued job will retry",
					"document_id", docID, "error", err)
			}
		}()
	}

	return &UploadResult{DocumentID: docID, JobID: jobID, FilePath: destPath, HashHex: hashHex}, nil
}

// Reprocess re-queues an existing document, for example after a failure was
// fixed upstream.
func (s *Service) Reprocess(ctx context.Context, documentID string, priority int) (string, error) {
	docID, err := uuid.Parse(strings.TrimSpace(documentID))
	if err != nil {
		return "", status.Error(codes.InvalidArgument, "document_id must be a UUID")
	}
	doc, err := s.status.Get(ctx, docID)
	if err != nil {
		return "", status.Errorf(codes.NotFound, "document %s not found", docID)
	}
	got, err := hashFile(doc.FilePath)
	if err != nil {
		return "", status.Errorf(codes.FailedPrecondition, "stored file missing: %v", err)
	}
	if want, ok := doc.Metadata["sha256"].(string); ok && want != got {
		return "", status.Error(codes.FailedPrecondition, "stored file content changed since upload")
	}

	if err := s.status.UpdateStatus(ctx, docID, constants.StageUploaded, constants.StageUploaded, nil); err != nil {
		return "", status.Error(codes.Internal, "reset document status")
	}
	jobID, err := s.queue.Enqueue(ctx, jobqueue.JobTypeProcessDocument, entity.JobPayload{
		DocumentID:   docID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
		UserID:       doc.UserID,
	}, priority, 3)
	if err != nil {
		return "", status.Error(codes.Internal, "enqueue processing job")
	}
	s.logger.Info("document requeued for reprocessing", "document_id", docID, "job_id", jobID)
	return jobID, nil
}

// hashFile is used by intake tooling to fingerprint already stored files.
func hashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

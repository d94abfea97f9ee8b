package ingest

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
	"github.com/aodunsi/docpipeline/internal/repository"
	"github.com/aodunsi/docpipeline/internal/worker"
)

type countingRunner struct {
	calls atomic.Int32
	last  atomic.Value
}

func (r *countingRunner) Run(_ context.Context, docID uuid.UUID) error {
	r.calls.Add(1)
	r.last.Store(docID)
	return nil
}

func newIngest(t *testing.T, runner *countingRunner) (*Service, *docstatus.Service, *jobqueue.MemoryQueue) {
	t.Helper()
	store, db, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	statusSvc := docstatus.NewService(store, nil, nil)
	q := jobqueue.NewMemoryQueue(nil)
	var r worker.Runner
	if runner != nil {
		r = runner
	}
	return NewService(statusSvc, q, r, t.TempDir(), nil), statusSvc, q
}

func TestUpload_RegistersDocumentAndEnqueuesJob(t *testing.T) {
	svc, statusSvc, q := newIngest(t, nil)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadRequest{
		Filename:     "scan.pdf",
		Content:      []byte("%PDF-1.7 fake"),
		UserID:       "user-1",
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	doc, err := statusSvc.Get(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.MediaType)
	assert.Equal(t, constants.StageUploaded, doc.Status)
	assert.Equal(t, res.HashHex, doc.Metadata["sha256"])

	stored, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), stored)

	job, err := q.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobqueue.JobTypeProcessDocument, job.Type)
	assert.Equal(t, res.DocumentID.String(), job.Payload.DocumentID)
	assert.Equal(t, 3, job.MaxRetries)
}

func TestUpload_RejectsUnsupportedExtension(t *testing.T) {
	svc, _, _ := newIngest(t, nil)

	_, err := svc.Upload(context.Background(), UploadRequest{
		Filename: "malware.exe",
		Content:  []byte("MZ"),
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.Upload(context.Background(), UploadRequest{Filename: "empty.pdf"})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUpload_TriggersImmediateProcessing(t *testing.T) {
	runner := &countingRunner{}
	svc, _, _ := newIngest(t, runner)

	res, err := svc.Upload(context.Background(), UploadRequest{
		Filename: "photo.jpg",
		Content:  []byte{0xff, 0xd8, 0xff},
		UserID:   "user-1",
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for runner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, int32(1), runner.calls.Load(), "upload must trigger a background run")
	assert.Equal(t, res.DocumentID, runner.last.Load())
}

func TestReprocess(t *testing.T) {
	svc, statusSvc, q := newIngest(t, nil)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadRequest{
		Filename:     "scan.png",
		Content:      []byte("png-bytes"),
		UserID:       "user-1",
		DocumentType: "receipt",
	})
	require.NoError(t, err)

	msg := "llm_processing: model overloaded"
	require.NoError(t, statusSvc.UpdateStatus(ctx, res.DocumentID, constants.StageFailed, constants.StageLLMProcessing, &msg))

	jobID, err := svc.Reprocess(ctx, res.DocumentID.String(), 5)
	require.NoError(t, err)
	assert.NotEqual(t, res.JobID, jobID)

	doc, err := statusSvc.Get(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageUploaded, doc.Status)

	job, err := q.Get(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 5, job.Priority)

	// Tampered file is refused.
	require.NoError(t, os.WriteFile(doc.FilePath, []byte("tampered"), 0o644))
	_, err = svc.Reprocess(ctx, res.DocumentID.String(), 0)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = svc.Reprocess(ctx, "not-a-uuid", 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

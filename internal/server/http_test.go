package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/export"
	"github.com/aodunsi/docpipeline/internal/ingest"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
	"github.com/aodunsi/docpipeline/internal/repository"
)

func newTestAPI(t *testing.T) (*API, *docstatus.Service, *jobqueue.MemoryQueue) {
	t.Helper()
	store, db, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	statusSvc := docstatus.NewService(store, nil, nil)
	queue := jobqueue.NewMemoryQueue(nil)
	ingestSvc := ingest.NewService(statusSvc, queue, nil, t.TempDir(), nil)
	exportSvc := export.NewService(statusSvc, nil)
	return NewAPI(ingestSvc, statusSvc, exportSvc, queue, nil), statusSvc, queue
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAPI_UploadAndStatus(t *testing.T) {
	api, _, queue := newTestAPI(t)
	handler := api.Handler()

	body, contentType := multipartUpload(t, "invoice.pdf", []byte("%PDF-1.7"), map[string]string{
		"user_id":       "user-1",
		"document_type": "invoice",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var uploaded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.NotEmpty(t, uploaded["document_id"])
	require.NotEmpty(t, uploaded["job_id"])

	job, err := queue.Get(context.Background(), uploaded["job_id"])
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, uploaded["document_id"], job.Payload.DocumentID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/"+uploaded["document_id"]+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view entity.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, string(constants.StageUploaded), view.Status)
	assert.Len(t, view.Stages, 5)
}

func TestAPI_UploadRejectsBadExtension(t *testing.T) {
	api, _, _ := newTestAPI(t)

	body, contentType := multipartUpload(t, "script.sh", []byte("#!/bin/sh"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_StatusUnknownDocument(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/"+uuid.NewString()+"/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/not-a-uuid/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ApproveFlow(t *testing.T) {
	api, statusSvc, _ := newTestAPI(t)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), Filename: "r.png", FilePath: "/tmp/r.png"}
	require.NoError(t, statusSvc.Create(ctx, doc))
	require.NoError(t, statusSvc.SaveRoutingDecision(ctx, &entity.RoutingDecision{
		DocumentID:          doc.ID,
		Action:              constants.ActionFlagReview,
		IntegrationStatus:   constants.IntegrationPending,
		HumanReviewRequired: true,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/"+doc.ID.String()+"/approve?reviewer=ops-1", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	results, err := statusSvc.GetResults(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ActionApproveAuto, results.RoutingDecision.Action)
}

func TestAPI_CancelJob(t *testing.T) {
	api, _, queue := newTestAPI(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, jobqueue.JobTypeProcessDocument,
		entity.JobPayload{DocumentID: uuid.NewString()}, 0, 3)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Already cancelled: second cancel conflicts.
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_AnalyticsAndExport(t *testing.T) {
	api, statusSvc, _ := newTestAPI(t)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), Filename: "a.pdf", FilePath: "/tmp/a.pdf", UserID: "user-1"}
	require.NoError(t, statusSvc.Create(ctx, doc))

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analytics/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sum docstatus.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Total)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/export/documents.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
}

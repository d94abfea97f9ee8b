// Package server exposes the pipeline's operations over HTTP: upload intake,
// status and result queries, human review actions, analytics and export.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/grpc/status"

	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/export"
	"github.com/aodunsi/docpipeline/internal/ingest"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
)

// maxUploadBytes caps an upload request body.
const maxUploadBytes = 50 << 20

type API struct {
	ingest *ingest.Service
	status *docstatus.Service
	export *export.Service
	queue  jobqueue.Queue
	logger *slog.Logger
}

func NewAPI(ing *ingest.Service, statusSvc *docstatus.Service, exp *export.Service, queue jobqueue.Queue, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{ingest: ing, status: statusSvc, export: exp, queue: queue, logger: logger}
}

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/documents", a.handleUpload)
	mux.HandleFunc("GET /v1/documents/{id}/status", a.handleStatus)
	mux.HandleFunc("GET /v1/documents/{id}/results", a.handleResults)
	mux.HandleFunc("POST /v1/documents/{id}/approve", a.handleApprove)
	mux.HandleFunc("POST /v1/documents/{id}/reject", a.handleReject)
	mux.HandleFunc("POST /v1/documents/{id}/reprocess", a.handleReprocess)
	mux.HandleFunc("GET /v1/jobs/{id}", a.handleJob)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", a.handleCancelJob)
	mux.HandleFunc("GET /v1/analytics/summary", a.handleAnalytics)
	mux.HandleFunc("GET /v1/export/documents.xlsx", a.handleExport)
	return mux
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, common.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, common.ErrInvalidInput):
		code, msg = http.StatusBadRequest, err.Error()
	default:
		if st, ok := status.FromError(err); ok && st.Code() != 0 {
			msg = st.Message()
			switch st.Code().String() {
			case "InvalidArgument":
				code = http.StatusBadRequest
			case "NotFound":
				code = http.StatusNotFound
			case "FailedPrecondition":
				code = http.StatusConflict
			}
		}
	}
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	a.writeJSON(w, code, map[string]string{"error": msg})
}

func (a *API) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form required"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field is required"})
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		a.writeError(w, err)
		return
	}

	priority, _ := strconv.Atoi(r.FormValue("priority"))
	res, err := a.ingest.Upload(r.Context(), ingest.UploadRequest{
		Filename:     header.Filename,
		Content:      content,
		UserID:       r.FormValue("user_id"),
		DocumentType: r.FormValue("document_type"),
		Priority:     priority,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": res.DocumentID.String(),
		"job_id":      res.JobID,
		"sha256":      res.HashHex,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}
	view, err := a.status.GetStatus(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, view)
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}
	results, err := a.status.GetResults(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, results)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, a.status.Approve)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, a.status.Reject)
}

func (a *API) review(w http.ResponseWriter, r *http.Request, do func(ctx context.Context, id uuid.UUID, reviewer string) error) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}
	reviewer := r.FormValue("reviewer")
	if reviewer == "" {
		reviewer = "unknown"
	}
	if err := do(r.Context(), id, reviewer); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"document_id": id.String(), "status": "ok"})
}

func (a *API) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}
	priority, _ := strconv.Atoi(r.FormValue("priority"))
	jobID, err := a.ingest.Reprocess(r.Context(), id.String(), priority)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id.String(), "job_id": jobID})
}

func (a *API) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if job == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	a.writeJSON(w, http.StatusOK, job)
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.queue.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !cancelled {
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": "job is not pending"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	sum, err := a.status.Analytics(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := a.export.ExportDocumentsXLSX(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/retry"
)

// sendJSON posts a JSON body and returns the raw response. It assumes nothing
// about the backend; callers decide the URL. 4xx responses are marked fatal
// for the retry layer, 5xx and transport errors retryable.
func sendJSON(ctx context.Context, client *http.Client, url string, body any, logger *slog.Logger) ([]byte, error) {
	reqID := uuid.NewString()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, retry.FatalErr(fmt.Errorf("encode json: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, retry.FatalErr(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("stage.http.request", "req_id", reqID, "url", url, "content_length", len(bs))

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("stage.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, retry.RetryableErr(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("stage.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	logger.Debug("stage.http.response", "req_id", reqID, "status", resp.StatusCode,
		"bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode/100 == 2:
		return raw, nil
	case resp.StatusCode/100 == 4:
		return nil, retry.FatalErr(fmt.Errorf("stage backend rejected request: status %d", resp.StatusCode))
	default:
		return nil, retry.RetryableErr(fmt.Errorf("stage backend error: status %d", resp.StatusCode))
	}
}

// stageRequest is the wire request every stage backend accepts.
type stageRequest struct {
	DocumentID   string         `json:"document_id"`
	FilePath     string         `json:"file_path"`
	DocumentType string         `json:"document_type,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}

func callStage[T any](ctx context.Context, client *http.Client, url string, req stageRequest, logger *slog.Logger) (*T, error) {
	raw, err := sendJSON(ctx, client, url, req, logger)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, retry.FatalErr(fmt.Errorf("decode stage response: %w", err))
	}
	return &out, nil
}

// HTTPProcessors builds the five stage backends from their service URLs.
type HTTPProcessorsConfig struct {
	PreprocessURL string
	OCRURL        string
	LLMURL        string
	ValidationURL string
	RoutingURL    string
	Timeout       time.Duration
}

func NewHTTPProcessors(cfg HTTPProcessorsConfig, logger *slog.Logger) Processors {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return Processors{
		Preprocessor: &httpPreprocessor{client: client, url: cfg.PreprocessURL, logger: logger},
		OCR:          &httpOCR{client: client, url: cfg.OCRURL, logger: logger},
		LLM:          &httpLLM{client: client, url: cfg.LLMURL, logger: logger},
		Validator:    &httpValidator{client: client, url: cfg.ValidationURL, logger: logger},
		Router:       &httpRouter{client: client, url: cfg.RoutingURL, logger: logger},
	}
}

type httpPreprocessor struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func (p *httpPreprocessor) Preprocess(ctx context.Context, doc *entity.Document) (*PreprocessOutput, error) {
	return callStage[PreprocessOutput](ctx, p.client, p.url, stageRequest{
		DocumentID:   doc.ID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
	}, p.logger)
}

type httpOCR struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func (p *httpOCR) Extract(ctx context.Context, doc *entity.Document, pre *PreprocessOutput) (*OCROutput, error) {
	return callStage[OCROutput](ctx, p.client, p.url, stageRequest{
		DocumentID:   doc.ID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
		Input:        pre.ProcessedData,
	}, p.logger)
}

type httpLLM struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func (p *httpLLM) Process(ctx context.Context, doc *entity.Document, ocr *OCROutput) (*LLMOutput, error) {
	return callStage[LLMOutput](ctx, p.client, p.url, stageRequest{
		DocumentID:   doc.ID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
		Input:        map[string]any{"text": ocr.Text},
	}, p.logger)
}

type httpValidator struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func (p *httpValidator) Validate(ctx context.Context, doc *entity.Document, llm *LLMOutput) (*ValidationOutput, error) {
	return callStage[ValidationOutput](ctx, p.client, p.url, stageRequest{
		DocumentID:   doc.ID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
		Input:        llm.Fields,
	}, p.logger)
}

type httpRouter struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func (p *httpRouter) Route(ctx context.Context, doc *entity.Document, val *ValidationOutput) (*RoutingOutput, error) {
	return callStage[RoutingOutput](ctx, p.client, p.url, stageRequest{
		DocumentID:   doc.ID.String(),
		FilePath:     doc.FilePath,
		DocumentType: doc.DocumentType,
		Input: map[string]any{
			"decision":      string(val.Decision),
			"overall_score": val.OverallScore,
		},
	}, p.logger)
}

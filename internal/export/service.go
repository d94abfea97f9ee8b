// Package export produces XLSX summaries of processed documents for
// back-office review.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aodunsi/docpipeline/internal/docstatus"
)

// Service is a tiny façade over the status store that produces XLSX bytes.
type Service struct {
	status *docstatus.Service
	logger *slog.Logger
}

func NewService(status *docstatus.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{status: status, logger: logger}
}

// ExportDocumentsXLSX returns an XLSX workbook of document summaries. An empty
// userID exports every tracked document.
func (s *Service) ExportDocumentsXLSX(ctx context.Context, userID string, limit int) ([]byte, error) {
	start := time.Now()

	docs, err := s.status.List(ctx, userID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Documents"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Document ID",
		"Filename",
		"Type",
		"Status",
		"Current Stage",
		"Routing Action",
		"Quality Decision",
		"Uploaded At",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, d := range docs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		var action, decision string
		if results, err := s.status.GetResults(ctx, d.ID); err == nil {
			if results.RoutingDecision != nil {
				action = string(results.RoutingDecision.Action)
			}
			if results.QualityScore != nil {
				decision = string(results.QualityScore.Decision)
			}
		}

		write(1, d.ID.String())
		write(2, d.Filename)
		write(3, d.DocumentType)
		write(4, string(d.Status))
		write(5, string(d.Stage))
		write(6, action)
		write(7, decision)
		write(8, d.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		if d.ErrorMessage != nil {
			write(9, truncate(*d.ErrorMessage, 140))
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "E", 16)
	_ = f.SetColWidth(sheet, "F", "G", 18)
	_ = f.SetColWidth(sheet, "H", "H", 20)
	_ = f.SetColWidth(sheet, "I", "I", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID,
		"rows", len(docs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

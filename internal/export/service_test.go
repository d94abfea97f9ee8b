package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/entity"
	"github.com/aodunsi/docpipeline/internal/repository"
)

func TestExportDocumentsXLSX(t *testing.T) {
	store, db, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	statusSvc := docstatus.NewService(store, nil, nil)
	ctx := context.Background()

	doc := &entity.Document{
		ID:           uuid.New(),
		Filename:     "invoice.pdf",
		FilePath:     "/var/uploads/invoice.pdf",
		UserID:       "user-1",
		DocumentType: "invoice",
		Status:       constants.StageCompleted,
		Stage:        constants.StageCompleted,
	}
	require.NoError(t, statusSvc.Create(ctx, doc))
	require.NoError(t, statusSvc.SaveRoutingDecision(ctx, &entity.RoutingDecision{
		DocumentID:        doc.ID,
		Action:            constants.ActionApproveAuto,
		IntegrationStatus: constants.IntegrationSubmitted,
	}))

	svc := NewService(statusSvc, nil)
	out, err := svc.ExportDocumentsXLSX(ctx, "user-1", 100)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Documents")
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one document")
	assert.Equal(t, "Document ID", rows[0][0])
	assert.Equal(t, doc.ID.String(), rows[1][0])
	assert.Equal(t, "invoice.pdf", rows[1][1])
	assert.Equal(t, string(constants.ActionApproveAuto), rows[1][5])
}

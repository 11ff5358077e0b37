package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
)

type staticLister struct {
	items []entity.QueueItem
	got   repository.QueueFilter
}

func (s *staticLister) ListItems(_ context.Context, f repository.QueueFilter) ([]entity.QueueItem, error) {
	s.got = f
	return s.items, nil
}

func reviewedItem(arrived time.Time) entity.QueueItem {
	docType := "receipt"
	res := entity.NewExtractionResult("", nil)
	res.Fields["total_amount"] = entity.FieldValue{Value: "6.21"}
	res.Fields["vendor"] = entity.FieldValue{Value: "acme"}
	return entity.QueueItem{
		ID:           uuid.New(),
		Filename:     "scan.png",
		FilePath:     "/in/ready_scan.png",
		Status:       constants.QueueStatusCompleted,
		DocumentType: &docType,
		Action:       constants.ActionQuickReview,
		Classification: &entity.Classification{
			FormatName: "acme-till",
			Confidence: entity.ConfidenceResult{Score: 0.78, Tier: constants.TierMedium},
			Extraction: res,
		},
		Review: &entity.ReviewMetadata{
			Reviewer:    "dana",
			Corrections: map[string]string{"total_amount": "6.25"},
		},
		Flags:     []string{constants.FlagUnknownFormat},
		ArrivedAt: arrived,
	}
}

func TestExportItemsXLSX(t *testing.T) {
	day := time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)
	failed := entity.QueueItem{
		ID:            uuid.New(),
		Filename:      "old.pdf",
		Status:        constants.QueueStatusFailed,
		FailureReason: "ocr unavailable",
		ArrivedAt:     day.AddDate(0, 0, -10),
	}
	lister := &staticLister{items: []entity.QueueItem{reviewedItem(day), failed}}
	svc := NewService(lister, slog.New(slog.NewTextHandler(io.Discard, nil)))

	from := day.AddDate(0, 0, -1)
	to := day
	b, err := svc.ExportItemsXLSX(context.Background(), Filter{
		Statuses: []constants.QueueStatus{constants.QueueStatusCompleted, constants.QueueStatusFailed},
		From:     &from,
		To:       &to,
	})
	require.NoError(t, err)
	require.Len(t, lister.got.Statuses, 2)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, headers, rows[0])

	r := rows[1]
	require.Equal(t, "scan.png", r[1])
	require.Equal(t, "completed", r[2])
	require.Equal(t, "acme-till", r[4])
	require.Equal(t, "medium", r[6])
	require.Equal(t, "dana", r[8])
	require.Equal(t, "acme", r[10])
	require.Equal(t, "6.25", r[14])
	require.Equal(t, constants.FlagUnknownFormat, r[15])
}

func TestExportWithoutWindowKeepsEverything(t *testing.T) {
	lister := &staticLister{items: []entity.QueueItem{
		reviewedItem(time.Now().AddDate(-1, 0, 0)),
		reviewedItem(time.Now()),
	}}
	b, err := NewService(lister, nil).ExportItemsXLSX(context.Background(), Filter{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

// Package export renders queue items as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
)

const sheet = "Queue"

// ItemLister is the read side of the queue the export needs.
type ItemLister interface {
	ListItems(ctx context.Context, f repository.QueueFilter) ([]entity.QueueItem, error)
}

// Filter selects the exported items. From and To bound the arrival date
// (inclusive, date-only, UTC).
type Filter struct {
	Statuses []constants.QueueStatus
	From     *time.Time
	To       *time.Time
}

// Service produces XLSX bytes for exports.
type Service struct {
	items  ItemLister
	logger *slog.Logger
}

func NewService(items ItemLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{items: items, logger: logger}
}

var headers = []string{
	"Item ID",
	"Filename",
	"Status",
	"Document Type",
	"Template",
	"Confidence",
	"Tier",
	"Action",
	"Reviewer",
	"Receipt Date",
	"Vendor",
	"Receipt Number",
	"Subtotal",
	"Tax",
	"Total",
	"Flags",
	"Failure Reason",
	"Arrived At",
	"File Path",
}

// ExportItemsXLSX returns a workbook with one row per matching queue item.
// If only From is provided the window runs to today.
func (s *Service) ExportItemsXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()

	from, to := dateOnly(filter.From), dateOnly(filter.To)
	if from != nil && to == nil {
		to = dateOnly(ptr(time.Now().UTC()))
	}

	items, err := s.items.ListItems(ctx, repository.QueueFilter{Statuses: filter.Statuses})
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	row := 2
	for _, it := range items {
		day := dateOnly(&it.ArrivedAt)
		if from != nil && day.Before(*from) {
			continue
		}
		if to != nil && day.After(*to) {
			continue
		}
		writeRow(f, row, it)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "I", 14)
	_ = f.SetColWidth(sheet, "J", "O", 16) // fields
	_ = f.SetColWidth(sheet, "P", "Q", 32)
	_ = f.SetColWidth(sheet, "R", "R", 22)
	_ = f.SetColWidth(sheet, "S", "S", 60) // path

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("queue export written",
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, it entity.QueueItem) {
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	write(1, it.ID.String())
	write(2, it.Filename)
	write(3, string(it.Status))
	if it.DocumentType != nil {
		write(4, *it.DocumentType)
	}
	var fields map[string]string
	if cls := it.Classification; cls != nil {
		write(5, cls.FormatName)
		write(6, cls.Confidence.Score)
		write(7, string(cls.Confidence.Tier))
		fields = cls.Extraction.Values()
	}
	write(8, string(it.Action))
	if it.Review != nil {
		write(9, it.Review.Reviewer)
		// corrected values win over extracted ones
		if len(it.Review.Corrections) > 0 && fields == nil {
			fields = map[string]string{}
		}
		for k, v := range it.Review.Corrections {
			fields[k] = v
		}
	}
	for i, name := range []constants.Field{
		constants.FieldReceiptDate,
		constants.FieldVendor,
		constants.FieldReceiptNumber,
		constants.FieldSubtotal,
		constants.FieldTaxAmount,
		constants.FieldTotalAmount,
	} {
		write(10+i, fields[string(name)])
	}
	write(16, strings.Join(it.Flags, ", "))
	write(17, truncate(it.FailureReason, 140))
	write(18, it.ArrivedAt.UTC().Format(time.RFC3339))
	write(19, it.FilePath)
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func ptr[T any](v T) *T { return &v }

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

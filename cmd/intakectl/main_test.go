package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

func TestParseFieldFlags(t *testing.T) {
	got, err := parseFieldFlags([]string{"total_amount=6.25", " vendor =Acme=Market", "note="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"total_amount": "6.25", "vendor": "Acme=Market", "note": ""}, got)

	_, err = parseFieldFlags([]string{"total_amount"})
	require.Error(t, err)
	_, err = parseFieldFlags([]string{"=6.25"})
	require.Error(t, err)
}

func TestRenderSummaryShowsRouting(t *testing.T) {
	docType := "receipt"
	item := entity.QueueItem{
		ID:             uuid.New(),
		FilePath:       "/in/ready_scan.png",
		Attempt:        1,
		Status:         constants.QueueStatusProcessing,
		DocumentType:   &docType,
		RequiresReview: true,
		ReviewType:     constants.ReviewQuick,
		Action:         constants.ActionQuickReview,
		Flags:          []string{"ocr_failed"},
		Classification: &entity.Classification{
			UnknownFormat: true,
			Confidence: entity.ConfidenceResult{
				Score: 0.5,
				Tier:  constants.TierMedium,
			},
		},
	}
	out := renderSummary(item)
	require.Contains(t, out, item.ID.String())
	require.Contains(t, out, "(unknown format)")
	require.Contains(t, out, "0.500")
	require.Contains(t, out, string(constants.ActionQuickReview))
	require.Contains(t, out, "ocr_failed")
}

func TestRenderFieldsSortsAndListsErrors(t *testing.T) {
	res := entity.NewExtractionResult("", nil)
	res.Fields["total_amount"] = entity.FieldValue{Type: entity.TypeCurrency, Raw: "$6.21", Value: "6.21"}
	res.Fields["receipt_number"] = entity.FieldValue{Type: entity.TypeText, Raw: "10234", Value: "10234"}
	res.Errors["receipt_date"] = "unparseable date"

	out := renderFields(res)
	require.Less(t, bytes.Index([]byte(out), []byte("receipt_number")), bytes.Index([]byte(out), []byte("total_amount")))
	require.Contains(t, out, "unparseable date")

	require.Empty(t, renderFields(entity.NewExtractionResult("", nil)))
}

func TestRenderLineItemsLeavesAbsentValuesBlank(t *testing.T) {
	out := renderLineItems([]entity.LineItem{{
		Description: "Coffee",
		LineTotal:   decimal.NullDecimal{Decimal: decimal.New(350, -2), Valid: true},
	}})
	require.Contains(t, out, "Coffee")
	require.Contains(t, out, "3.5")
	require.Empty(t, renderLineItems(nil))
}

func TestRenderItems(t *testing.T) {
	out := renderItems([]entity.QueueItem{{
		ID:        uuid.New(),
		Filename:  "ready_a.png",
		Status:    constants.QueueStatusFailed,
		ArrivedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}})
	require.Contains(t, out, "ready_a.png")
	require.Contains(t, out, "failed")
}

func TestItemCommandRejectsBadID(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"item", "not-a-uuid", "--target", "127.0.0.1:1"})
	err := cmd.Execute()
	require.ErrorContains(t, err, "invalid item id")
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	require.Contains(t, out, "only")
	require.Empty(t, renderTable(nil, nil, nil))
}

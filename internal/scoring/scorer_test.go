package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

func amount(s string) entity.FieldValue {
	d := decimal.RequireFromString(s)
	return entity.FieldValue{Type: entity.TypeCurrency, Raw: s, Value: d.StringFixed(2), Amount: d}
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func result(sub, tax, total string, lineTotals ...string) entity.ExtractionResult {
	r := entity.NewExtractionResult("", []string{"subtotal", "tax_amount", "total_amount", "line_items"})
	r.Fields["subtotal"] = amount(sub)
	r.Fields["tax_amount"] = amount(tax)
	r.Fields["total_amount"] = amount(total)
	for _, lt := range lineTotals {
		r.LineItems = append(r.LineItems, entity.LineItem{Description: "item", LineTotal: nd(lt)})
	}
	return r
}

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultPolicy())
	require.NoError(t, err)
	return s
}

func TestScoreWeightedSum(t *testing.T) {
	s := newScorer(t)
	res := s.Score(Input{
		OCRQuality: 0.95,
		Extraction: result("150.00", "12.00", "162.00", "100.00", "50.00"),
		Similarity: 0.90,
	})
	require.Equal(t, 0.965, res.Score)
	require.Equal(t, constants.TierHigh, res.Tier)
	require.Equal(t, entity.SubScores{OCR: 0.95, Extraction: 1, Pattern: 0.9, Validation: 1}, res.Breakdown)
	require.Empty(t, res.Capped)
	require.Empty(t, res.Issues)
}

func TestUnreconciledTotalsForceReview(t *testing.T) {
	s := newScorer(t)
	res := s.Score(Input{
		OCRQuality: 1,
		Extraction: result("150.00", "12.00", "161.00", "100.00", "50.00"),
		Similarity: 1,
	})
	require.Equal(t, 0.5, res.Breakdown.Validation)
	require.Less(t, res.Score, 0.85)
	require.Equal(t, constants.TierMedium, res.Tier)
	require.Equal(t, constants.FlagUnreconciled, res.Capped)
	require.Len(t, res.Issues, 1)
	require.Contains(t, res.Issues[0], "$162.00")
}

func TestOCRFailureForcesLow(t *testing.T) {
	s := newScorer(t)
	res := s.Score(Input{
		OCRQuality: 0.9,
		OCRFailed:  true,
		Extraction: result("150.00", "12.00", "162.00", "150.00"),
		Similarity: 1,
	})
	require.Zero(t, res.Breakdown.OCR)
	require.Equal(t, 0.5, res.Score)
	require.Equal(t, constants.TierLow, res.Tier)
	require.Equal(t, constants.FlagOCRFailed, res.Capped)
}

func TestScoreIsClampedAndMissingFieldsReported(t *testing.T) {
	s := newScorer(t)
	r := entity.NewExtractionResult("", []string{"receipt_date", "total_amount"})
	res := s.Score(Input{OCRQuality: 7, Extraction: r, Similarity: -3})

	require.Equal(t, 1.0, res.Breakdown.OCR)
	require.Zero(t, res.Breakdown.Pattern)
	require.Zero(t, res.Breakdown.Extraction)
	require.Equal(t, 1.0, res.Breakdown.Validation)
	require.InDelta(t, 0.4, res.Score, 1e-9)
	require.Equal(t, constants.TierLow, res.Tier)
	require.ElementsMatch(t, []string{"missing receipt_date", "missing total_amount"}, res.Issues)
}

func TestTierStepFunction(t *testing.T) {
	p := DefaultPolicy()
	cases := map[float64]constants.Tier{
		1:      constants.TierHigh,
		0.85:   constants.TierHigh,
		0.8499: constants.TierMedium,
		0.70:   constants.TierMedium,
		0.6999: constants.TierLow,
		0:      constants.TierLow,
	}
	for score, want := range cases {
		require.Equal(t, want, p.TierFor(score), "score %v", score)
	}
}

func TestValidateChecks(t *testing.T) {
	tol := decimal.New(1, -2)

	r := entity.NewExtractionResult("", nil)
	v := Validate(r, tol)
	require.Equal(t, 1.0, v.Score)
	require.Zero(t, v.Checks)
	require.True(t, v.Reconciled)

	// a rounding difference inside the tolerance still reconciles
	v = Validate(result("10.00", "0.80", "10.81", "10.00"), tol)
	require.Equal(t, 2, v.Checks)
	require.Equal(t, 1.0, v.Score)

	r = result("7.00", "0.00", "7.00")
	r.LineItems = []entity.LineItem{
		{Quantity: nd("2"), UnitPrice: nd("1.50"), LineTotal: nd("3.00")},
		{Quantity: nd("1"), UnitPrice: nd("4.50"), LineTotal: nd("4.00")},
	}
	v = Validate(r, tol)
	require.Equal(t, 3, v.Checks)
	require.Equal(t, 2, v.Passed)
	require.True(t, v.Reconciled)
	require.Len(t, v.Issues, 1)
	require.Contains(t, v.Issues[0], "line 2")
}

func TestItemsWithoutTotalsSkipSumCheck(t *testing.T) {
	r := result("5.00", "0.50", "5.50")
	r.LineItems = []entity.LineItem{{Description: "mystery"}}
	v := Validate(r, decimal.New(1, -2))
	require.Equal(t, 1, v.Checks)
	require.Equal(t, 1.0, v.Score)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []func(*Policy){
		func(p *Policy) { p.Weights.OCR = 0.5 },
		func(p *Policy) { p.Weights.Pattern = -0.1; p.Weights.Extraction = 0.7 },
		func(p *Policy) { p.MediumThreshold = 0.9 },
		func(p *Policy) { p.HighThreshold = 1.2 },
		func(p *Policy) { p.Tolerance = decimal.New(-1, 0) },
		func(p *Policy) { p.ReconciliationCeiling = 0.85 },
		func(p *Policy) { p.OCRFailureCeiling = 0.7 },
	}
	for i, mutate := range bad {
		p := DefaultPolicy()
		mutate(&p)
		err := p.Validate()
		require.ErrorIs(t, err, common.ErrInvalidInput, "case %d", i)
	}

	_, err := NewScorer(Policy{})
	require.Error(t, err)
}

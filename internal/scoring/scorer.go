// Package scoring combines OCR quality, extraction completeness, template
// similarity and arithmetic validation into one confidence score.
package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/money"
)

// Input is everything the scorer looks at for one document.
type Input struct {
	// OCRQuality is the mean recognition confidence in 0..1.
	OCRQuality float64
	OCRFailed  bool
	Extraction entity.ExtractionResult
	// Similarity of the selected template, 0 for unknown formats.
	Similarity float64
}

type Scorer struct {
	policy Policy
}

func NewScorer(p Policy) (*Scorer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{policy: p}, nil
}

func (s *Scorer) Policy() Policy { return s.policy }

// Score is a pure function of its input and the policy.
func (s *Scorer) Score(in Input) entity.ConfidenceResult {
	p := s.policy
	val := Validate(in.Extraction, p.Tolerance)

	sub := entity.SubScores{
		OCR:        clamp(in.OCRQuality),
		Extraction: Completeness(in.Extraction),
		Pattern:    clamp(in.Similarity),
		Validation: val.Score,
	}
	if in.OCRFailed {
		sub.OCR = 0
	}

	score := p.Weights.OCR*sub.OCR +
		p.Weights.Extraction*sub.Extraction +
		p.Weights.Pattern*sub.Pattern +
		p.Weights.Validation*sub.Validation
	score = round4(clamp(score))

	res := entity.ConfidenceResult{Breakdown: sub, Issues: val.Issues}
	for _, f := range in.Extraction.Expected {
		if !in.Extraction.Has(f) {
			res.Issues = append(res.Issues, "missing "+f)
		}
	}
	if !val.Reconciled && score > p.ReconciliationCeiling {
		score = p.ReconciliationCeiling
		res.Capped = constants.FlagUnreconciled
	}
	if in.OCRFailed && score > p.OCRFailureCeiling {
		score = p.OCRFailureCeiling
		res.Capped = constants.FlagOCRFailed
	}
	res.Score = score
	res.Tier = p.TierFor(score)
	return res
}

// Completeness is the fraction of expected fields that were populated.
// A result that expects nothing is complete.
func Completeness(r entity.ExtractionResult) float64 {
	if len(r.Expected) == 0 {
		return 1
	}
	var got int
	for _, f := range r.Expected {
		if r.Has(f) {
			got++
		}
	}
	return float64(got) / float64(len(r.Expected))
}

// Validation is the outcome of the arithmetic checks.
type Validation struct {
	Score      float64
	Checks     int
	Passed     int
	Reconciled bool
	Issues     []string
}

// Validate runs every check whose inputs were extracted: line items sum to
// the subtotal, subtotal plus tax equals the total, and quantity times unit
// price equals each line total. Score is the fraction passed, 1 when no check
// applies. Reconciled is false only when one of the two totals checks failed.
func Validate(r entity.ExtractionResult, tolerance decimal.Decimal) Validation {
	v := Validation{Reconciled: true}
	check := func(ok bool, totals bool, issue string) {
		v.Checks++
		if ok {
			v.Passed++
			return
		}
		v.Issues = append(v.Issues, issue)
		if totals {
			v.Reconciled = false
		}
	}

	subtotal, hasSub := r.Amount(string(constants.FieldSubtotal))
	tax, hasTax := r.Amount(string(constants.FieldTaxAmount))
	total, hasTotal := r.Amount(string(constants.FieldTotalAmount))

	if itemsSum, ok := lineTotals(r.LineItems); ok && hasSub {
		check(money.Equal(itemsSum, subtotal, tolerance), true,
			fmt.Sprintf("line items sum to %s, subtotal is %s", money.Format(itemsSum), money.Format(subtotal)))
	}
	if hasSub && hasTax && hasTotal {
		sum := subtotal.Add(tax)
		check(money.Equal(sum, total, tolerance), true,
			fmt.Sprintf("subtotal plus tax is %s, total is %s", money.Format(sum), money.Format(total)))
	}

	var lines, bad int
	for i, it := range r.LineItems {
		if !it.Quantity.Valid || !it.UnitPrice.Valid || !it.LineTotal.Valid {
			continue
		}
		lines++
		if !money.Equal(it.Quantity.Decimal.Mul(it.UnitPrice.Decimal), it.LineTotal.Decimal, tolerance) {
			bad++
			v.Issues = append(v.Issues, fmt.Sprintf("line %d: %s x %s != %s", i+1,
				it.Quantity.Decimal, money.Format(it.UnitPrice.Decimal), money.Format(it.LineTotal.Decimal)))
		}
	}
	if lines > 0 {
		v.Checks++
		if bad == 0 {
			v.Passed++
		}
	}

	if v.Checks == 0 {
		v.Score = 1
	} else {
		v.Score = float64(v.Passed) / float64(v.Checks)
	}
	return v
}

// lineTotals sums the line totals; ok is false when any row lacks one.
func lineTotals(items []entity.LineItem) (decimal.Decimal, bool) {
	if len(items) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, it := range items {
		if !it.LineTotal.Valid {
			return decimal.Zero, false
		}
		sum = sum.Add(it.LineTotal.Decimal)
	}
	return sum, true
}

func clamp(v float64) float64 { return math.Min(1, math.Max(0, v)) }

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

// Weights of the four sub-scores. They must sum to 1.
type Weights struct {
	OCR        float64
	Extraction float64
	Pattern    float64
	Validation float64
}

var weightNames = [...]string{"ocr", "extraction", "pattern", "validation"}

func (w Weights) sum() float64 { return w.OCR + w.Extraction + w.Pattern + w.Validation }

// Policy carries every tunable of the scorer and the tier step function.
type Policy struct {
	Weights         Weights
	HighThreshold   float64
	MediumThreshold float64
	// Tolerance is the largest amount difference that still reconciles.
	Tolerance decimal.Decimal
	// ReconciliationCeiling caps the composite when the totals do not add up.
	ReconciliationCeiling float64
	// OCRFailureCeiling caps the composite when recognition failed.
	OCRFailureCeiling float64
}

func DefaultPolicy() Policy {
	return Policy{
		Weights:               Weights{OCR: 0.30, Extraction: 0.40, Pattern: 0.20, Validation: 0.10},
		HighThreshold:         0.85,
		MediumThreshold:       0.70,
		Tolerance:             decimal.New(1, -2),
		ReconciliationCeiling: 0.84,
		OCRFailureCeiling:     0.50,
	}
}

func (p Policy) Validate() error {
	w := p.Weights
	for i, v := range []float64{w.OCR, w.Extraction, w.Pattern, w.Validation} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: weight %s out of range: %v", common.ErrInvalidInput, weightNames[i], v)
		}
	}
	if math.Abs(w.sum()-1) > 1e-6 {
		return fmt.Errorf("%w: weights must sum to 1, got %.4f", common.ErrInvalidInput, w.sum())
	}
	if !(0 < p.MediumThreshold && p.MediumThreshold < p.HighThreshold && p.HighThreshold <= 1) {
		return fmt.Errorf("%w: thresholds must satisfy 0 < medium < high <= 1, got medium=%v high=%v", common.ErrInvalidInput, p.MediumThreshold, p.HighThreshold)
	}
	if p.Tolerance.IsNegative() {
		return fmt.Errorf("%w: tolerance must not be negative: %s", common.ErrInvalidInput, p.Tolerance)
	}
	if p.ReconciliationCeiling < 0 || p.ReconciliationCeiling >= p.HighThreshold {
		return fmt.Errorf("%w: reconciliation ceiling %v must be below the high threshold %v", common.ErrInvalidInput, p.ReconciliationCeiling, p.HighThreshold)
	}
	if p.OCRFailureCeiling < 0 || p.OCRFailureCeiling >= p.MediumThreshold {
		return fmt.Errorf("%w: ocr failure ceiling %v must be below the medium threshold %v", common.ErrInvalidInput, p.OCRFailureCeiling, p.MediumThreshold)
	}
	return nil
}

// TierFor maps a composite score onto its tier.
func (p Policy) TierFor(score float64) constants.Tier {
	switch {
	case score >= p.HighThreshold:
		return constants.TierHigh
	case score >= p.MediumThreshold:
		return constants.TierMedium
	default:
		return constants.TierLow
	}
}

func (p Policy) String() string {
	return fmt.Sprintf("weights=%.2f/%.2f/%.2f/%.2f high=%.2f medium=%.2f tolerance=%s",
		p.Weights.OCR, p.Weights.Extraction, p.Weights.Pattern, p.Weights.Validation,
		p.HighThreshold, p.MediumThreshold, p.Tolerance)
}

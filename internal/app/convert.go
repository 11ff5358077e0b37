// Package app turns a loaded common.Config into running components.
package app

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/matcher"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
	"github.com/joseph-ayodele/receipts-intake/internal/scoring"
)

// ScoringPolicy builds and validates the scorer policy.
func ScoringPolicy(c common.ScoringConfig) (scoring.Policy, error) {
	p := scoring.DefaultPolicy()
	p.Weights = scoring.Weights{
		OCR:        c.WeightOCR,
		Extraction: c.WeightExtraction,
		Pattern:    c.WeightPattern,
		Validation: c.WeightValidation,
	}
	if c.HighThreshold > 0 {
		p.HighThreshold = c.HighThreshold
	}
	if c.MediumThreshold > 0 {
		p.MediumThreshold = c.MediumThreshold
	}
	if c.Tolerance != "" {
		tol, err := decimal.NewFromString(c.Tolerance)
		if err != nil {
			return scoring.Policy{}, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("scoring.tolerance %q", c.Tolerance), err)
		}
		p.Tolerance = tol
	}
	if c.ReconciliationCeiling > 0 {
		p.ReconciliationCeiling = c.ReconciliationCeiling
	}
	if c.OCRFailureCeiling > 0 {
		p.OCRFailureCeiling = c.OCRFailureCeiling
	}
	if err := p.Validate(); err != nil {
		return scoring.Policy{}, common.NewAppError("CONFIG_ERROR", "scoring policy", err)
	}
	return p, nil
}

func MatchOptions(c common.MatchingConfig) matcher.Options {
	return matcher.Options{
		MinSimilarity: c.MinSimilarity,
		TieEpsilon:    c.TieEpsilon,
		MaxCandidates: c.MaxCandidates,
	}
}

func RetryConfig(c common.RetryConfig) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        c.MaxAttempts,
		RetryInitialBackoff:     c.InitialBackoff,
		RetryMaxBackoff:         c.MaxBackoff,
		RetryMultiplier:         c.Multiplier,
		BreakerEnabled:          c.BreakerEnabled,
		BreakerMinRequests:      c.BreakerMinRequests,
		BreakerFailureRatio:     c.BreakerFailureRatio,
		BreakerOpenTimeout:      c.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: c.BreakerHalfOpenMaxCalls,
	}
}

func OCRConfig(c common.OCRConfig) ocr.Config {
	return ocr.Config{
		Pdftoppm:      c.Pdftoppm,
		Tesseract:     c.Tesseract,
		TesseractLang: c.Lang,
		DPI:           c.DPI,
		TessdataDir:   c.TessdataDir,
		PSM:           c.PSM,
		OEM:           c.OEM,
	}
}

// DBConfig is the template registry pool configuration.
func DBConfig(c common.TemplatesConfig) repository.Config {
	return repository.Config{
		DSN:              c.DSN,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		MaxConnLifetime:  c.MaxConnLifetime,
		MaxConnIdleTime:  c.MaxConnIdleTime,
		DialTimeout:      c.DialTimeout,
		StatementTimeout: c.StatementTimeout,
	}
}

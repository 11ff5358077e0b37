package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldValue is one extracted field with its normalized form and provenance.
type FieldValue struct {
	Type   ValueType       `json:"type"`
	Raw    string          `json:"raw"`
	Value  string          `json:"value"` // canonical text: YYYY-MM-DD, 1234.56, 42, or trimmed text
	Amount decimal.Decimal `json:"amount,omitempty"`
	Date   time.Time       `json:"date,omitempty"`
	Int    int64           `json:"int,omitempty"`
	Source string          `json:"source"`
}

// LineItem is one row of the line-item block. Absent sub-fields stay invalid.
type LineItem struct {
	Description string              `json:"description"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
	Raw         string              `json:"raw,omitempty"`
}

// ExtractionResult is the per-document extractor output.
type ExtractionResult struct {
	Fields          map[string]FieldValue `json:"fields"`
	LineItems       []LineItem            `json:"line_items,omitempty"`
	LineItemsSource string                `json:"line_items_source,omitempty"`
	RawText         string                `json:"raw_text"`
	Expected        []string              `json:"expected"`
	Errors          map[string]string     `json:"errors,omitempty"`
}

// NewExtractionResult returns an empty result expecting the given fields.
func NewExtractionResult(rawText string, expected []string) ExtractionResult {
	return ExtractionResult{
		Fields:   make(map[string]FieldValue),
		RawText:  rawText,
		Expected: expected,
		Errors:   make(map[string]string),
	}
}

// Has reports whether field was populated. line_items counts when at least one row exists.
func (r ExtractionResult) Has(field string) bool {
	if field == "line_items" {
		return len(r.LineItems) > 0
	}
	_, ok := r.Fields[field]
	return ok
}

// Amount returns the currency value of field if it was extracted.
func (r ExtractionResult) Amount(field string) (decimal.Decimal, bool) {
	v, ok := r.Fields[field]
	if !ok || v.Type != TypeCurrency {
		return decimal.Zero, false
	}
	return v.Amount, true
}

// Values returns the canonical text of every populated field.
func (r ExtractionResult) Values() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v.Value
	}
	return out
}

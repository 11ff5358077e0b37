package constants

import (
	"strings"
)

// Field is the canonical name of an extracted receipt field.
type Field string

const (
	FieldReceiptDate   Field = "receipt_date"
	FieldReceiptNumber Field = "receipt_number"
	FieldVendor        Field = "vendor"
	FieldSubtotal      Field = "subtotal"
	FieldTaxAmount     Field = "tax_amount"
	FieldTotalAmount   Field = "total_amount"
	FieldLineItems     Field = "line_items"
)

var allFields = []Field{
	FieldReceiptDate,
	FieldReceiptNumber,
	FieldVendor,
	FieldSubtotal,
	FieldTaxAmount,
	FieldTotalAmount,
	FieldLineItems,
}

// GenericExpectedFields are the fields the template-less heuristics aim for.
var GenericExpectedFields = []Field{
	FieldReceiptDate,
	FieldReceiptNumber,
	FieldSubtotal,
	FieldTaxAmount,
	FieldTotalAmount,
	FieldLineItems,
}

func FieldsAsStringSlice() []string {
	return FieldsAsStrings(allFields)
}

func FieldsAsStrings(fields []Field) []string {
	result := make([]string, len(fields))
	for i, f := range fields {
		result[i] = string(f)
	}
	return result
}

// CanonicalField maps a reviewer or template label onto a canonical field.
func CanonicalField(input string) (Field, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	synonyms := map[string]Field{
		"date":             FieldReceiptDate,
		"transaction_date": FieldReceiptDate,
		"invoice_date":     FieldReceiptDate,
		"receipt_no":       FieldReceiptNumber,
		"invoice_number":   FieldReceiptNumber,
		"number":           FieldReceiptNumber,
		"merchant":         FieldVendor,
		"merchant_name":    FieldVendor,
		"sub_total":        FieldSubtotal,
		"tax":              FieldTaxAmount,
		"gst":              FieldTaxAmount,
		"vat":              FieldTaxAmount,
		"total":            FieldTotalAmount,
		"grand_total":      FieldTotalAmount,
		"amount_due":       FieldTotalAmount,
		"items":            FieldLineItems,
	}

	if f, ok := synonyms[normalized]; ok {
		return f, true
	}

	for _, f := range allFields {
		if normalized == string(f) {
			return f, true
		}
	}

	return "", false
}

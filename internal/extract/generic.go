package extract

import (
	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

const (
	genericTotalsMarker = `(?i)\b(sub\s*-?\s*total|total|tax|amount\s+due|balance)\b`
	genericItemRow      = `^(?P<description>.*?[A-Za-z].*?)\s+(?P<line_total>-?[$£€]?\s?\d[\d,]*\.\d{2})$`
)

// GenericRules are used for documents that matched no template. They read
// common US receipt conventions and return a fresh slice on every call.
func GenericRules() []entity.Rule {
	return []entity.Rule{
		{
			Kind:  entity.RuleAnchoredPattern,
			Field: string(constants.FieldReceiptDate),
			Type:  entity.TypeDate,
			Anchor: &entity.AnchorSpec{
				Occurrence: "first",
			},
		},
		{
			Kind:  entity.RuleAnchoredPattern,
			Field: string(constants.FieldReceiptNumber),
			Type:  entity.TypeText,
			Anchor: &entity.AnchorSpec{
				Labels: []string{
					"receipt number", "receipt no", "receipt #",
					"invoice number", "invoice no", "invoice #",
					"order number", "order no", "order #",
					"transaction #", "trans #", "ticket #", "ref #",
				},
				Pattern:  `(?P<value>[A-Za-z0-9\-]*\d[A-Za-z0-9\-]*)`,
				MaxEdits: 1,
			},
		},
		{
			Kind:  entity.RuleAnchoredPattern,
			Field: string(constants.FieldSubtotal),
			Type:  entity.TypeCurrency,
			Anchor: &entity.AnchorSpec{
				Labels:     []string{"subtotal", "sub total", "sub-total"},
				Occurrence: "last",
				MaxEdits:   1,
			},
		},
		{
			Kind:  entity.RuleAnchoredPattern,
			Field: string(constants.FieldTaxAmount),
			Type:  entity.TypeCurrency,
			Anchor: &entity.AnchorSpec{
				Labels:  []string{"sales tax", "tax", "gst", "hst", "vat"},
				Exclude: []string{"total", "tax id", "taxable", "exempt"},
			},
		},
		{
			Kind:  entity.RuleAnchoredPattern,
			Field: string(constants.FieldTotalAmount),
			Type:  entity.TypeCurrency,
			Anchor: &entity.AnchorSpec{
				Labels:     []string{"grand total", "total", "amount due", "amount received"},
				Exclude:    []string{"subtotal", "sub total", "sub-total", "total savings", "total items", "total qty", "total tax"},
				Occurrence: "last",
			},
		},
		{
			Kind:  entity.RuleRepeatedBlock,
			Field: string(constants.FieldLineItems),
			Block: &entity.BlockSpec{
				End:             genericTotalsMarker,
				Row:             genericItemRow,
				DefaultQuantity: "1",
			},
		},
	}
}

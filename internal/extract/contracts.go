package extract

import (
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
)

// FieldExtractor turns OCR output into typed fields. A nil template selects
// the generic rule set.
type FieldExtractor interface {
	Extract(doc ocr.Document, frame fingerprint.Frame, tpl *entity.Template) entity.ExtractionResult
}

const (
	SourceTemplate = "template"
	SourceGeneric  = "generic"
)

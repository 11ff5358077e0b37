// Package extract applies field-mapping rules to OCR output.
package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
)

// Extractor is safe for concurrent use. Compiled patterns are cached by source.
type Extractor struct {
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

var _ FieldExtractor = (*Extractor)(nil)

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, patterns: make(map[string]*regexp.Regexp)}
}

// Extract runs every rule of tpl, or the generic rules when tpl is nil.
// Several rules may target one field; the first that succeeds wins and
// failures are kept in Errors only while the field is still missing.
func (x *Extractor) Extract(doc ocr.Document, frame fingerprint.Frame, tpl *entity.Template) entity.ExtractionResult {
	rules, source := GenericRules(), SourceGeneric
	expected := constants.FieldsAsStrings(constants.GenericExpectedFields)
	if tpl != nil {
		rules, source, expected = tpl.Rules, SourceTemplate, tpl.ExpectedFields()
	}

	res := entity.NewExtractionResult(doc.Text, expected)
	in := input{doc: doc, frame: frame, lines: textLines(doc.Text), source: source}
	for _, r := range rules {
		if r.Kind != entity.RuleRepeatedBlock && res.Has(r.Field) {
			continue
		}
		out, err := x.apply(r, in)
		if err != nil {
			if !res.Has(r.Field) {
				if _, seen := res.Errors[r.Field]; !seen {
					res.Errors[r.Field] = err.Error()
				}
			}
			continue
		}
		if r.Kind == entity.RuleRepeatedBlock {
			res.LineItems = append(res.LineItems, out.items...)
			res.LineItemsSource = source
		} else {
			res.Fields[r.Field] = out.value
		}
		delete(res.Errors, r.Field)
	}

	if tpl != nil && tpl.Vendor != "" && !res.Has(string(constants.FieldVendor)) {
		res.Fields[string(constants.FieldVendor)] = entity.FieldValue{
			Type: entity.TypeText, Raw: tpl.Vendor, Value: tpl.Vendor, Source: SourceTemplate,
		}
	}

	x.logger.Debug("extraction finished",
		"source", source,
		"fields", len(res.Fields),
		"line_items", len(res.LineItems),
		"errors", len(res.Errors))
	return res
}

type input struct {
	doc    ocr.Document
	frame  fingerprint.Frame
	lines  []string
	source string
}

type output struct {
	value entity.FieldValue
	items []entity.LineItem
}

// apply is the single dispatch over rule kinds.
func (x *Extractor) apply(r entity.Rule, in input) (output, error) {
	switch r.Kind {
	case entity.RuleAnchoredPattern:
		if r.Anchor == nil {
			return output{}, fmt.Errorf("anchored rule for %s has no anchor", r.Field)
		}
		v, err := x.anchored(r, in)
		return output{value: v}, err
	case entity.RulePositionalRegion:
		if r.Region == nil {
			return output{}, fmt.Errorf("region rule for %s has no region", r.Field)
		}
		v, err := x.region(r, in)
		return output{value: v}, err
	case entity.RuleRepeatedBlock:
		if r.Block == nil {
			return output{}, fmt.Errorf("block rule for %s has no block", r.Field)
		}
		items, err := x.block(r, in)
		return output{items: items}, err
	default:
		return output{}, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func (x *Extractor) compile(pattern string) (*regexp.Regexp, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if re, ok := x.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	x.patterns[pattern] = re
	return re, nil
}

func textLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func valueType(r entity.Rule) entity.ValueType {
	if r.Type == "" {
		return entity.TypeText
	}
	return r.Type
}

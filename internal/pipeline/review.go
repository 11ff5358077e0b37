package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/extract"
	"github.com/joseph-ayodele/receipts-intake/internal/money"
)

// ReviewRequest carries a reviewer's confirmed or corrected values. Fields
// not present keep their extracted value.
type ReviewRequest struct {
	ItemID   string            `json:"item_id"`
	Reviewer string            `json:"reviewer"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// BuildReviewSchema returns the JSON-Schema for a review payload.
func BuildReviewSchema(fields []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"item_id", "reviewer"},
		"properties": map[string]any{
			"item_id":  map[string]any{"type": "string", "format": "uuid"},
			"reviewer": map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
			"fields": map[string]any{
				"type":                 "object",
				"propertyNames":        map[string]any{"enum": fields},
				"additionalProperties": map[string]any{"type": "string", "maxLength": 500},
			},
		},
	}
}

var (
	reviewOnce   sync.Once
	reviewSchema *jsonschema.Schema
	reviewErr    error
)

// reviewableFields excludes line_items, which reviewers cannot correct as text.
func reviewableFields() []string {
	return slices.DeleteFunc(constants.FieldsAsStringSlice(), func(f string) bool {
		return f == string(constants.FieldLineItems)
	})
}

func compiledReviewSchema() (*jsonschema.Schema, error) {
	reviewOnce.Do(func() {
		b, err := json.Marshal(BuildReviewSchema(reviewableFields()))
		if err != nil {
			reviewErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		if err := c.AddResource("review.json", bytes.NewReader(b)); err != nil {
			reviewErr = err
			return
		}
		reviewSchema, reviewErr = c.Compile("review.json")
	})
	return reviewSchema, reviewErr
}

// canonical rewrites field-name synonyms and validates the payload.
func (r ReviewRequest) canonical() (ReviewRequest, error) {
	out := ReviewRequest{ItemID: strings.TrimSpace(r.ItemID), Reviewer: strings.TrimSpace(r.Reviewer)}
	if len(r.Fields) > 0 {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			if f, ok := constants.CanonicalField(k); ok {
				k = string(f)
			}
			out.Fields[k] = strings.TrimSpace(v)
		}
	}

	schema, err := compiledReviewSchema()
	if err != nil {
		return out, fmt.Errorf("compile review schema: %w", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return out, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return out, err
	}
	if err := schema.Validate(doc); err != nil {
		return out, fmt.Errorf("%w: review payload: %v", common.ErrValidation, err)
	}
	v := common.NewValidator()
	for _, f := range []constants.Field{constants.FieldSubtotal, constants.FieldTaxAmount, constants.FieldTotalAmount} {
		if val, ok := out.Fields[string(f)]; ok {
			v.Field(string(f), val, common.Amount)
		}
	}
	return out, v.Error()
}

// normalizeCorrection puts a reviewer value into the same canonical form the
// extractor produces.
func normalizeCorrection(field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	switch constants.Field(field) {
	case constants.FieldSubtotal, constants.FieldTaxAmount, constants.FieldTotalAmount:
		d, err := money.Parse(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", common.ErrValidation, field, err)
		}
		return d.StringFixed(2), nil
	case constants.FieldReceiptDate:
		t, err := extract.ParseDate(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", common.ErrValidation, field, err)
		}
		return t.Format(time.DateOnly), nil
	default:
		return value, nil
	}
}

// CompleteReview finalizes an item parked for review. Corrections on a
// matched template become advisory mapping proposals; an unchanged review
// counts as a template success.
func (s *Service) CompleteReview(ctx context.Context, req ReviewRequest) (entity.FinalRecord, error) {
	req, err := req.canonical()
	if err != nil {
		return entity.FinalRecord{}, err
	}
	id := uuid.MustParse(req.ItemID)

	item, err := s.queue.Get(ctx, id)
	if err != nil {
		return entity.FinalRecord{}, err
	}
	if item.CancelRequested {
		if _, err := s.CancelItem(ctx, id); err != nil {
			return entity.FinalRecord{}, err
		}
		return entity.FinalRecord{}, fmt.Errorf("%w: %s", common.ErrCancelled, id)
	}
	if !item.AwaitingReview() {
		return entity.FinalRecord{}, fmt.Errorf("%w: item %s is %s and not awaiting review", common.ErrInvalidTransition, id, item.Status)
	}

	extracted := item.Classification.Extraction.Values()
	fields := make(map[string]string, len(extracted)+len(req.Fields))
	for k, v := range extracted {
		fields[k] = v
	}
	corrections := map[string]string{}
	for k, raw := range req.Fields {
		v, err := normalizeCorrection(k, raw)
		if err != nil {
			return entity.FinalRecord{}, err
		}
		if v == "" {
			delete(fields, k)
		} else {
			fields[k] = v
		}
		if extracted[k] != v {
			corrections[k] = v
		}
	}

	review := &entity.ReviewMetadata{
		Reviewer:    req.Reviewer,
		ReviewedAt:  s.now(),
		Corrections: corrections,
	}
	if err := s.queue.Complete(ctx, id, review); err != nil {
		return entity.FinalRecord{}, err
	}
	item.Status = constants.QueueStatusCompleted
	item.Review = review

	if cls := item.Classification; cls.TemplateID != nil {
		for field, corrected := range corrections {
			p := entity.MappingProposal{
				ID:         uuid.New(),
				TemplateID: *cls.TemplateID,
				ItemID:     id,
				Field:      field,
				Extracted:  extracted[field],
				Corrected:  corrected,
				Rule:       ruleSource(cls.Extraction, field),
				ProposedAt: review.ReviewedAt,
			}
			if err := s.templates.ProposeMapping(ctx, p); err != nil {
				s.logger.Warn("failed to record mapping proposal", "item_id", id, "field", field, "error", err)
			}
		}
	}

	s.metrics.ReviewCompleted(string(item.ReviewType))
	s.finalized(ctx, *item, fields, review)
	s.logger.Info("review completed", "item_id", id, "reviewer", req.Reviewer, "corrections", len(corrections))
	return finalRecord(*item, fields, review, review.ReviewedAt), nil
}

func ruleSource(r entity.ExtractionResult, field string) string {
	if v, ok := r.Fields[field]; ok {
		return v.Source
	}
	if msg, ok := r.Errors[field]; ok {
		return "error: " + msg
	}
	return ""
}

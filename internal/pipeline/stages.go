package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
	"github.com/joseph-ayodele/receipts-intake/internal/matcher"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
	"github.com/joseph-ayodele/receipts-intake/internal/routing"
	"github.com/joseph-ayodele/receipts-intake/internal/scoring"
)

const unknownDocumentType = "unknown"

type classified struct {
	entity.Classification
	Flags []string
}

func (s *Service) timed(stage string, fn func()) {
	start := time.Now()
	fn()
	s.metrics.ObserveStage(stage, time.Since(start))
}

// classify runs OCR, fingerprinting, matching, extraction and scoring. The
// cancel flag is checked between stages; a stage is never cut short.
func (s *Service) classify(ctx context.Context, item *entity.QueueItem) (classified, error) {
	var (
		doc       ocr.Document
		ocrFailed bool
		err       error
	)
	s.timed("ocr", func() { doc, ocrFailed, err = s.recognize(ctx, item.FilePath) })
	if err != nil {
		return classified{}, err
	}
	if err := s.checkCancelled(ctx, item.ID); err != nil {
		return classified{}, err
	}

	var fp fingerprint.Fingerprint
	s.timed("fingerprint", func() {
		fp = fingerprint.ComputeWith(doc.Tokens, s.cfg.Fingerprint)
	})

	var tpls []entity.Template
	s.timed("templates", func() { tpls, err = s.activeTemplates(ctx, item) })
	if err != nil {
		return classified{}, err
	}

	out := classified{}
	var res matcher.Result
	if !ocrFailed && !fp.Empty() {
		s.timed("match", func() { res = s.matcher.Match(fp, tpls) })
	}
	if len(res.Ranked) > 0 {
		s.metrics.ObserveMatch(res.Ranked[0].Similarity)
	}
	out.Candidates = res.Ranked
	out.UnknownFormat = res.Unknown()
	out.DocumentType = firstNonEmpty(item.DocumentTypeHint, unknownDocumentType)
	out.Vendor = item.VendorHint
	if res.Best != nil {
		id := res.Best.ID
		out.TemplateID = &id
		out.DocumentType = res.Best.DocumentType
		out.Vendor = res.Best.Vendor
		out.FormatName = res.Best.FormatName
		out.Similarity = res.BestSimilarity
	}
	if err := s.checkCancelled(ctx, item.ID); err != nil {
		return classified{}, err
	}

	s.timed("extract", func() { out.Extraction = s.extractor.Extract(doc, fp.Frame, res.Best) })
	if err := s.checkCancelled(ctx, item.ID); err != nil {
		return classified{}, err
	}

	quality := doc.Quality()
	s.timed("score", func() {
		out.Confidence = s.scorer.Score(scoring.Input{
			OCRQuality: quality,
			OCRFailed:  ocrFailed,
			Extraction: out.Extraction,
			Similarity: out.Similarity,
		})
	})
	s.metrics.ObserveConfidence(string(out.Confidence.Tier), out.Confidence.Score)

	if ocrFailed {
		out.Flags = append(out.Flags, constants.FlagOCRFailed)
	}
	if out.UnknownFormat {
		out.Flags = append(out.Flags, constants.FlagUnknownFormat)
	}
	if !scoring.Validate(out.Extraction, s.scorer.Policy().Tolerance).Reconciled {
		out.Flags = append(out.Flags, constants.FlagUnreconciled)
	}

	s.logger.Info("document classified",
		"item_id", item.ID,
		"template_id", templateIDString(out.TemplateID),
		"similarity", out.Similarity,
		"unknown_format", out.UnknownFormat,
		"confidence", out.Confidence.Score,
		"tier", out.Confidence.Tier,
		"flags", out.Flags,
	)
	return out, nil
}

func ocrClassifier(err error) resilience.ErrorClassification {
	switch {
	case errors.Is(err, common.ErrOCRUnavailable):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, common.ErrProcessingTimeout):
		return resilience.ErrorClassification{RecordFailure: true}
	default:
		return resilience.DefaultClassifier(err)
	}
}

// recognize calls the OCR engine under the per-call timeout. An unreadable
// scan is not an error here: it comes back as ocrFailed.
func (s *Service) recognize(ctx context.Context, path string) (ocr.Document, bool, error) {
	var doc ocr.Document
	err := s.exec.Execute(ctx, "ocr", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.OCRTimeout)
		defer cancel()
		d, err := s.ocr.Recognize(callCtx, path)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: ocr exceeded %s", common.ErrProcessingTimeout, s.cfg.OCRTimeout)
			}
			return err
		}
		doc = d
		return nil
	}, ocrClassifier)

	switch {
	case err == nil:
		if doc.Unreadable() {
			s.logger.Warn("ocr produced no usable text", "path", path, "tokens", len(doc.Tokens))
			return doc, true, nil
		}
		return doc, false, nil
	case errors.Is(err, common.ErrUnreadableImage):
		s.logger.Warn("unreadable image", "path", path, "error", err)
		return ocr.Document{}, true, nil
	case errors.Is(err, common.ErrOCRUnavailable),
		errors.Is(err, common.ErrServiceUnavailable),
		errors.Is(err, common.ErrProcessingTimeout),
		errors.Is(err, common.ErrUnsupportedFileType),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ocr.Document{}, false, err
	default:
		return ocr.Document{}, false, fmt.Errorf("%w: %v", common.ErrOCRUnavailable, err)
	}
}

// activeTemplates fetches a fresh snapshot. Hints narrow the filter; when
// they exclude everything the unhinted set is used.
func (s *Service) activeTemplates(ctx context.Context, item *entity.QueueItem) ([]entity.Template, error) {
	base := entity.TemplateFilter{CallingAppID: item.CallingAppID}
	filter := base
	filter.DocumentType = item.DocumentTypeHint
	filter.Vendor = item.VendorHint

	fetch := func(f entity.TemplateFilter) ([]entity.Template, error) {
		var out []entity.Template
		err := s.exec.Execute(ctx, "templates", func(ctx context.Context) error {
			t, err := s.templates.FetchActive(ctx, f)
			if err != nil {
				if errors.Is(err, common.ErrServiceUnavailable) || errors.Is(err, context.Canceled) {
					return err
				}
				return fmt.Errorf("%w: template registry: %v", common.ErrServiceUnavailable, err)
			}
			out = t
			return nil
		}, nil)
		return out, err
	}

	tpls, err := fetch(filter)
	if err != nil {
		return nil, err
	}
	if len(tpls) == 0 && filter != base {
		s.logger.Debug("hints matched no templates, using full set", "item_id", item.ID,
			"document_type_hint", item.DocumentTypeHint, "vendor_hint", item.VendorHint)
		return fetch(base)
	}
	return tpls, nil
}

// route stores the decision. High-tier items are finalized here; the rest
// wait in processing for CompleteReview.
func (s *Service) route(ctx context.Context, item *entity.QueueItem, c classified) (constants.QueueStatus, error) {
	if err := s.checkCancelled(ctx, item.ID); err != nil {
		return constants.QueueStatusFailed, err
	}

	d := routing.Decide(c.Confidence.Tier)
	cls := c.Classification
	item.Classification = &cls
	item.Flags = c.Flags
	docType := cls.DocumentType
	item.DocumentType = &docType
	routing.Apply(item, d)

	var err error
	s.timed("route", func() { err = s.queue.SaveRouting(ctx, item) })
	if err != nil {
		return constants.QueueStatusFailed, err
	}

	if !d.Finalize() {
		if err := s.publisher.ReviewRequested(ctx, *item); err != nil {
			s.logger.Warn("failed to publish review request", "item_id", item.ID, "error", err)
		}
		return constants.QueueStatusProcessing, nil
	}

	if err := s.checkCancelled(ctx, item.ID); err != nil {
		return constants.QueueStatusFailed, err
	}
	if err := s.queue.Complete(ctx, item.ID, nil); err != nil {
		return constants.QueueStatusFailed, err
	}
	item.Status = constants.QueueStatusCompleted
	s.finalized(ctx, *item, cls.Extraction.Values(), nil)
	return constants.QueueStatusCompleted, nil
}

// finalized runs the after-completion side effects. Failures here are logged
// only: the item is already completed.
func (s *Service) finalized(ctx context.Context, item entity.QueueItem, fields map[string]string, review *entity.ReviewMetadata) {
	cls := item.Classification
	if cls != nil && cls.TemplateID != nil && (review == nil || len(review.Corrections) == 0) {
		if err := s.templates.RecordMatchSuccess(ctx, *cls.TemplateID); err != nil {
			s.logger.Warn("failed to record template success", "template_id", cls.TemplateID.String(), "error", err)
		}
	}
	rec := finalRecord(item, fields, review, s.now())
	if err := s.publisher.Finalized(ctx, rec); err != nil {
		s.logger.Warn("failed to publish finalized record", "item_id", item.ID, "error", err)
	}
}

func finalRecord(item entity.QueueItem, fields map[string]string, review *entity.ReviewMetadata, at time.Time) entity.FinalRecord {
	rec := entity.FinalRecord{
		ItemID:       item.ID,
		CallingAppID: item.CallingAppID,
		FilePath:     item.FilePath,
		Fields:       fields,
		FinalizedAt:  at,
	}
	if item.DocumentType != nil {
		rec.DocumentType = *item.DocumentType
	}
	if cls := item.Classification; cls != nil {
		rec.TemplateID = cls.TemplateID
		rec.LineItems = cls.Extraction.LineItems
		rec.Confidence = cls.Confidence.Score
		rec.Tier = cls.Confidence.Tier
		if rec.DocumentType == "" {
			rec.DocumentType = cls.DocumentType
		}
	}
	if review != nil {
		rec.Reviewed = true
		rec.Reviewer = review.Reviewer
	}
	return rec
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func templateIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

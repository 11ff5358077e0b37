// Package pipeline runs one document from its ready file to a routing
// decision and owns the QueueItem until it is completed or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/async"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/extract"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
	"github.com/joseph-ayodele/receipts-intake/internal/matcher"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
	"github.com/joseph-ayodele/receipts-intake/internal/publish"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
	"github.com/joseph-ayodele/receipts-intake/internal/scoring"
)

type Config struct {
	OCRTimeout  time.Duration
	Extensions  map[string]struct{}
	Fingerprint fingerprint.Options
}

// Deps are the collaborators of a Service. Extractor, Matcher, Publisher,
// Executor and Metrics are optional.
type Deps struct {
	Queue     repository.QueueRepository
	Templates repository.TemplateRepository
	OCR       ocr.Recognizer
	Extractor extract.FieldExtractor
	Matcher   *matcher.Matcher
	Scorer    *scoring.Scorer
	Publisher publish.Publisher
	Executor  *resilience.Executor
	Metrics   *metrics.PipelineMetrics
	Logger    *slog.Logger
}

type Service struct {
	cfg       Config
	queue     repository.QueueRepository
	templates repository.TemplateRepository
	ocr       ocr.Recognizer
	extractor extract.FieldExtractor
	matcher   *matcher.Matcher
	scorer    *scoring.Scorer
	publisher publish.Publisher
	exec      *resilience.Executor
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger
	now       func() time.Time

	jobs async.Queue
}

func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Queue == nil || d.Templates == nil || d.OCR == nil || d.Scorer == nil {
		return nil, fmt.Errorf("%w: queue, templates, ocr and scorer are required", common.ErrInvalidInput)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Extractor == nil {
		d.Extractor = extract.NewExtractor(d.Logger)
	}
	if d.Matcher == nil {
		d.Matcher = matcher.New(matcher.Options{})
	}
	if d.Publisher == nil {
		d.Publisher = publish.NewLogPublisher(d.Logger)
	}
	if d.Executor == nil {
		d.Executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1}, d.Logger)
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 30 * time.Second
	}
	if cfg.Extensions == nil {
		cfg.Extensions = constants.AllowedExtensions
	}
	return &Service{
		cfg:       cfg,
		queue:     d.Queue,
		templates: d.Templates,
		ocr:       d.OCR,
		extractor: d.Extractor,
		matcher:   d.Matcher,
		scorer:    d.Scorer,
		publisher: d.Publisher,
		exec:      d.Executor,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// AttachQueue enables SubmitDocument. The queue's handler should be
// HandleJob.
func (s *Service) AttachQueue(q async.Queue) { s.jobs = q }

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error) {
	item, err := s.queue.Get(ctx, id)
	if err != nil {
		return entity.QueueItem{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, f repository.QueueFilter) ([]entity.QueueItem, error) {
	rows, err := s.queue.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]entity.QueueItem, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (s *Service) Counts(ctx context.Context) (map[constants.QueueStatus]int, error) {
	return s.queue.CountByStatus(ctx)
}

// CancelItem marks the item cancel-requested. Items no worker holds (pending,
// or parked awaiting review) fail with reason cancelled at once; a running
// pipeline notices the flag at its next stage boundary.
func (s *Service) CancelItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error) {
	item, err := s.queue.RequestCancel(ctx, id)
	if err != nil {
		return entity.QueueItem{}, err
	}

	switch {
	case item.Status == constants.QueueStatusPending:
		won, err := s.queue.TryStartProcessing(ctx, id)
		if err != nil {
			return entity.QueueItem{}, err
		}
		if won {
			if err := s.queue.Fail(ctx, id, constants.ReasonCancelled); err != nil {
				return entity.QueueItem{}, err
			}
		}
	case item.AwaitingReview():
		if err := s.queue.Fail(ctx, id, constants.ReasonCancelled); err != nil && !errors.Is(err, common.ErrInvalidTransition) {
			return entity.QueueItem{}, err
		}
	}
	return s.GetItem(ctx, id)
}

// checkCancelled fails the item when a cancel was requested since the last
// stage.
func (s *Service) checkCancelled(ctx context.Context, id uuid.UUID) error {
	item, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if !item.CancelRequested {
		return nil
	}
	if err := s.queue.Fail(context.WithoutCancel(ctx), id, constants.ReasonCancelled); err != nil && !errors.Is(err, common.ErrInvalidTransition) {
		return err
	}
	s.logger.Info("pipeline stopped on cancel", "item_id", id)
	return fmt.Errorf("%w: %s", common.ErrCancelled, id)
}

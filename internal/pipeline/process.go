package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/async"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
)

// errNotClaimed means another caller holds or finished the item.
var errNotClaimed = fmt.Errorf("%w: already claimed", common.ErrInvalidTransition)

// validateRequest checks the request shape and the file behind it.
func (s *Service) validateRequest(req entity.ProcessRequest) error {
	v := common.NewValidator().
		Field("file_path", req.FilePath, common.Required, common.AbsolutePath).
		Field("calling_app_id", req.CallingAppID, common.MaxLength(128)).
		Field("document_type_hint", req.DocumentTypeHint, common.MaxLength(64)).
		Field("vendor_hint", req.VendorHint, common.MaxLength(128))
	if err := v.Error(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	if !constants.IsAllowed(req.FilePath, s.cfg.Extensions) {
		return fmt.Errorf("%w: %s", common.ErrUnsupportedFileType, filepath.Ext(req.FilePath))
	}
	if !constants.IsReadyName(req.FilePath) {
		return fmt.Errorf("%w: %s lacks the %s prefix", common.ErrFileNotReady, filepath.Base(req.FilePath), constants.ReadyPrefix)
	}
	info, err := os.Stat(req.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", common.ErrFileNotFound, req.FilePath)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", req.FilePath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", common.ErrUnsupportedFileType, req.FilePath)
	}
	return nil
}

// existing returns a live item for the same file, so a repeated hand-off of
// one ready file does not classify it twice. Failed items do not count.
func (s *Service) existing(ctx context.Context, path string) (*entity.QueueItem, error) {
	rows, err := s.queue.List(ctx, repository.QueueFilter{
		FilePath: path,
		Statuses: []constants.QueueStatus{
			constants.QueueStatusPending, constants.QueueStatusProcessing, constants.QueueStatusCompleted,
		},
		Limit: 1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Service) register(ctx context.Context, req entity.ProcessRequest) (*entity.QueueItem, error) {
	item := &entity.QueueItem{
		Filename:         constants.OriginalName(req.FilePath),
		FilePath:         req.FilePath,
		CallingAppID:     req.CallingAppID,
		DocumentTypeHint: req.DocumentTypeHint,
		VendorHint:       req.VendorHint,
		Attempt:          max(1, req.Attempt),
		Status:           constants.QueueStatusPending,
		ArrivedAt:        s.now(),
	}
	if item.CallingAppID == "" {
		item.CallingAppID = common.CallingAppIDFromContext(ctx)
	}
	if err := s.queue.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// admit returns the live item for the file, registering a new one when there
// is none. Concurrent hand-offs of one file meet at the unique live-path
// index and the loser gets the winner's item.
func (s *Service) admit(ctx context.Context, req entity.ProcessRequest) (*entity.QueueItem, bool, error) {
	if prev, err := s.existing(ctx, req.FilePath); err != nil || prev != nil {
		return prev, false, err
	}
	item, err := s.register(ctx, req)
	if errors.Is(err, common.ErrDuplicateFile) {
		prev, lerr := s.existing(ctx, req.FilePath)
		if lerr != nil {
			return nil, false, lerr
		}
		if prev != nil {
			return prev, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// ProcessDocument classifies one ready file synchronously and returns the
// item in its routed state. A pending item left for the same file is run
// here rather than waiting on a worker that may never come.
func (s *Service) ProcessDocument(ctx context.Context, req entity.ProcessRequest) (entity.QueueItem, error) {
	if err := s.validateRequest(req); err != nil {
		return entity.QueueItem{}, err
	}
	item, created, err := s.admit(ctx, req)
	if err != nil {
		return entity.QueueItem{}, err
	}
	if !created {
		if item.Status != constants.QueueStatusPending {
			s.logger.Info("file already registered", "item_id", item.ID, "file_path", req.FilePath, "status", item.Status)
			return *item, nil
		}
		s.logger.Info("running pending item for repeated hand-off", "item_id", item.ID, "file_path", req.FilePath)
	}

	if err := s.run(ctx, item.ID); err != nil {
		cur := s.itemOr(ctx, item.ID, *item)
		if errors.Is(err, errNotClaimed) {
			// another hand-off or a worker got there first
			if cur.Status == constants.QueueStatusFailed && cur.FailureReason == constants.ReasonCancelled {
				return cur, fmt.Errorf("%w: item %s", common.ErrCancelled, cur.ID)
			}
			return cur, nil
		}
		return cur, err
	}
	return s.GetItem(ctx, item.ID)
}

// SubmitDocument registers the file and leaves classification to the worker
// pool.
func (s *Service) SubmitDocument(ctx context.Context, req entity.ProcessRequest) (entity.SubmitAck, error) {
	if s.jobs == nil {
		return entity.SubmitAck{}, fmt.Errorf("%w: no worker pool attached", common.ErrServiceUnavailable)
	}
	if err := s.validateRequest(req); err != nil {
		return entity.SubmitAck{}, err
	}
	item, created, err := s.admit(ctx, req)
	if err != nil {
		return entity.SubmitAck{}, err
	}
	if !created {
		return entity.SubmitAck{ItemID: item.ID, Status: item.Status}, nil
	}

	if err := s.jobs.Enqueue(ctx, async.Job{ItemID: item.ID, SubmittedAt: s.now()}); err != nil {
		// Pending items only move forward, so claim before failing.
		bg := context.WithoutCancel(ctx)
		won, cerr := s.queue.TryStartProcessing(bg, item.ID)
		if cerr == nil && won {
			cerr = s.queue.Fail(bg, item.ID, "enqueue failed: "+err.Error())
		}
		if cerr != nil {
			s.logger.Error("failed to mark unqueued item failed", "item_id", item.ID, "error", cerr)
		}
		return entity.SubmitAck{}, err
	}
	return entity.SubmitAck{ItemID: item.ID, Status: constants.QueueStatusPending}, nil
}

// Recover settles what a previous run left behind. Pending items go back on
// the worker pool. Unattended processing items last touched before cutoff
// fail as interrupted, so a later hand-off of the file registers afresh.
// Items parked for review are left alone.
func (s *Service) Recover(ctx context.Context, cutoff time.Time) (requeued, interrupted int, err error) {
	unattended := false
	stale, err := s.queue.List(ctx, repository.QueueFilter{
		Statuses:       []constants.QueueStatus{constants.QueueStatusProcessing},
		RequiresReview: &unattended,
		UpdatedBefore:  cutoff,
	})
	if err != nil {
		return 0, 0, err
	}
	for _, item := range stale {
		if err := s.queue.Fail(ctx, item.ID, constants.ReasonInterrupted); err != nil {
			if errors.Is(err, common.ErrInvalidTransition) {
				continue
			}
			return requeued, interrupted, err
		}
		interrupted++
	}

	pending, err := s.queue.List(ctx, repository.QueueFilter{
		Statuses: []constants.QueueStatus{constants.QueueStatusPending},
	})
	if err != nil {
		return requeued, interrupted, err
	}
	if len(pending) > 0 && s.jobs == nil {
		return requeued, interrupted, fmt.Errorf("%w: %d pending items and no worker pool", common.ErrServiceUnavailable, len(pending))
	}
	for _, item := range pending {
		if err := s.jobs.Enqueue(ctx, async.Job{ItemID: item.ID, SubmittedAt: s.now()}); err != nil {
			return requeued, interrupted, err
		}
		requeued++
	}
	s.logger.Info("queue recovered", "requeued", requeued, "interrupted", interrupted)
	return requeued, interrupted, nil
}

// HandleJob is the worker-pool entry point.
func (s *Service) HandleJob(ctx context.Context, job async.Job) error {
	return s.run(ctx, job.ItemID)
}

func (s *Service) itemOr(ctx context.Context, id uuid.UUID, fallback entity.QueueItem) entity.QueueItem {
	item, err := s.queue.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return fallback
	}
	return *item
}

// run claims the item and drives it through every stage. Pipeline-level
// errors and panics leave the item failed.
func (s *Service) run(ctx context.Context, id uuid.UUID) (err error) {
	won, err := s.queue.TryStartProcessing(ctx, id)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("%w: item %s", errNotClaimed, id)
	}

	start := time.Now()
	s.metrics.Started()
	status, tier := constants.QueueStatusFailed, ""
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pipeline panic recovered", "item_id", id, "panic", r)
			err = fmt.Errorf("%w: panic: %v", common.ErrInternal, r)
		}
		if err != nil {
			status = constants.QueueStatusFailed
			err = asTimeout(err)
			s.fail(ctx, id, err)
		}
		label := string(status)
		if status == constants.QueueStatusProcessing {
			label = "awaiting_review"
		}
		s.metrics.Finished(label, tier)
		s.logger.Info("pipeline finished", "item_id", id, "status", status, "tier", tier,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
	}()

	item, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	out, err := s.classify(ctx, item)
	if err != nil {
		return err
	}
	tier = string(out.Confidence.Tier)
	status, err = s.route(ctx, item, out)
	return err
}

// fail records a pipeline-level failure unless the item already reached a
// terminal state (for example a cancel).
func (s *Service) fail(ctx context.Context, id uuid.UUID, cause error) {
	if errors.Is(cause, common.ErrCancelled) {
		return
	}
	err := s.queue.Fail(context.WithoutCancel(ctx), id, cause.Error())
	if err != nil && !errors.Is(err, common.ErrInvalidTransition) {
		s.logger.Error("failed to mark item failed", "item_id", id, "error", err)
	}
}

func asTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrProcessingTimeout) {
		return fmt.Errorf("%w: %v", common.ErrProcessingTimeout, err)
	}
	return err
}

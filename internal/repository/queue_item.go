package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

const queueTable = "queue_items"

var queueColumns = []string{
	"id", "filename", "file_path", "calling_app_id", "document_type_hint", "vendor_hint",
	"attempt", "status", "document_type", "requires_review", "review_type", "action",
	"classification", "flags", "failure_reason", "cancel_requested", "review",
	"arrived_at", "started_at", "finished_at", "updated_at",
}

// QueueFilter narrows List. Zero values match everything.
type QueueFilter struct {
	Statuses       []constants.QueueStatus
	RequiresReview *bool
	UpdatedBefore  time.Time
	FilePath       string
	Limit          int
}

// QueueRepository persists QueueItems. Every status change is a conditional
// update on the current status, so concurrent callers cannot both win a
// transition and no item ever moves backwards.
type QueueRepository interface {
	Create(ctx context.Context, item *entity.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)
	List(ctx context.Context, f QueueFilter) ([]*entity.QueueItem, error)
	// TryStartProcessing moves pending -> processing and reports whether this caller won.
	TryStartProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// SaveRouting stores the classification and routing fields of a processing item.
	SaveRouting(ctx context.Context, item *entity.QueueItem) error
	Complete(ctx context.Context, id uuid.UUID, review *entity.ReviewMetadata) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	RequestCancel(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)
	CountByStatus(ctx context.Context) (map[constants.QueueStatus]int, error)
}

type queueRepo struct {
	drv *entsql.Driver
	log *slog.Logger
	now func() time.Time
}

func NewQueueRepository(drv *entsql.Driver, log *slog.Logger) QueueRepository {
	return &queueRepo{drv: drv, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (r *queueRepo) builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.SQLite) }

func (r *queueRepo) Create(ctx context.Context, item *entity.QueueItem) error {
	now := r.now()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Attempt <= 0 {
		item.Attempt = 1
	}
	if item.ArrivedAt.IsZero() {
		item.ArrivedAt = now
	}
	item.Status = constants.QueueStatusPending
	item.UpdatedAt = now

	flags, err := json.Marshal(nonNil(item.Flags))
	if err != nil {
		return err
	}
	query, args := r.builder().Insert(queueTable).
		Columns("id", "filename", "file_path", "calling_app_id", "document_type_hint", "vendor_hint",
			"attempt", "status", "flags", "arrived_at", "updated_at").
		Values(item.ID.String(), item.Filename, item.FilePath, item.CallingAppID, item.DocumentTypeHint, item.VendorHint,
			item.Attempt, string(item.Status), string(flags), formatTime(item.ArrivedAt), formatTime(now)).
		Query()
	if _, err := r.drv.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			r.log.Info("live queue item already exists", "file_path", item.FilePath)
			return fmt.Errorf("%w: %s", common.ErrDuplicateFile, item.FilePath)
		}
		r.log.Error("queue item create failed", "file_path", item.FilePath, "err", err)
		return fmt.Errorf("%w: create queue item: %v", common.ErrDatabase, err)
	}
	r.log.Info("queue item created", "item_id", item.ID, "file_path", item.FilePath, "attempt", item.Attempt)
	return nil
}

func (r *queueRepo) Get(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	query, args := r.builder().Select(queueColumns...).
		From(entsql.Table(queueTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	rows, err := r.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get queue item: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: get queue item: %v", common.ErrDatabase, err)
		}
		return nil, fmt.Errorf("%w: queue item %s", common.ErrNotFound, id)
	}
	return scanQueueItem(rows)
}

func (r *queueRepo) List(ctx context.Context, f QueueFilter) ([]*entity.QueueItem, error) {
	sel := r.builder().Select(queueColumns...).From(entsql.Table(queueTable))
	var preds []*entsql.Predicate
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		preds = append(preds, entsql.In("status", vals...))
	}
	if f.RequiresReview != nil {
		preds = append(preds, entsql.EQ("requires_review", boolInt(*f.RequiresReview)))
	}
	if !f.UpdatedBefore.IsZero() {
		preds = append(preds, entsql.LT("updated_at", formatTime(f.UpdatedBefore)))
	}
	if f.FilePath != "" {
		preds = append(preds, entsql.EQ("file_path", f.FilePath))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy("arrived_at", "id")
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()

	rows, err := r.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list queue items: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *queueRepo) TryStartProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	now := formatTime(r.now())
	query, args := r.builder().Update(queueTable).
		Set("status", string(constants.QueueStatusProcessing)).
		Set("started_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.EQ("status", string(constants.QueueStatusPending)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return false, err
	}
	if n == 0 {
		r.log.Debug("queue item not claimable", "item_id", id)
		return false, nil
	}
	r.log.Info("queue item processing", "item_id", id)
	return true, nil
}

func (r *queueRepo) SaveRouting(ctx context.Context, item *entity.QueueItem) error {
	cls, err := json.Marshal(item.Classification)
	if err != nil {
		return err
	}
	flags, err := json.Marshal(nonNil(item.Flags))
	if err != nil {
		return err
	}
	now := r.now()
	upd := r.builder().Update(queueTable).
		Set("classification", string(cls)).
		Set("flags", string(flags)).
		Set("requires_review", boolInt(item.RequiresReview)).
		Set("review_type", string(item.ReviewType)).
		Set("action", string(item.Action)).
		Set("updated_at", formatTime(now))
	if item.DocumentType != nil {
		upd.Set("document_type", *item.DocumentType)
	} else {
		upd.SetNull("document_type")
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("id", item.ID.String()),
		entsql.EQ("status", string(constants.QueueStatusProcessing)),
	)).Query()

	n, err := r.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionError(ctx, item.ID, constants.QueueStatusProcessing)
	}
	item.UpdatedAt = now
	r.log.Info("queue item routed", "item_id", item.ID, "action", item.Action, "requires_review", item.RequiresReview)
	return nil
}

func (r *queueRepo) Complete(ctx context.Context, id uuid.UUID, review *entity.ReviewMetadata) error {
	now := formatTime(r.now())
	upd := r.builder().Update(queueTable).
		Set("status", string(constants.QueueStatusCompleted)).
		Set("finished_at", now).
		Set("updated_at", now)
	if review != nil {
		b, err := json.Marshal(review)
		if err != nil {
			return err
		}
		upd.Set("review", string(b))
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("id", id.String()),
		entsql.EQ("status", string(constants.QueueStatusProcessing)),
	)).Query()

	n, err := r.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionError(ctx, id, constants.QueueStatusCompleted)
	}
	r.log.Info("queue item completed", "item_id", id, "reviewed", review != nil)
	return nil
}

func (r *queueRepo) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	now := formatTime(r.now())
	query, args := r.builder().Update(queueTable).
		Set("status", string(constants.QueueStatusFailed)).
		Set("failure_reason", reason).
		Set("finished_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.EQ("status", string(constants.QueueStatusProcessing)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionError(ctx, id, constants.QueueStatusFailed)
	}
	r.log.Warn("queue item failed", "item_id", id, "reason", reason)
	return nil
}

func (r *queueRepo) RequestCancel(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	query, args := r.builder().Update(queueTable).
		Set("cancel_requested", 1).
		Set("updated_at", formatTime(r.now())).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.In("status", string(constants.QueueStatusPending), string(constants.QueueStatusProcessing)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, r.transitionError(ctx, id, constants.QueueStatusFailed)
	}
	r.log.Info("queue item cancel requested", "item_id", id)
	return r.Get(ctx, id)
}

func (r *queueRepo) CountByStatus(ctx context.Context) (map[constants.QueueStatus]int, error) {
	query, args := r.builder().Select("status", entsql.Count("*")).
		From(entsql.Table(queueTable)).
		GroupBy("status").
		Query()
	rows, err := r.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: count queue items: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	out := make(map[constants.QueueStatus]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[constants.QueueStatus(s)] = n
	}
	return out, rows.Err()
}

func (r *queueRepo) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := r.drv.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("queue update failed", "err", err)
		return 0, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return res.RowsAffected()
}

// transitionError explains why a conditional update touched no row.
func (r *queueRepo) transitionError(ctx context.Context, id uuid.UUID, to constants.QueueStatus) error {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	reason := "not allowed"
	switch {
	case cur.Status.IsTerminal():
		reason = "item is terminal"
	case constants.CanTransition(cur.Status, to):
		reason = "lost a concurrent update"
	}
	r.log.Warn("rejected queue transition", "item_id", id, "from", cur.Status, "to", to, "reason", reason)
	return fmt.Errorf("%w: %s -> %s for item %s: %s", common.ErrInvalidTransition, cur.Status, to, id, reason)
}

func scanQueueItem(rows *sql.Rows) (*entity.QueueItem, error) {
	var (
		item                            entity.QueueItem
		id, status, reviewType, action  string
		flags, arrived, updated         string
		docType, cls, review            sql.NullString
		started, finished               sql.NullString
		requiresReview, cancelRequested int
	)
	err := rows.Scan(&id, &item.Filename, &item.FilePath, &item.CallingAppID, &item.DocumentTypeHint, &item.VendorHint,
		&item.Attempt, &status, &docType, &requiresReview, &reviewType, &action,
		&cls, &flags, &item.FailureReason, &cancelRequested, &review,
		&arrived, &started, &finished, &updated)
	if err != nil {
		return nil, fmt.Errorf("%w: scan queue item: %v", common.ErrDatabase, err)
	}

	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: bad queue item id %q", common.ErrDatabase, id)
	}
	item.Status = constants.QueueStatus(status)
	item.ReviewType = constants.ReviewType(reviewType)
	item.Action = constants.Action(action)
	item.RequiresReview = requiresReview != 0
	item.CancelRequested = cancelRequested != 0
	if docType.Valid {
		item.DocumentType = &docType.String
	}
	if err := json.Unmarshal([]byte(flags), &item.Flags); err != nil {
		return nil, fmt.Errorf("%w: decode flags: %v", common.ErrDatabase, err)
	}
	if cls.Valid && cls.String != "" && cls.String != "null" {
		item.Classification = &entity.Classification{}
		if err := json.Unmarshal([]byte(cls.String), item.Classification); err != nil {
			return nil, fmt.Errorf("%w: decode classification: %v", common.ErrDatabase, err)
		}
	}
	if review.Valid && review.String != "" {
		item.Review = &entity.ReviewMetadata{}
		if err := json.Unmarshal([]byte(review.String), item.Review); err != nil {
			return nil, fmt.Errorf("%w: decode review: %v", common.ErrDatabase, err)
		}
	}
	if item.ArrivedAt, err = parseTime(arrived); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if item.StartedAt, err = parseNullTime(started); err != nil {
		return nil, err
	}
	if item.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, err
	}
	return &item, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", common.ErrDatabase, s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

const (
	templateTable = "templates"
	proposalTable = "template_proposals"
)

var templateColumns = []string{
	"id", "calling_app_id", "document_type", "vendor", "format_name",
	"fingerprint", "rules", "active", "success_count", "updated_at",
}

// TemplateRepository is the read-through template registry the matcher
// consumes. FetchActive returns templates ordered by id.
type TemplateRepository interface {
	FetchActive(ctx context.Context, f entity.TemplateFilter) ([]entity.Template, error)
	RecordMatchSuccess(ctx context.Context, id uuid.UUID) error
	ProposeMapping(ctx context.Context, p entity.MappingProposal) error
	Upsert(ctx context.Context, t entity.Template) error
}

type templateRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

func NewTemplateRepository(drv *entsql.Driver, log *slog.Logger) TemplateRepository {
	return &templateRepo{drv: drv, log: log}
}

func (r *templateRepo) builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.Postgres) }

func (r *templateRepo) FetchActive(ctx context.Context, f entity.TemplateFilter) ([]entity.Template, error) {
	preds := []*entsql.Predicate{entsql.EQ("active", true)}
	if f.CallingAppID != "" {
		preds = append(preds, entsql.Or(entsql.EQ("calling_app_id", f.CallingAppID), entsql.EQ("calling_app_id", "")))
	}
	if f.DocumentType != "" {
		preds = append(preds, entsql.EQ("document_type", f.DocumentType))
	}
	if f.Vendor != "" {
		preds = append(preds, entsql.EQ("vendor", f.Vendor))
	}
	query, args := r.builder().Select(templateColumns...).
		From(entsql.Table(templateTable)).
		Where(entsql.And(preds...)).
		OrderBy("id").
		Query()

	rows, err := r.drv.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("fetch active templates failed", "err", err)
		return nil, fmt.Errorf("%w: fetch templates: %v", common.ErrServiceUnavailable, err)
	}
	defer rows.Close()

	var out []entity.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch templates: %v", common.ErrServiceUnavailable, err)
	}
	r.log.Debug("fetched active templates", "count", len(out), "document_type", f.DocumentType, "vendor", f.Vendor)
	return out, nil
}

func (r *templateRepo) RecordMatchSuccess(ctx context.Context, id uuid.UUID) error {
	query, args := r.builder().Update(templateTable).
		Add("success_count", 1).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.drv.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("record template success failed", "template_id", id, "err", err)
		return fmt.Errorf("%w: record match success: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: template %s", common.ErrNotFound, id)
	}
	r.log.Debug("template success recorded", "template_id", id)
	return nil
}

func (r *templateRepo) ProposeMapping(ctx context.Context, p entity.MappingProposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProposedAt.IsZero() {
		p.ProposedAt = time.Now().UTC()
	}
	query, args := r.builder().Insert(proposalTable).
		Columns("id", "template_id", "item_id", "field", "extracted", "corrected", "rule", "proposed_at").
		Values(p.ID, p.TemplateID, p.ItemID, p.Field, p.Extracted, p.Corrected, p.Rule, p.ProposedAt).
		Query()
	if _, err := r.drv.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("template proposal insert failed", "template_id", p.TemplateID, "field", p.Field, "err", err)
		return fmt.Errorf("%w: propose mapping: %v", common.ErrDatabase, err)
	}
	r.log.Info("template mapping proposed", "template_id", p.TemplateID, "field", p.Field, "item_id", p.ItemID)
	return nil
}

// Upsert inserts or replaces a template definition. success_count is kept.
func (r *templateRepo) Upsert(ctx context.Context, t entity.Template) error {
	fp, err := json.Marshal(t.Fingerprint)
	if err != nil {
		return err
	}
	rules, err := json.Marshal(t.Rules)
	if err != nil {
		return err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	query, args := r.builder().Insert(templateTable).
		Columns("id", "calling_app_id", "document_type", "vendor", "format_name", "fingerprint", "rules", "active", "updated_at").
		Values(t.ID, t.CallingAppID, t.DocumentType, t.Vendor, t.FormatName, fp, rules, t.Active, t.UpdatedAt).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.drv.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("template upsert failed", "template_id", t.ID, "err", err)
		return fmt.Errorf("%w: upsert template: %v", common.ErrDatabase, err)
	}
	r.log.Info("template upserted", "template_id", t.ID, "format_name", t.FormatName, "rules", len(t.Rules))
	return nil
}

func scanTemplate(rows *sql.Rows) (entity.Template, error) {
	var (
		t         entity.Template
		fp, rules []byte
	)
	if err := rows.Scan(&t.ID, &t.CallingAppID, &t.DocumentType, &t.Vendor, &t.FormatName,
		&fp, &rules, &t.Active, &t.SuccessCount, &t.UpdatedAt); err != nil {
		return t, fmt.Errorf("%w: scan template: %v", common.ErrDatabase, err)
	}
	if err := json.Unmarshal(fp, &t.Fingerprint); err != nil {
		return t, fmt.Errorf("%w: template %s fingerprint: %v", common.ErrDatabase, t.ID, err)
	}
	if err := json.Unmarshal(rules, &t.Rules); err != nil {
		return t, fmt.Errorf("%w: template %s rules: %v", common.ErrDatabase, t.ID, err)
	}
	return t, nil
}

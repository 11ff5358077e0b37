package templates

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
)

// Cache is a read-through cache over a registry. It keeps the full active set
// and filters locally; every caller gets its own deep copy. A failed refresh
// keeps serving the previous set when there is one.
type Cache struct {
	next repository.TemplateRepository
	ttl  time.Duration
	log  *slog.Logger
	now  func() time.Time

	mu       sync.RWMutex
	all      []entity.Template
	loadedAt time.Time
}

var _ repository.TemplateRepository = (*Cache)(nil)

func NewCache(next repository.TemplateRepository, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{next: next, ttl: ttl, log: log, now: time.Now}
}

func (c *Cache) FetchActive(ctx context.Context, f entity.TemplateFilter) ([]entity.Template, error) {
	all, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Template, 0, len(all))
	for _, t := range all {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (c *Cache) snapshot(ctx context.Context) ([]entity.Template, error) {
	c.mu.RLock()
	fresh := c.all != nil && c.ttl > 0 && c.now().Sub(c.loadedAt) < c.ttl
	all := c.all
	c.mu.RUnlock()
	if fresh {
		return all, nil
	}

	loaded, err := c.next.FetchActive(ctx, entity.TemplateFilter{})
	if err != nil {
		if all != nil {
			c.log.Warn("template refresh failed, serving cached set", "error", err, "templates", len(all))
			return all, nil
		}
		return nil, err
	}
	if loaded == nil {
		loaded = []entity.Template{}
	}
	c.mu.Lock()
	c.all, c.loadedAt = loaded, c.now()
	c.mu.Unlock()
	c.log.Debug("template cache refreshed", "templates", len(loaded))
	return loaded, nil
}

// Invalidate forces the next FetchActive to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.all = nil
	c.mu.Unlock()
}

func (c *Cache) RecordMatchSuccess(ctx context.Context, id uuid.UUID) error {
	if err := c.next.RecordMatchSuccess(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	for i := range c.all {
		if c.all[i].ID == id {
			// copy-on-write so snapshots already handed out stay unchanged
			updated := make([]entity.Template, len(c.all))
			copy(updated, c.all)
			updated[i].SuccessCount++
			c.all = updated
			break
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) ProposeMapping(ctx context.Context, p entity.MappingProposal) error {
	return c.next.ProposeMapping(ctx, p)
}

func (c *Cache) Upsert(ctx context.Context, t entity.Template) error {
	if err := c.next.Upsert(ctx, t); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

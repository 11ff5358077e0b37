package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

// fileDocument is the on-disk layout of a template file.
type fileDocument struct {
	Templates []any `yaml:"templates" json:"templates"`
}

// Parse decodes a YAML template file, validates every entry against the
// schema and compiles its patterns.
func Parse(r io.Reader) ([]entity.Template, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode template yaml: %v", common.ErrInvalidInput, err)
	}

	out := make([]entity.Template, 0, len(doc.Templates))
	seen := make(map[uuid.UUID]struct{}, len(doc.Templates))
	for i, raw := range doc.Templates {
		// round-trip through JSON so the validator sees JSON types
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", common.ErrInvalidInput, i, err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", common.ErrInvalidInput, i, err)
		}
		if err := ValidateDocument(generic); err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", common.ErrValidation, i, err)
		}

		var t entity.Template
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", common.ErrInvalidInput, i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate template id %s", common.ErrValidation, t.ID)
		}
		seen[t.ID] = struct{}{}
		if err := CheckRules(t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadFile reads and parses a template file.
func LoadFile(path string) ([]entity.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// CheckRules compiles every pattern so broken templates fail at load time.
func CheckRules(t entity.Template) error {
	for i, r := range t.Rules {
		var patterns []string
		switch {
		case r.Anchor != nil:
			patterns = append(patterns, r.Anchor.Pattern)
		case r.Region != nil:
			patterns = append(patterns, r.Region.Pattern)
		case r.Block != nil:
			patterns = append(patterns, r.Block.Start, r.Block.End, r.Block.Row)
		}
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: template %s rule %d (%s): %v", common.ErrValidation, t.ID, i, r.Field, err)
			}
		}
	}
	return nil
}

// FileRegistry serves templates from a YAML file. Match counts live in
// memory and are written back on Upsert; proposals are appended to a
// separate YAML stream.
type FileRegistry struct {
	path          string
	proposalsPath string
	log           *slog.Logger

	mu        sync.RWMutex
	templates map[uuid.UUID]entity.Template
}

func NewFileRegistry(path, proposalsPath string, log *slog.Logger) (*FileRegistry, error) {
	tpls, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	reg := &FileRegistry{
		path:          path,
		proposalsPath: proposalsPath,
		log:           log,
		templates:     make(map[uuid.UUID]entity.Template, len(tpls)),
	}
	for _, t := range tpls {
		reg.templates[t.ID] = t
	}
	log.Info("loaded template file", "path", path, "templates", len(tpls))
	return reg, nil
}

func (r *FileRegistry) FetchActive(_ context.Context, f entity.TemplateFilter) ([]entity.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.Template, 0, len(r.templates))
	for _, t := range r.templates {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *FileRegistry) RecordMatchSuccess(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return fmt.Errorf("%w: template %s", common.ErrNotFound, id)
	}
	t.SuccessCount++
	r.templates[id] = t
	return nil
}

func (r *FileRegistry) ProposeMapping(_ context.Context, p entity.MappingProposal) error {
	if r.proposalsPath == "" {
		r.log.Info("template mapping proposed", "template_id", p.TemplateID, "field", p.Field, "corrected", p.Corrected)
		return nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProposedAt.IsZero() {
		p.ProposedAt = time.Now().UTC()
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(p); err != nil {
		return err
	}
	_ = enc.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.proposalsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open proposals file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append proposal: %w", err)
	}
	r.log.Info("template mapping proposed", "template_id", p.TemplateID, "field", p.Field, "path", r.proposalsPath)
	return nil
}

// Upsert replaces or adds t and rewrites the file atomically.
func (r *FileRegistry) Upsert(_ context.Context, t entity.Template) error {
	if err := CheckRules(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.templates[t.ID]; ok {
		t.SuccessCount = prev.SuccessCount
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	r.templates[t.ID] = t.Clone()
	return r.saveLocked()
}

func (r *FileRegistry) saveLocked() error {
	all := make([]entity.Template, 0, len(r.templates))
	for _, t := range r.templates {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })

	b, err := yaml.Marshal(struct {
		Templates []entity.Template `yaml:"templates"`
	}{all})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".templates-*.yaml")
	if err != nil {
		return fmt.Errorf("write template file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write template file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write template file: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}

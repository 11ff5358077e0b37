package entity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Region is a text block box normalized to the document's content bounds.
// All four values lie in [0,1].
type Region struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Contains reports whether the point (x, y) falls inside r.
func (r Region) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Template represents a registered document layout for data transfer between layers.
type Template struct {
	ID           uuid.UUID `json:"id" yaml:"id"`
	CallingAppID string    `json:"calling_app_id,omitempty" yaml:"calling_app_id,omitempty"`
	DocumentType string    `json:"document_type" yaml:"document_type"`
	Vendor       string    `json:"vendor" yaml:"vendor"`
	FormatName   string    `json:"format_name" yaml:"format_name"`
	Fingerprint  []Region  `json:"fingerprint" yaml:"fingerprint"`
	Rules        []Rule    `json:"rules" yaml:"rules"`
	Active       bool      `json:"active" yaml:"active"`
	SuccessCount int64     `json:"success_count" yaml:"success_count"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers can hold an immutable snapshot.
func (t Template) Clone() Template {
	out := t
	out.Fingerprint = slices.Clone(t.Fingerprint)
	out.Rules = make([]Rule, len(t.Rules))
	for i, r := range t.Rules {
		out.Rules[i] = r.Clone()
	}
	return out
}

// ExpectedFields lists the non-optional fields the template's rules target.
func (t Template) ExpectedFields() []string {
	seen := make(map[string]struct{}, len(t.Rules))
	var out []string
	for _, r := range t.Rules {
		if r.Optional {
			continue
		}
		if _, ok := seen[r.Field]; ok {
			continue
		}
		seen[r.Field] = struct{}{}
		out = append(out, r.Field)
	}
	return out
}

// TemplateFilter narrows the active template set. Empty fields match anything.
type TemplateFilter struct {
	CallingAppID string
	DocumentType string
	Vendor       string
}

// Matches reports whether t passes the filter.
func (f TemplateFilter) Matches(t Template) bool {
	if !t.Active {
		return false
	}
	if f.CallingAppID != "" && t.CallingAppID != "" && t.CallingAppID != f.CallingAppID {
		return false
	}
	if f.DocumentType != "" && t.DocumentType != f.DocumentType {
		return false
	}
	if f.Vendor != "" && t.Vendor != f.Vendor {
		return false
	}
	return true
}

// MappingProposal is advisory feedback from review about a template's rules.
type MappingProposal struct {
	ID         uuid.UUID `json:"id" yaml:"id"`
	TemplateID uuid.UUID `json:"template_id" yaml:"template_id"`
	ItemID     uuid.UUID `json:"item_id" yaml:"item_id"`
	Field      string    `json:"field" yaml:"field"`
	Extracted  string    `json:"extracted" yaml:"extracted"`
	Corrected  string    `json:"corrected" yaml:"corrected"`
	Rule       string    `json:"rule,omitempty" yaml:"rule,omitempty"`
	ProposedAt time.Time `json:"proposed_at" yaml:"proposed_at"`
}

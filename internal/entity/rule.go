package entity

import "slices"

// RuleKind tags the variant carried by a Rule.
type RuleKind string

const (
	RuleAnchoredPattern  RuleKind = "anchored_pattern"
	RulePositionalRegion RuleKind = "positional_region"
	RuleRepeatedBlock    RuleKind = "repeated_block"
)

// ValueType is the expected type of an extracted value.
type ValueType string

const (
	TypeDate     ValueType = "date"
	TypeCurrency ValueType = "currency"
	TypeInteger  ValueType = "integer"
	TypeText     ValueType = "text"
)

// Rule maps one region or pattern of a document onto a target field.
// Exactly one of Anchor, Region or Block is set, matching Kind.
type Rule struct {
	Kind     RuleKind    `json:"kind" yaml:"kind"`
	Field    string      `json:"field" yaml:"field"`
	Type     ValueType   `json:"type,omitempty" yaml:"type,omitempty"`
	Optional bool        `json:"optional,omitempty" yaml:"optional,omitempty"`
	Anchor   *AnchorSpec `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	Region   *RegionSpec `json:"region,omitempty" yaml:"region,omitempty"`
	Block    *BlockSpec  `json:"block,omitempty" yaml:"block,omitempty"`
}

// AnchorSpec finds a labelled line and reads the value after the label.
type AnchorSpec struct {
	Labels     []string `json:"labels" yaml:"labels"`
	Exclude    []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Pattern    string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Occurrence string   `json:"occurrence,omitempty" yaml:"occurrence,omitempty"` // first | last
	MaxEdits   int      `json:"max_edits,omitempty" yaml:"max_edits,omitempty"`
	NextLine   bool     `json:"next_line,omitempty" yaml:"next_line,omitempty"`
}

// RegionSpec reads the tokens whose centres fall inside Box.
type RegionSpec struct {
	Box     Region `json:"box" yaml:"box"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// BlockSpec extracts repeated line-item rows between a start and end marker.
// Row is a regular expression whose named groups are description, quantity,
// unit_price and line_total.
type BlockSpec struct {
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
	Row   string `json:"row" yaml:"row"`
	// DefaultQuantity is used for rows that carry only a line total.
	DefaultQuantity string `json:"default_quantity,omitempty" yaml:"default_quantity,omitempty"`
}

// Clone deep-copies the rule and its variant payload.
func (r Rule) Clone() Rule {
	out := r
	if r.Anchor != nil {
		a := *r.Anchor
		a.Labels = slices.Clone(r.Anchor.Labels)
		a.Exclude = slices.Clone(r.Anchor.Exclude)
		out.Anchor = &a
	}
	if r.Region != nil {
		reg := *r.Region
		out.Region = &reg
	}
	if r.Block != nil {
		b := *r.Block
		out.Block = &b
	}
	return out
}

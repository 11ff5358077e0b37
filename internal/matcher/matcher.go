// Package matcher ranks known templates against a document fingerprint.
package matcher

import (
	"math"
	"sort"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
)

const (
	DefaultMinSimilarity = 0.80
	DefaultTieEpsilon    = 0.01
	DefaultMaxCandidates = 5
	// DefaultPairCutoff is the normalized region distance at which two
	// regions stop counting as the same element.
	DefaultPairCutoff = 0.25
)

type Options struct {
	MinSimilarity float64
	TieEpsilon    float64
	MaxCandidates int
	PairCutoff    float64
}

func (o Options) withDefaults() Options {
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.TieEpsilon < 0 {
		o.TieEpsilon = 0
	} else if o.TieEpsilon == 0 {
		o.TieEpsilon = DefaultTieEpsilon
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.PairCutoff <= 0 {
		o.PairCutoff = DefaultPairCutoff
	}
	return o
}

// Result is the outcome of matching one fingerprint.
type Result struct {
	// Ranked holds up to MaxCandidates templates, best first.
	Ranked []entity.Candidate
	// Best is the selected template, nil when nothing cleared the threshold.
	Best *entity.Template
	// BestSimilarity is the similarity of Best, 0 when unknown.
	BestSimilarity float64
}

// Unknown reports whether the document matched no template.
func (r Result) Unknown() bool { return r.Best == nil }

type Matcher struct {
	opts Options
}

func New(opts Options) *Matcher {
	return &Matcher{opts: opts.withDefaults()}
}

// Match scores every template and selects the best one at or above the
// threshold. Scores within TieEpsilon of each other are ordered by
// SuccessCount, then most recent UpdatedAt, then ID, so equal inputs always
// give the same selection.
func (m *Matcher) Match(fp fingerprint.Fingerprint, templates []entity.Template) Result {
	type scored struct {
		tpl *entity.Template
		sim float64
	}
	all := make([]scored, 0, len(templates))
	for i := range templates {
		all = append(all, scored{tpl: &templates[i], sim: Similarity(fp.Regions, templates[i].Fingerprint, m.opts.PairCutoff)})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	// cluster near-equal scores around each cluster's leader and tie-break inside
	for start := 0; start < len(all); {
		end := start + 1
		for end < len(all) && all[start].sim-all[end].sim <= m.opts.TieEpsilon {
			end++
		}
		cluster := all[start:end]
		sort.SliceStable(cluster, func(i, j int) bool {
			a, b := cluster[i].tpl, cluster[j].tpl
			if a.SuccessCount != b.SuccessCount {
				return a.SuccessCount > b.SuccessCount
			}
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
			return a.ID.String() < b.ID.String()
		})
		start = end
	}

	var res Result
	for i, s := range all {
		if i == m.opts.MaxCandidates {
			break
		}
		res.Ranked = append(res.Ranked, entity.Candidate{
			TemplateID: s.tpl.ID,
			FormatName: s.tpl.FormatName,
			Vendor:     s.tpl.Vendor,
			Similarity: round4(s.sim),
		})
	}
	// a tie-break may lift a template just under the threshold above one just over it
	for _, s := range all {
		if s.sim >= m.opts.MinSimilarity {
			best := s.tpl.Clone()
			res.Best = &best
			res.BestSimilarity = round4(s.sim)
			break
		}
	}
	return res
}

// Similarity aligns two region sequences in order and returns the matched
// weight divided by the longer length. Two empty sequences are identical.
func Similarity(a, b []entity.Region, cutoff float64) float64 {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return 1
	}
	if n == 0 || m == 0 {
		return 0
	}
	if cutoff <= 0 {
		cutoff = DefaultPairCutoff
	}

	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for i := 1; i <= n; i++ {
		cur[0] = 0
		for j := 1; j <= m; j++ {
			best := math.Max(prev[j], cur[j-1])
			if s := pairScore(a[i-1], b[j-1], cutoff); s > 0 {
				best = math.Max(best, prev[j-1]+s)
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	sim := prev[m] / float64(max(n, m))
	return math.Min(1, math.Max(0, sim))
}

// pairScore is 1 for identical regions, falling linearly to 0 at cutoff.
// Position counts fully, size at half weight.
func pairScore(a, b entity.Region, cutoff float64) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	dw, dh := a.W-b.W, a.H-b.H
	d := math.Sqrt(dx*dx + dy*dy + 0.25*(dw*dw+dh*dh))
	if d >= cutoff {
		return 0
	}
	return 1 - d/cutoff
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

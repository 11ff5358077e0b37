package matcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
)

var layoutA = []entity.Region{
	{X: 0.2, Y: 0, W: 0.6, H: 0.1},
	{X: 0, Y: 0.3, W: 0.3, H: 0.1},
	{X: 0.8, Y: 0.3, W: 0.2, H: 0.1},
	{X: 0, Y: 0.9, W: 0.3, H: 0.1},
	{X: 0.8, Y: 0.9, W: 0.2, H: 0.1},
}

var layoutB = []entity.Region{
	{X: 0, Y: 0, W: 1, H: 0.05},
	{X: 0, Y: 0.5, W: 1, H: 0.05},
	{X: 0.5, Y: 0.95, W: 0.5, H: 0.05},
}

func template(name string, regions []entity.Region) entity.Template {
	return entity.Template{
		ID:          uuid.New(),
		FormatName:  name,
		Vendor:      name,
		Fingerprint: regions,
		Active:      true,
		UpdatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSimilarityBounds(t *testing.T) {
	require.Equal(t, 1.0, Similarity(layoutA, layoutA, 0))
	require.Equal(t, 1.0, Similarity(nil, nil, 0))
	require.Equal(t, 0.0, Similarity(layoutA, nil, 0))
	require.Equal(t, 0.0, Similarity(nil, layoutA, 0))

	s := Similarity(layoutA, layoutB, 0)
	require.GreaterOrEqual(t, s, 0.0)
	require.Less(t, s, 0.5)
}

func TestSimilarityIsSymmetric(t *testing.T) {
	require.InDelta(t, Similarity(layoutA, layoutB, 0), Similarity(layoutB, layoutA, 0), 1e-12)
	require.InDelta(t, Similarity(layoutA[:3], layoutA, 0), Similarity(layoutA, layoutA[:3], 0), 1e-12)
}

func TestSimilarityPenalizesMissingRegions(t *testing.T) {
	require.InDelta(t, 0.6, Similarity(layoutA[:3], layoutA, 0), 1e-9)
}

func TestSimilarityToleratesSmallShifts(t *testing.T) {
	moved := make([]entity.Region, len(layoutA))
	for i, r := range layoutA {
		r.X += 0.01
		r.Y += 0.005
		moved[i] = r
	}
	require.Greater(t, Similarity(layoutA, moved, 0), 0.9)
}

func TestMatchSelectsBestAboveThreshold(t *testing.T) {
	a, b := template("acme", layoutA), template("bistro", layoutB)
	m := New(Options{})

	res := m.Match(fingerprint.Fingerprint{Regions: layoutA}, []entity.Template{b, a})
	require.False(t, res.Unknown())
	require.Equal(t, a.ID, res.Best.ID)
	require.Equal(t, 1.0, res.BestSimilarity)
	require.Len(t, res.Ranked, 2)
	require.Equal(t, a.ID, res.Ranked[0].TemplateID)
	require.Equal(t, b.ID, res.Ranked[1].TemplateID)
}

func TestMatchUnknownBelowThreshold(t *testing.T) {
	m := New(Options{})
	res := m.Match(fingerprint.Fingerprint{Regions: layoutB}, []entity.Template{template("acme", layoutA)})
	require.True(t, res.Unknown())
	require.Zero(t, res.BestSimilarity)
	require.Len(t, res.Ranked, 1)

	res = m.Match(fingerprint.Fingerprint{Regions: layoutA}, nil)
	require.True(t, res.Unknown())
	require.Empty(t, res.Ranked)
}

func TestMatchTieBreak(t *testing.T) {
	older := template("older", layoutA)
	newer := template("newer", layoutA)
	newer.UpdatedAt = older.UpdatedAt.Add(time.Hour)
	popular := template("popular", layoutA)
	popular.SuccessCount = 3
	m := New(Options{})
	fp := fingerprint.Fingerprint{Regions: layoutA}

	res := m.Match(fp, []entity.Template{older, newer, popular})
	require.Equal(t, popular.ID, res.Best.ID)
	require.Equal(t, newer.ID, res.Ranked[1].TemplateID)
	require.Equal(t, older.ID, res.Ranked[2].TemplateID)

	// order of the input does not matter
	again := m.Match(fp, []entity.Template{popular, older, newer})
	require.Equal(t, res.Ranked, again.Ranked)

	// identical metadata falls back to the id
	x, y := template("x", layoutA), template("y", layoutA)
	res = m.Match(fp, []entity.Template{x, y})
	want := x.ID
	if y.ID.String() < x.ID.String() {
		want = y.ID
	}
	require.Equal(t, want, res.Best.ID)
}

func TestMatchCapsCandidates(t *testing.T) {
	var tpls []entity.Template
	for i := 0; i < 8; i++ {
		tpls = append(tpls, template("t", layoutA))
	}
	res := New(Options{MaxCandidates: 3}).Match(fingerprint.Fingerprint{Regions: layoutA}, tpls)
	require.Len(t, res.Ranked, 3)
}

func TestMatchIsIdempotent(t *testing.T) {
	tpls := []entity.Template{template("acme", layoutA), template("bistro", layoutB)}
	m := New(Options{})
	fp := fingerprint.Fingerprint{Regions: layoutA[:4]}
	first := m.Match(fp, tpls)
	for i := 0; i < 3; i++ {
		require.Equal(t, first, m.Match(fp, tpls))
	}
}

func TestMatchDoesNotAliasTemplates(t *testing.T) {
	tpls := []entity.Template{template("acme", layoutA)}
	res := New(Options{}).Match(fingerprint.Fingerprint{Regions: layoutA}, tpls)
	res.Best.Fingerprint[0].X = 42
	require.Equal(t, 0.2, tpls[0].Fingerprint[0].X)
}

package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func defaultScoring() common.ScoringConfig {
	return common.ScoringConfig{
		WeightOCR:             0.3,
		WeightExtraction:      0.4,
		WeightPattern:         0.2,
		WeightValidation:      0.1,
		HighThreshold:         0.85,
		MediumThreshold:       0.7,
		Tolerance:             "0.02",
		ReconciliationCeiling: 0.84,
		OCRFailureCeiling:     0.5,
	}
}

func TestScoringPolicy(t *testing.T) {
	p, err := ScoringPolicy(defaultScoring())
	require.NoError(t, err)
	require.Equal(t, "0.02", p.Tolerance.String())
	require.InDelta(t, 0.4, p.Weights.Extraction, 1e-9)

	bad := defaultScoring()
	bad.Tolerance = "a cent"
	_, err = ScoringPolicy(bad)
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CONFIG_ERROR", appErr.Code)

	bad = defaultScoring()
	bad.WeightOCR = 0.5
	_, err = ScoringPolicy(bad)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestConverters(t *testing.T) {
	m := MatchOptions(common.MatchingConfig{MinSimilarity: 0.9, MaxCandidates: 3})
	require.InDelta(t, 0.9, m.MinSimilarity, 1e-9)
	require.Equal(t, 3, m.MaxCandidates)

	r := RetryConfig(common.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, BreakerEnabled: true})
	require.Equal(t, 2, r.RetryMaxAttempts)
	require.Equal(t, time.Second, r.RetryInitialBackoff)
	require.True(t, r.BreakerEnabled)

	o := OCRConfig(common.OCRConfig{Lang: "deu", DPI: 200, PSM: 4})
	require.Equal(t, "deu", o.TesseractLang)
	require.Equal(t, 200, o.DPI)
	require.Equal(t, 4, o.PSM)

	d := DBConfig(common.TemplatesConfig{DSN: "postgres://x", MaxConns: 7})
	require.Equal(t, "postgres://x", d.DSN)
	require.EqualValues(t, 7, d.MaxConns)
}

func TestOpenQueueMigratesAndPings(t *testing.T) {
	ctx := context.Background()
	st, err := OpenQueue(ctx, common.DatabaseConfig{QueuePath: filepath.Join(t.TempDir(), "q", "intake.db")}, discard())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Ping(ctx))
	item := &entity.QueueItem{Filename: "a.png", FilePath: "/in/ready_a.png"}
	require.NoError(t, st.Repo.Create(ctx, item))
	got, err := st.Repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "a.png", got.Filename)
}

func TestOpenTemplatesRejectsUnknownSource(t *testing.T) {
	_, err := OpenTemplates(context.Background(), common.TemplatesConfig{Source: "s3"}, false, discard())
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestPublisherWithoutURLLogs(t *testing.T) {
	pub, err := Publisher(common.NATSConfig{}, nil, discard())
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Finalized(context.Background(), entity.FinalRecord{}))
}

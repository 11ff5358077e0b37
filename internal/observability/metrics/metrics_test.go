package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsRecord(t *testing.T) {
	m := NewPipelineMetrics("intaked")

	m.Started()
	m.ObserveStage("ocr", 120*time.Millisecond)
	m.ObserveMatch(0.93)
	m.ObserveConfidence("high", 0.91)
	m.Finished("completed", "high")
	m.Retry("ocr")
	m.ReviewCompleted("quick")

	require.Equal(t, 1.0, testutil.ToFloat64(m.documentsTotal.WithLabelValues("completed", "high")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("ocr")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "intake_pipeline_documents_total")
	require.Contains(t, rec.Body.String(), `service="intaked"`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var p *PipelineMetrics
	p.Started()
	p.Finished("failed", "")
	p.ObserveStage("ocr", time.Second)

	var w *WatcherMetrics
	w.Rename("ok")
	w.Forward("ok")
	w.Retry()
	w.Begin()
	w.End()
	w.ScanFinding("orphan")
}

func TestWatcherMetricsRecord(t *testing.T) {
	m := NewWatcherMetrics("intake-watcher")
	m.Rename("collision")
	m.Rename("ok")
	m.Rename("ok")
	m.Retry()

	require.Equal(t, 2.0, testutil.ToFloat64(m.renamesTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.renamesTotal.WithLabelValues("collision")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal))
}

func TestQueueCountsReplacePreviousPoll(t *testing.T) {
	m := NewPipelineMetrics("intaked")
	m.SetQueueCounts(map[string]int{"pending": 3, "failed": 1})
	m.SetQueueCounts(map[string]int{"pending": 1})

	require.Equal(t, 1.0, testutil.ToFloat64(m.queueItems.WithLabelValues("pending")))
	require.Equal(t, 1, testutil.CollectAndCount(m.queueItems))
}

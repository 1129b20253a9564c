package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchStored(map[string]int{"click": 1})
		m.BatchFailed()
		m.ObserveAnalysis("rules", 0.1, nil)
		m.SetIssueCounts(map[string]int{"rageClicks": 1})
		m.SubscriberConnected()
		m.SubscriberDisconnected()
		m.NotificationsDropped(2)
		m.ExportFailed()
	})
}

func TestCountersTrackBatches(t *testing.T) {
	m := New()
	m.BatchStored(map[string]int{"click": 3, "scroll": 2})
	m.BatchStored(map[string]int{"click": 1})
	m.BatchFailed()

	assert.Equal(t, 4.0, testutil.ToFloat64(m.eventsIngested.WithLabelValues("click")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsIngested.WithLabelValues("scroll")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesIngested.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesIngested.WithLabelValues("error")))
}

func TestIssueCountsReplacePreviousRun(t *testing.T) {
	m := New()
	m.SetIssueCounts(map[string]int{"rageClicks": 2, "deadClicks": 1})
	m.SetIssueCounts(map[string]int{"deadClicks": 4})

	assert.Equal(t, 1, testutil.CollectAndCount(m.issuesDetected))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.issuesDetected.WithLabelValues("deadClicks")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveAnalysis("snapshot", 0.02, errors.New("boom"))
	m.SubscriberConnected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `analyzer_analysis_duration_seconds_count{kind="snapshot",result="error"} 1`))
	assert.True(t, strings.Contains(body, "analyzer_stream_subscribers 1"))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecision(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDecision(true, "")
	m.RecordDecision(false, "RATE_LIMIT_EXCEEDED")
	m.RecordDecision(false, "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("deny")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DenialsTotal.WithLabelValues("RATE_LIMIT_EXCEEDED")))
}

func TestObserveAnomalyScore(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAnomalyScore(35)
	m.ObserveAnomalyScore(72.5)

	count := testutil.CollectAndCount(m.AnomalyScores, "gateway_anomaly_score")
	require.Equal(t, 1, count)

	metric := &dto.Metric{}
	require.NoError(t, m.AnomalyScores.Write(metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.Equal(t, 107.5, metric.GetHistogram().GetSampleSum())
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os contadores de decisão publicados pelo gateway
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
	DenialsTotal  *prometheus.CounterVec
	AnomalyScores prometheus.Histogram
}

// New cria e registra os coletores no registry informado
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total de requisições processadas pelo pipeline, por decisão",
		}, []string{"decision"}),
		DenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_denials_total",
			Help: "Total de negações emitidas, por código",
		}, []string{"code"}),
		AnomalyScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_anomaly_score",
			Help:    "Distribuição dos anomaly scores observados",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.DenialsTotal, m.AnomalyScores)
	return m
}

// RecordDecision registra o resultado de uma requisição
func (m *Metrics) RecordDecision(allowed bool, code string) {
	if allowed {
		m.RequestsTotal.WithLabelValues("allow").Inc()
		return
	}
	m.RequestsTotal.WithLabelValues("deny").Inc()
	if code != "" {
		m.DenialsTotal.WithLabelValues(code).Inc()
	}
}

// ObserveAnomalyScore registra um anomaly score recalculado no histograma
func (m *Metrics) ObserveAnomalyScore(score float64) {
	m.AnomalyScores.Observe(score)
}

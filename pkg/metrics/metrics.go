// Package metrics exposes chargeback counters to Prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

// Metrics holds the chargeback collectors registered on one registry.
type Metrics struct {
	// TokensTotal counts metered tokens per app key.
	TokensTotal *prometheus.CounterVec

	// RecordsTotal counts batch records by result (succeeded, failed, skipped).
	RecordsTotal *prometheus.CounterVec

	// BatchesTotal counts batches by source and result (ok, failed).
	BatchesTotal *prometheus.CounterVec

	// BatchDuration observes batch processing time.
	BatchDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargeback_tokens_total",
				Help: "Tokens metered, by app key, operation, stream flag and kind.",
			},
			[]string{"app_key", "api_operation", "stream", "kind"},
		),
		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargeback_records_total",
				Help: "Batch records processed, by result.",
			},
			[]string{"result"},
		),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargeback_batches_total",
				Help: "Batches processed, by source and result.",
			},
			[]string{"source", "result"},
		),
		BatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chargeback_batch_duration_seconds",
				Help:    "Batch processing time.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"source"},
		),
	}
}

// Record implements meter.Recorder by adding the record's tokens to TokensTotal.
func (m *Metrics) Record(_ context.Context, rec models.UsageRecord) error {
	stream := strconv.FormatBool(rec.Stream)
	op := rec.Operation.String()
	m.TokensTotal.WithLabelValues(rec.AppKey, op, stream, "prompt").Add(float64(rec.PromptTokens))
	m.TokensTotal.WithLabelValues(rec.AppKey, op, stream, "completion").Add(float64(rec.CompletionTokens))
	return nil
}

// ObserveBatch records the outcome of one batch.
func (m *Metrics) ObserveBatch(source string, out *meter.Outcome, elapsed time.Duration) {
	m.RecordsTotal.WithLabelValues("succeeded").Add(float64(len(out.Records)))
	m.RecordsTotal.WithLabelValues("failed").Add(float64(len(out.Failures)))
	m.RecordsTotal.WithLabelValues("skipped").Add(float64(out.Skipped))

	result := "ok"
	if len(out.Failures) > 0 {
		result = "failed"
	}
	m.BatchesTotal.WithLabelValues(source, result).Inc()
	m.BatchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

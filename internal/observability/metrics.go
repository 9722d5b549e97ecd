package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus counters and histograms for one loader run.
// They live on a private registry: a short-lived batch process is never
// scraped, so the registry is pushed to a Pushgateway after the run instead.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal            *prometheus.CounterVec // labels: outcome={ok,skipped,fetch_failed,failed}
	ItemsSkipped         *prometheus.CounterVec // labels: reason={parse,validate}
	ObservationsPrepared prometheus.Counter
	ObservationsInserted prometheus.Counter
	FetchDuration        prometheus.Histogram
}

// NewMetrics creates all loader metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
		ItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "items_skipped_total",
			Help:      "Response items excluded from the merge batch, by reason.",
		}, []string{"reason"}),
		ObservationsPrepared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "observations_prepared_total",
			Help:      "Validated observations offered to the merge.",
		}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "observations_inserted_total",
			Help:      "Observations actually inserted (new composite keys).",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_ingest",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the batched provider request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.ItemsSkipped,
		m.ObservationsPrepared,
		m.ObservationsInserted,
		m.FetchDuration,
	)

	return m
}

// Push sends the collected run metrics to a Pushgateway. Best-effort: the
// caller logs a failure and moves on, it never changes the exit code.
func (m *Metrics) Push(ctx context.Context, gatewayURL string) error {
	return push.New(gatewayURL, "weather_ingest").
		Gatherer(m.registry).
		PushContext(ctx)
}

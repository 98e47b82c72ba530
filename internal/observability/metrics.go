package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingest and dispatch pipeline.
type Metrics struct {
	StrikesIngested  prometheus.Counter
	StrikesDuplicate prometheus.Counter
	StrikesMalformed prometheus.Counter
	StrikesOutOfArea prometheus.Counter
	IntentsGenerated prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize     prometheus.Histogram
	MatchDuration prometheus.Histogram

	// Dispatch metrics.
	DispatchAttempts  prometheus.Counter
	DispatchAcks      prometheus.Counter
	DispatchRetries   prometheus.Counter
	DispatchAbandoned prometheus.Counter
	DispatchCoalesced prometheus.Counter
	QueueDepth        prometheus.Gauge
	RegisteredDevices prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		StrikesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "strikes_ingested_total",
			Help:      "Total new strike events accepted from the feed.",
		}),
		StrikesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "strikes_duplicate_total",
			Help:      "Total raw readings dropped as replay-window duplicates.",
		}),
		StrikesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "strikes_malformed_total",
			Help:      "Total raw readings dropped as unparsable.",
		}),
		StrikesOutOfArea: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "strikes_out_of_area_total",
			Help:      "Total strikes reported outside the service-area bounds.",
		}),
		IntentsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "intents_generated_total",
			Help:      "Total alert intents produced by the matcher.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightning_dispatch",
			Name:      "pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lightning_dispatch",
			Name:      "batch_size",
			Help:      "Number of raw readings per batch extracted from the feed topic.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lightning_dispatch",
			Name:      "match_duration_seconds",
			Help:      "Duration of one strike's spatial match.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		DispatchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "dispatch_attempts_total",
			Help:      "Total command publish attempts, including retries.",
		}),
		DispatchAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "dispatch_acks_total",
			Help:      "Total device acknowledgments applied.",
		}),
		DispatchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "dispatch_retries_total",
			Help:      "Total deliveries re-queued after a failed or unacked attempt.",
		}),
		DispatchAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "dispatch_abandoned_total",
			Help:      "Total deliveries dropped after exhausting the retry budget.",
		}),
		DispatchCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning_dispatch",
			Name:      "dispatch_coalesced_total",
			Help:      "Total intents merged into an existing pending delivery under storm backpressure.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightning_dispatch",
			Name:      "queue_depth",
			Help:      "Deliveries currently waiting in the outbound queue.",
		}),
		RegisteredDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightning_dispatch",
			Name:      "registered_devices",
			Help:      "Devices currently mirrored in the spatial index.",
		}),
	}

	prometheus.MustRegister(
		m.StrikesIngested,
		m.StrikesDuplicate,
		m.StrikesMalformed,
		m.StrikesOutOfArea,
		m.IntentsGenerated,
		m.PipelineRunning,
		m.BatchSize,
		m.MatchDuration,
		m.DispatchAttempts,
		m.DispatchAcks,
		m.DispatchRetries,
		m.DispatchAbandoned,
		m.DispatchCoalesced,
		m.QueueDepth,
		m.RegisteredDevices,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		StrikesIngested:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "strikes_ingested_total"}),
		StrikesDuplicate:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "strikes_duplicate_total"}),
		StrikesMalformed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "strikes_malformed_total"}),
		StrikesOutOfArea:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "strikes_out_of_area_total"}),
		IntentsGenerated:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "intents_generated_total"}),
		PipelineRunning:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "lightning_dispatch", Name: "pipeline_running"}),
		BatchSize:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "lightning_dispatch", Name: "batch_size"}),
		MatchDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "lightning_dispatch", Name: "match_duration_seconds"}),
		DispatchAttempts:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "dispatch_attempts_total"}),
		DispatchAcks:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "dispatch_acks_total"}),
		DispatchRetries:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "dispatch_retries_total"}),
		DispatchAbandoned: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "dispatch_abandoned_total"}),
		DispatchCoalesced: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lightning_dispatch", Name: "dispatch_coalesced_total"}),
		QueueDepth:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "lightning_dispatch", Name: "queue_depth"}),
		RegisteredDevices: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "lightning_dispatch", Name: "registered_devices"}),
	}
}

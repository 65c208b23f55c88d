// Package metrics exposes triage counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

// Metrics is a triage.Sink that updates Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal     *prometheus.CounterVec
	MessagesTotal   *prometheus.CounterVec
	DraftsTotal     *prometheus.CounterVec
	FetchFailures   prometheus.Counter
	SkippedTotal    prometheus.Counter
	Checkpoint      prometheus.Gauge
	ProcessedSet    prometheus.Gauge
	CycleDuration   *prometheus.HistogramVec
	MessageDuration prometheus.Histogram

	processed func() int
}

// New registers all collectors on a fresh registry. processed reports the
// current size of the processed set and may be nil.
func New(processed func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_cycles_total",
				Help: "Poll cycles by mode and result",
			},
			[]string{"mode", "result"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_messages_total",
				Help: "Messages run through the pipeline by verdict",
			},
			[]string{"verdict"},
		),
		DraftsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_drafts_total",
				Help: "Draft requests by confirmation status",
			},
			[]string{"status"},
		),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_fetch_failures_total",
			Help: "Messages whose full content could not be fetched",
		}),
		SkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_skipped_total",
			Help: "Messages skipped as already processed",
		}),
		Checkpoint: f.NewGauge(prometheus.GaugeOpts{
			Name: "triage_checkpoint_ms",
			Help: "Current checkpoint as epoch milliseconds",
		}),
		ProcessedSet: f.NewGauge(prometheus.GaugeOpts{
			Name: "triage_processed_set_size",
			Help: "Message ids remembered in this session",
		}),
		CycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_cycle_duration_seconds",
				Help:    "Wall time of a poll cycle including pacing",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"mode"},
		),
		MessageDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_message_duration_seconds",
			Help:    "Wall time of one message through the pipeline",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		processed: processed,
	}
}

// RecordOutcome counts one pipeline outcome
func (m *Metrics) RecordOutcome(_ context.Context, out triage.Outcome) error {
	if out.Skipped {
		m.SkippedTotal.Inc()
		return nil
	}
	if out.FetchError != "" {
		m.FetchFailures.Inc()
	}
	m.MessagesTotal.WithLabelValues(string(out.Verdict)).Inc()
	if out.Drafted {
		m.DraftsTotal.WithLabelValues(string(out.DraftStatus)).Inc()
	}
	if !out.StartedAt.IsZero() && out.FinishedAt.After(out.StartedAt) {
		m.MessageDuration.Observe(out.FinishedAt.Sub(out.StartedAt).Seconds())
	}
	return nil
}

// ObserveCycle counts the cycle and refreshes the gauges
func (m *Metrics) ObserveCycle(_ context.Context, report triage.CycleReport) error {
	result := "ok"
	if report.Error != "" {
		result = "error"
	}
	mode := string(report.Mode)
	m.CyclesTotal.WithLabelValues(mode, result).Inc()
	m.CycleDuration.WithLabelValues(mode).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.Checkpoint.Set(float64(report.CheckpointAfter.InternalDate))
	if m.processed != nil {
		m.ProcessedSet.Set(float64(m.processed()))
	}
	return nil
}

// Registry returns the registry holding every triage collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

package observability

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics records ingestion activity on its own registry. A nil *Metrics is a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	entries  *prometheus.CounterVec
	recalls  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "ingest_attempts_total",
			Help:      "Ingestion attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transcript",
			Name:      "ingest_attempt_seconds",
			Help:      "Time spent streaming and applying one attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"outcome"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "entries_total",
			Help:      "Decoded entries by kind and whether they were appended or duplicates.",
		}, []string{"kind", "appended"}),
		recalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "recalls_total",
			Help:      "Recall commands by resolution.",
		}, []string{"resolved"}),
	}
	m.Registry.MustRegister(m.attempts, m.duration, m.entries, m.recalls)
	return m
}

func (m *Metrics) ObserveAttempt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveEntry(kind string, appended bool) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(kind, strconv.FormatBool(appended)).Inc()
}

func (m *Metrics) ObserveRecall(resolved bool) {
	if m == nil {
		return
	}
	m.recalls.WithLabelValues(strconv.FormatBool(resolved)).Inc()
}

// WriteText dumps every metric in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("WriteText: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("WriteText: %w", err)
		}
	}
	return nil
}

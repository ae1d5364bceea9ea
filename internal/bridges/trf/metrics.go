package trf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels used on command and correlation metrics.
const (
	outcomeOK = "ok"
)

// Ingest result labels.
const (
	ingestStored    = "stored"
	ingestMalformed = "malformed"
	ingestUnmapped  = "unmapped"
	ingestIgnored   = "ignored"
	ingestFailed    = "lookup_error"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	commands    *prometheus.CounterVec
	correlation *prometheus.HistogramVec
	ingest      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trf_commands_total",
			Help: "Device commands issued, by operation and outcome.",
		}, []string{"op", "outcome"}),
		correlation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trf_correlation_duration_seconds",
			Help:    "Time from request publish to reply or give-up.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"outcome"}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trf_ingest_packets_total",
			Help: "Telemetry packets consumed, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.correlation, m.ingest)
	}
	return m
}

func (m *Metrics) observeCommand(op string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op, outcomeLabel(err)).Inc()
}

func (m *Metrics) observeCorrelation(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.correlation.WithLabelValues(outcomeLabel(err)).Observe(d.Seconds())
}

func (m *Metrics) countIngest(result string) {
	if m == nil {
		return
	}
	m.ingest.WithLabelValues(result).Inc()
}

func outcomeLabel(err error) string {
	if err == nil {
		return outcomeOK
	}
	return string(reasonFor(err))
}

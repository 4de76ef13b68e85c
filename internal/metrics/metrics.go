package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the ingester's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	persisted   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	requests    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.SummaryVec
	lastSuccess *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.persisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tender_ingester",
		Name:      "records_persisted_total",
		Help:      "Records upserted into the repository",
	}, []string{"source"})
	m.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tender_ingester",
		Name:      "records_dropped_total",
		Help:      "Source rows not turned into records, by reason",
	}, []string{"source", "reason"})
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tender_ingester",
		Name:      "http_requests_total",
		Help:      "HTTP attempts by outcome (ok, retry, fatal, exhausted)",
	}, []string{"source", "outcome"})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tender_ingester",
		Name:      "source_failures_total",
		Help:      "Source runs that ended in an error",
	}, []string{"source"})
	m.duration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "tender_ingester",
		Name:      "source_duration_seconds",
		Help:      "Time spent ingesting one source",
	}, []string{"source"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tender_ingester",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful source run",
	}, []string{"source"})

	m.reg.MustRegister(
		m.persisted, m.dropped, m.requests,
		m.failures, m.duration, m.lastSuccess,
	)
	return m
}

// Registry exposes the private registry, e.g. for promhttp or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Persisted(source string) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(source).Inc()
}

// Dropped counts a rejected row. Reasons: filtered, missing_required, below_minimum.
func (m *Metrics) Dropped(source, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) HTTPRequest(source, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(source, outcome).Inc()
}

// SourceDone records the end of one source run.
func (m *Metrics) SourceDone(source string, took time.Duration, err error, at time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(source).Observe(took.Seconds())
	if err != nil {
		m.failures.WithLabelValues(source).Inc()
		return
	}
	m.lastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
}

// Dump returns a human-readable snapshot of the counters (for logging).
func (m *Metrics) Dump() string {
	if m == nil {
		return ""
	}
	families, err := m.reg.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			out = append(out, fmt.Sprintf("%s{%s} %g", mf.GetName(), labels(metric.GetLabel()), metric.GetCounter().GetValue()))
		}
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}

func labels(pairs []*dto.LabelPair) string {
	b := strings.Builder{}
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.GetName())
		b.WriteByte('=')
		b.WriteString(p.GetValue())
	}
	return b.String()
}

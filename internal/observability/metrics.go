// Package observability exposes Prometheus metrics for the auto-close loop.
package observability

import (
	"net/http"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/candles"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoclose"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PassesTotal   *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	LastPassTime  prometheus.Gauge
	TradeActions  *prometheus.CounterVec
	CandleFetches *prometheus.CounterVec
}

var (
	_ autoclose.Observer    = (*Metrics)(nil)
	_ candles.FetchObserver = (*Metrics)(nil)
)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "total",
			Help:      "Reconciliation passes by outcome (ok, partial, error)",
		}, []string{"outcome"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "duration_seconds",
			Help:      "Wall time of one reconciliation pass",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastPassTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time of the last finished pass",
		}),
		TradeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "actions_total",
			Help:      "Per-trade reconciliation results by action",
		}, []string{"action"}),
		CandleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "remote_fetches_total",
			Help:      "Remote candle fetch attempts by source and result",
		}, []string{"source", "result"}),
	}
	m.registry.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.LastPassTime,
		m.TradeActions,
		m.CandleFetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObservePass(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(elapsed.Seconds())
	m.LastPassTime.SetToCurrentTime()
}

func (m *Metrics) ObserveTrade(action autoclose.Action) {
	if m == nil {
		return
	}
	m.TradeActions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) ObserveCandleFetch(source, result string) {
	if m == nil {
		return
	}
	m.CandleFetches.WithLabelValues(source, result).Inc()
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "storefront"

// Metrics 汇总服务用到的所有 Prometheus 指标。
type Metrics struct {
	Registry *prometheus.Registry

	LockWait           prometheus.Histogram
	LocksHeld          prometheus.Gauge
	RateLimitDecisions *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	OrdersCreated      *prometheus.CounterVec
	SweepRemoved       *prometheus.CounterVec
}

// New 创建一个独立的 registry 并注册所有指标（含 Go 运行时与进程指标）。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a keyed lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		LocksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks_held",
			Help:      "Number of keyed locks currently held.",
		}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by source (cart or direct).",
		}, []string{"source"}),
		SweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Entries removed by periodic sweep jobs.",
		}, []string{"job"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LockWait, m.LocksHeld, m.RateLimitDecisions, m.HTTPDuration, m.OrdersCreated, m.SweepRemoved,
	)
	return m
}

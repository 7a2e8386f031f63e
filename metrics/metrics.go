package metrics

import (
	"go-exchange-rate-gateway/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exchange_gateway"

// Metrics holds the collectors shared by the gateway components
type Metrics struct {
	// Gateway operations by method and outcome
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Calls to the quote provider
	UpstreamCallsTotal *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec

	// Admission decisions
	AdmissionsTotal *prometheus.CounterVec

	// Popular pair refreshes
	RefreshesTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Gateway operations by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent serving gateway operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms .. ~8s
			},
			[]string{"method"},
		),
		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Calls made to the quote provider by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Quote provider latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms, 20ms, 40ms...
			},
			[]string{"op"},
		),
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Rate limiter decisions",
			},
			[]string{"decision"},
		),
		RefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Background refreshes of popular pairs by outcome",
			},
			[]string{"outcome"},
		),
		registerer: reg,
	}
}

// Outcome labels an error for the *_total counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveCache exports the statistics of c, labelled with its name.
func (m *Metrics) ObserveCache(c *cache.Cache) {
	factory := promauto.With(m.registerer)
	labels := prometheus.Labels{"cache": c.Name()}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_hits_total",
		Help:        "Lookups served from the cache",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Hits) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_misses_total",
		Help:        "Computations run on a cache miss",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Misses) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_evictions_total",
		Help:        "Entries evicted to make room",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Evictions) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "cache_entries",
		Help:        "Entries currently held",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Len()) })
}

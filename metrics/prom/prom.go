package prom

import (
	"github.com/avkirilov/concache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements concache.StatsSink and exports Prometheus
// counters/gauges, histograms, and a per-cause eviction vector. Safe for
// concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	loadSuccess prometheus.Counter
	loadFailure prometheus.Counter
	loadLatency prometheus.Histogram
	evicts      *prometheus.CounterVec
	sizeEntries prometheus.Gauge
	sizeWeight  prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		loadSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_success_total",
			Help:        "Successful loader calls",
			ConstLabels: constLabels,
		}),
		loadFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_failure_total",
			Help:        "Failed loader calls",
			ConstLabels: constLabels,
		}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_latency_seconds",
			Help:        "Loader call latency",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by cause",
				ConstLabels: constLabels,
			},
			[]string{"cause"},
		),
		sizeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_weight",
			Help:        "Total resident weight",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.loadSuccess, a.loadFailure, a.loadLatency,
		a.evicts, a.sizeEntries, a.sizeWeight)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Load records a loader call's outcome and latency.
func (a *Adapter) Load(success bool, nanos int64) {
	if success {
		a.loadSuccess.Inc()
	} else {
		a.loadFailure.Inc()
	}
	a.loadLatency.Observe(float64(nanos) / 1e9)
}

// Evict increments the eviction counter with a cause label.
func (a *Adapter) Evict(cause concache.RemovalCause) {
	a.evicts.WithLabelValues(cause.String()).Inc()
}

// Size updates gauges for the number of entries and total weight.
func (a *Adapter) Size(entries, totalWeight int64) {
	a.sizeEntries.Set(float64(entries))
	a.sizeWeight.Set(float64(totalWeight))
}

// Compile-time check: ensure Adapter implements concache.StatsSink.
var _ concache.StatsSink = (*Adapter)(nil)

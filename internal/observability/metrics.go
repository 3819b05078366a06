package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"inkframe/internal/eventbus"
)

// Metrics aggregates refresh pipeline counters for the /metrics endpoint.
// It owns its registry so tests never fight over the global one.
type Metrics struct {
	reg *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	idleCycles      prometheus.Counter
	displayWrites   prometheus.Counter
	writesSkipped   prometheus.Counter
	cacheServes     prometheus.Counter
	configReloads   prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		refreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkframe_refresh_total",
			Help: "Refresh cycles by trigger type and result",
		}, []string{"type", "result"}),
		refreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "inkframe_refresh_duration_seconds",
			Help:    "Wall time of completed refresh cycles",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		idleCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "inkframe_idle_cycles_total",
			Help: "Scheduler ticks that found no active playlist instance",
		}),
		displayWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "inkframe_display_writes_total",
			Help: "Physical panel writes",
		}),
		writesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "inkframe_display_writes_skipped_total",
			Help: "Panel writes suppressed because the content hash was unchanged",
		}),
		cacheServes: f.NewCounter(prometheus.CounterOpts{
			Name: "inkframe_frame_cache_serves_total",
			Help: "Cycles served from the per-instance frame cache without rendering",
		}),
		configReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "inkframe_config_reloads_total",
			Help: "Device config reloads picked up from disk",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Run consumes bus events and folds them into counters until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.record(ev)
		}
	}
}

func (m *Metrics) record(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeRefreshCompleted:
		re, ok := ev.Data.(eventbus.RefreshEvent)
		if !ok {
			return
		}
		m.refreshTotal.WithLabelValues(re.RefreshType, "completed").Inc()
		m.refreshDuration.Observe(float64(re.Took) / float64(time.Second))
		if re.WriteSkipped {
			m.writesSkipped.Inc()
		}
		if re.Cached {
			m.cacheServes.Inc()
		}
	case eventbus.TypeRefreshFailed:
		re, ok := ev.Data.(eventbus.RefreshEvent)
		if !ok {
			return
		}
		m.refreshTotal.WithLabelValues(re.RefreshType, "failed").Inc()
	case eventbus.TypeRefreshIdle:
		// Idle ticks are not refresh results; counting them into
		// refreshTotal would drown the dedup/cache skip signal.
		m.idleCycles.Inc()
	case eventbus.TypeDisplayWrite:
		m.displayWrites.Inc()
	case eventbus.TypeConfigPublished:
		m.configReloads.Inc()
	}
}

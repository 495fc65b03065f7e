package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus instrumentation for the bot.
// A nil *Metrics is a valid no-op recorder, so components can run
// uninstrumented in tests.
type Metrics struct {
	DepthDiffsApplied prometheus.Counter
	DepthDiffsStale   prometheus.Counter
	DepthGaps         prometheus.Counter
	SnapshotsFetched  prometheus.Counter
	SnapshotFailures  prometheus.Counter
	StreamReconnects  prometheus.Counter
	TrackedSymbols    prometheus.Gauge

	OrdersOpened   *prometheus.CounterVec
	OrderFills     *prometheus.CounterVec
	OrdersCanceled prometheus.Counter

	RestRequests *prometheus.CounterVec
	StoreDropped prometheus.Counter

	CycleDurationMs prometheus.Histogram
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a caller-supplied registry, which keeps
// repeated construction in tests panic-free.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DepthDiffsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_depth_diffs_applied_total",
			Help: "Depth diffs applied to a synced book",
		}),
		DepthDiffsStale: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_depth_diffs_stale_total",
			Help: "Depth diffs discarded as stale (u <= lastUpdateId)",
		}),
		DepthGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_depth_gaps_total",
			Help: "Update-id gaps that forced a book resync",
		}),
		SnapshotsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_snapshots_fetched_total",
			Help: "REST depth snapshots applied",
		}),
		SnapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_snapshot_failures_total",
			Help: "REST depth snapshot attempts that failed",
		}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_stream_reconnects_total",
			Help: "WebSocket sessions opened after the first",
		}),
		TrackedSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "titan_tracked_symbols",
			Help: "Symbols currently tracked by the market data hub",
		}),
		OrdersOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_orders_opened_total",
			Help: "Orders opened by execution mode",
		}, []string{"mode"}),
		OrderFills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_order_fills_total",
			Help: "Fill events by reason",
		}, []string{"reason"}),
		OrdersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_orders_canceled_total",
			Help: "Orders locally marked canceled",
		}),
		RestRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_rest_requests_total",
			Help: "Exchange REST calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		StoreDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "titan_store_dropped_total",
			Help: "Async persistence writes dropped on overflow",
		}),
		CycleDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "titan_cycle_duration_ms",
			Help:    "Decision engine cycle duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}

// RecordDiffApplied counts a successfully applied depth diff.
func (m *Metrics) RecordDiffApplied() {
	if m == nil {
		return
	}
	m.DepthDiffsApplied.Inc()
}

// RecordDiffStale counts a discarded stale diff.
func (m *Metrics) RecordDiffStale() {
	if m == nil {
		return
	}
	m.DepthDiffsStale.Inc()
}

// RecordGap counts a detected update-id gap.
func (m *Metrics) RecordGap() {
	if m == nil {
		return
	}
	m.DepthGaps.Inc()
}

// RecordSnapshot counts an applied snapshot.
func (m *Metrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.SnapshotsFetched.Inc()
}

// RecordSnapshotFailure counts a failed snapshot attempt.
func (m *Metrics) RecordSnapshotFailure() {
	if m == nil {
		return
	}
	m.SnapshotFailures.Inc()
}

// RecordReconnect counts a stream reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.StreamReconnects.Inc()
}

// SetTrackedSymbols reports the current subscription count.
func (m *Metrics) SetTrackedSymbols(n int) {
	if m == nil {
		return
	}
	m.TrackedSymbols.Set(float64(n))
}

// RecordOrderOpened counts an opened order by mode.
func (m *Metrics) RecordOrderOpened(mode string) {
	if m == nil {
		return
	}
	m.OrdersOpened.WithLabelValues(mode).Inc()
}

// RecordFill counts a fill event by reason.
func (m *Metrics) RecordFill(reason string) {
	if m == nil {
		return
	}
	m.OrderFills.WithLabelValues(reason).Inc()
}

// RecordCancel counts a local cancel.
func (m *Metrics) RecordCancel() {
	if m == nil {
		return
	}
	m.OrdersCanceled.Inc()
}

// RecordRestRequest counts an exchange REST call.
func (m *Metrics) RecordRestRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RestRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordStoreDropped counts an async write dropped on overflow.
func (m *Metrics) RecordStoreDropped() {
	if m == nil {
		return
	}
	m.StoreDropped.Inc()
}

// ObserveCycle records one engine cycle duration.
func (m *Metrics) ObserveCycle(ms float64) {
	if m == nil {
		return
	}
	m.CycleDurationMs.Observe(ms)
}

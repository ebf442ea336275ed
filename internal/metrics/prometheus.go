// Package metrics exposes trader activity as Prometheus series.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TierTrader/internal/model"
)

// Recorder holds every series. All methods are safe on a nil receiver so
// components can run without metrics.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	orders        *prometheus.CounterVec
	orderDuration *prometheus.HistogramVec
	gaps          *prometheus.CounterVec
	receipts      *prometheus.CounterVec
	sourceFetches *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	price         prometheus.Gauge
	drawdown      prometheus.Gauge
	openTrades    prometheus.Gauge
	guardTrips    prometheus.Counter
}

// New registers the series on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiertrader_cycles_total",
				Help: "Trading cycles by action taken",
			},
			[]string{"action"},
		),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiertrader_cycle_duration_seconds",
			Help:    "Duration of a full trading cycle",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiertrader_orders_total",
				Help: "Orders by side and final state",
			},
			[]string{"side", "state"},
		),
		orderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tiertrader_order_duration_seconds",
				Help:    "Time from quote creation to final state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"side"},
		),
		gaps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiertrader_reconciliation_gaps_total",
				Help: "Fills the ledger failed to record",
			},
			[]string{"side"},
		),
		receipts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiertrader_receipts_total",
				Help: "Receipt creation attempts by result",
			},
			[]string{"result"},
		),
		sourceFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiertrader_source_fetches_total",
				Help: "Price source fetches by result",
			},
			[]string{"source", "result"},
		),
		sourceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tiertrader_source_latency_seconds",
				Help:    "Price source response time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		price: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiertrader_price_eur",
			Help: "Last consolidated BTC price in EUR",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiertrader_drawdown_percent",
			Help: "Last drawdown from the six-month high",
		}),
		openTrades: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiertrader_open_trades",
			Help: "Open buy trades in the ledger",
		}),
		guardTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "tiertrader_guard_trips_total",
			Help: "Buys skipped as duplicates",
		}),
	}
}

func (r *Recorder) CycleFinished(action string, d time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(action).Inc()
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) OrderFinished(side model.Side, state string, d time.Duration) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(string(side), state).Inc()
	r.orderDuration.WithLabelValues(string(side)).Observe(d.Seconds())
}

func (r *Recorder) ReconciliationGap(side model.Side) {
	if r == nil {
		return
	}
	r.gaps.WithLabelValues(string(side)).Inc()
}

func (r *Recorder) Receipt(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.receipts.WithLabelValues(result).Inc()
}

func (r *Recorder) GuardTripped() {
	if r == nil {
		return
	}
	r.guardTrips.Inc()
}

// ObservePrice records one consolidation and the per-source outcome.
func (r *Recorder) ObservePrice(cp *model.ConsolidatedPrice) {
	if r == nil || cp == nil {
		return
	}
	r.price.Set(cp.Price)
	r.drawdown.Set(cp.Drawdown())
	for _, s := range cp.Samples {
		result := "ok"
		if !s.Success {
			result = "error"
		}
		r.sourceFetches.WithLabelValues(s.Source, result).Inc()
		r.sourceLatency.WithLabelValues(s.Source).Observe(s.Latency.Seconds())
	}
}

func (r *Recorder) SetOpenTrades(n int) {
	if r == nil {
		return
	}
	r.openTrades.Set(float64(n))
}

// ErrNoRegistry is returned by Gatherer when the registerer cannot gather.
var ErrNoRegistry = errors.New("registerer is not a gatherer")

// Gatherer returns reg as a Gatherer for the /metrics handler.
func Gatherer(reg prometheus.Registerer) (prometheus.Gatherer, error) {
	g, ok := reg.(prometheus.Gatherer)
	if !ok {
		return nil, ErrNoRegistry
	}
	return g, nil
}

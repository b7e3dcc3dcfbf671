package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal    *prometheus.CounterVec
	ticksDropped  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	signalsTotal  *prometheus.CounterVec
	ordersTotal   *prometheus.CounterVec
	tradesTotal   *prometheus.CounterVec
	tradeNetPnL   prometheus.Histogram
	dailyPnL      prometheus.Gauge
	positionState *prometheus.GaugeVec
	connected     prometheus.Gauge
}

var positionStates = []string{"FLAT", "ENTERING", "OPEN", "PARTIAL_EXITING", "CLOSING", "HALTED"}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_ticks_total",
				Help: "Total number of ticks processed",
			},
			[]string{"instrument"},
		),
		ticksDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_ticks_dropped_total",
				Help: "Ticks dropped before reaching the engine",
			},
			[]string{"reason"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optionpilot_last_price",
				Help: "Last recorded price for an instrument",
			},
			[]string{"instrument"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optionpilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_signals_total",
				Help: "Strategy candidates by gauntlet verdict",
			},
			[]string{"strategy", "verdict"},
		),
		ordersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_orders_total",
				Help: "Orders sent to the broker by kind and result",
			},
			[]string{"kind", "result"},
		),
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpilot_trades_total",
				Help: "Completed trades by exit reason",
			},
			[]string{"reason"},
		),
		tradeNetPnL: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "optionpilot_trade_net_pnl",
				Help:    "Net P&L per completed trade",
				Buckets: []float64{-5000, -2000, -1000, -500, -100, 0, 100, 500, 1000, 2000, 5000},
			},
		),
		dailyPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "optionpilot_daily_net_pnl",
				Help: "Realized net P&L for the current day",
			},
		),
		positionState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optionpilot_position_state",
				Help: "1 for the current position state, 0 otherwise",
			},
			[]string{"state"},
		),
		connected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "optionpilot_feed_connected",
				Help: "1 when the market data feed is connected",
			},
		),
	}
}

// RecordTick counts a processed tick and stores its price.
func (r *Recorder) RecordTick(instrument string, price float64) {
	r.ticksTotal.WithLabelValues(instrument).Inc()
	r.lastPrice.WithLabelValues(instrument).Set(price)
}

func (r *Recorder) RecordTickDropped(reason string) {
	r.ticksDropped.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSignal(strategy string, passed bool) {
	verdict := "fail"
	if passed {
		verdict = "pass"
	}
	r.signalsTotal.WithLabelValues(strategy, verdict).Inc()
}

func (r *Recorder) RecordOrder(kind, result string) {
	r.ordersTotal.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) RecordTrade(reason string, netPnL float64) {
	r.tradesTotal.WithLabelValues(reason).Inc()
	r.tradeNetPnL.Observe(netPnL)
}

func (r *Recorder) SetPositionState(state string) {
	for _, s := range positionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.positionState.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) SetDailyPnL(v float64) {
	r.dailyPnL.Set(v)
}

func (r *Recorder) SetConnected(connected bool) {
	if connected {
		r.connected.Set(1)
		return
	}
	r.connected.Set(0)
}

package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP API
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fixedlend",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LendingMetrics wraps collectors tracking lending engine actions and market
// state.
type LendingMetrics struct {
	actions        *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	floatingAssets *prometheus.GaugeVec
	floatingDebt   *prometheus.GaugeVec
	backupBorrowed *prometheus.GaugeVec
	accumulator    *prometheus.GaugeVec
	utilization    *prometheus.GaugeVec
	liquidations   *prometheus.CounterVec
	badDebt        *prometheus.CounterVec
}

// Lending exposes the metrics registry for the lending engine.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		gauge := func(name, help string) *prometheus.GaugeVec {
			return prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fixedlend",
				Subsystem: "market",
				Name:      name,
				Help:      help,
			}, []string{"market"})
		}
		lendingRegistry = &LendingMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "actions_total",
				Help:      "Count of lending actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution for lending actions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Count of rolled back lending actions segmented by action and error kind.",
			}, []string{"action", "kind"}),
			floatingAssets: gauge("floating_assets", "Floating pool assets in underlying units."),
			floatingDebt:   gauge("floating_debt", "Floating pool debt in underlying units."),
			backupBorrowed: gauge("floating_backup_borrowed", "Floating pool liquidity lent into maturities."),
			accumulator:    gauge("earnings_accumulator", "Earnings waiting to be smoothed into floating assets."),
			utilization:    gauge("floating_utilization", "Floating debt over floating assets."),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Count of liquidations segmented by repaid market.",
			}, []string{"market"}),
			badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "market",
				Name:      "bad_debt_cleared_total",
				Help:      "Underlying units of bad debt cleared against earnings.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.actions,
			lendingRegistry.latency,
			lendingRegistry.failures,
			lendingRegistry.floatingAssets,
			lendingRegistry.floatingDebt,
			lendingRegistry.backupBorrowed,
			lendingRegistry.accumulator,
			lendingRegistry.utilization,
			lendingRegistry.liquidations,
			lendingRegistry.badDebt,
		)
	})
	return lendingRegistry
}

// ObserveAction records the execution metrics for one lending action. kind
// is the error taxonomy label and empty on success.
func (m *LendingMetrics) ObserveAction(action string, duration time.Duration, kind string) {
	if m == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unknown"
	}
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.failures.WithLabelValues(action, kind).Inc()
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// MarketState is the floating pool snapshot exported as gauges. Values are
// already converted from fixed point.
type MarketState struct {
	FloatingAssets      float64
	FloatingDebt        float64
	BackupBorrowed      float64
	EarningsAccumulator float64
	Utilization         float64
}

// RecordMarket updates the market gauges.
func (m *LendingMetrics) RecordMarket(market string, state MarketState) {
	if m == nil {
		return
	}
	m.floatingAssets.WithLabelValues(market).Set(state.FloatingAssets)
	m.floatingDebt.WithLabelValues(market).Set(state.FloatingDebt)
	m.backupBorrowed.WithLabelValues(market).Set(state.BackupBorrowed)
	m.accumulator.WithLabelValues(market).Set(state.EarningsAccumulator)
	m.utilization.WithLabelValues(market).Set(state.Utilization)
}

// RecordLiquidation counts a liquidation repaid in market.
func (m *LendingMetrics) RecordLiquidation(market string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(market).Inc()
}

// RecordBadDebt adds cleared bad debt for market.
func (m *LendingMetrics) RecordBadDebt(market string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.badDebt.WithLabelValues(market).Add(amount)
}

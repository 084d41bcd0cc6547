// Package metrics defines the Prometheus collectors for submit latency,
// risk rejections, rate-limiter waits, active orders and backtest runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric this service exposes. Construct one
// instance and register it once at startup.
type Collectors struct {
	SubmitLatency    *prometheus.HistogramVec
	RejectionsByRule *prometheus.CounterVec
	RateLimiterWait  *prometheus.HistogramVec
	ActiveOrders     *prometheus.GaugeVec
	BacktestDuration prometheus.Histogram
}

// NewCollectors constructs and registers the collectors against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		SubmitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: "execution",
			Name:      "submit_order_seconds",
			Help:      "Latency of the submit_order pipeline, by venue.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),

		RejectionsByRule: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Order rejections by the policy that rejected them.",
		}, []string{"policy"}),

		RateLimiterWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent blocked on a venue's rate limiter.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),

		ActiveOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trading",
			Subsystem: "oms",
			Name:      "active_orders",
			Help:      "Currently non-terminal tracked orders, by venue.",
		}, []string{"venue"}),

		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: "backtest",
			Name:      "run_seconds",
			Help:      "Wall-clock duration of a completed backtest run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(c.SubmitLatency, c.RejectionsByRule, c.RateLimiterWait, c.ActiveOrders, c.BacktestDuration)
	return c
}

// ObserveSubmit records the duration of one submit_order call.
func (c *Collectors) ObserveSubmit(venue string, d time.Duration) {
	c.SubmitLatency.WithLabelValues(venue).Observe(d.Seconds())
}

// RecordRejection increments the rejection counter for each violated policy.
func (c *Collectors) RecordRejection(policies []string) {
	for _, p := range policies {
		c.RejectionsByRule.WithLabelValues(p).Inc()
	}
}

// ObserveRateLimiterWait records time spent blocked on a venue's bucket.
func (c *Collectors) ObserveRateLimiterWait(venue string, d time.Duration) {
	c.RateLimiterWait.WithLabelValues(venue).Observe(d.Seconds())
}

// SetActiveOrders sets the current non-terminal order gauge for a venue.
func (c *Collectors) SetActiveOrders(venue string, count int) {
	c.ActiveOrders.WithLabelValues(venue).Set(float64(count))
}

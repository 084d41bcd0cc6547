package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/ids"
)

// metricSample formats a labeled event sample for Context.RecordMetric's
// free-form buffer, e.g. "strategy.order_placed market=BTC-USD side=buy".
func metricSample(name string, market ids.MarketID, labels map[string]string) string {
	sample := fmt.Sprintf("%s market=%s", name, market)
	for k, v := range labels {
		sample += fmt.Sprintf(" %s=%s", k, v)
	}
	return sample
}

// metricValueSample formats a gauge-style sample carrying a numeric value.
func metricValueSample(name string, market ids.MarketID, value float64) string {
	return fmt.Sprintf("%s market=%s value=%g", name, market, value)
}

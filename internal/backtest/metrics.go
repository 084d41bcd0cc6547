package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// Metrics summarizes a backtest Result. Fields degrade to well-defined
// zero values (not NaN) when there are no trades or fewer than two
// equity samples, so callers never have to special-case an empty run.
type Metrics struct {
	TotalReturnAbs decimal.Decimal
	TotalReturnPct decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    float64
	WinRate        decimal.Decimal
	AvgTradePnL    decimal.Decimal
	FinalCapital   decimal.Decimal
	TradeCount     int
}

// Calculate folds a Result into summary Metrics.
func Calculate(result *Result, initialCapital decimal.Decimal) Metrics {
	m := Metrics{FinalCapital: initialCapital}

	if len(result.EquityCurve) == 0 {
		return m
	}
	m.FinalCapital = result.EquityCurve[len(result.EquityCurve)-1].Equity

	if !initialCapital.IsZero() {
		m.TotalReturnAbs = m.FinalCapital.Sub(initialCapital)
		m.TotalReturnPct = m.TotalReturnAbs.Div(initialCapital)
	}

	m.MaxDrawdownPct = maxDrawdown(result.EquityCurve)
	m.SharpeRatio = sharpeRatio(result.EquityCurve)

	m.TradeCount = len(result.Trades)
	if m.TradeCount == 0 {
		return m
	}

	var wins int
	var totalPnL decimal.Decimal
	for _, t := range result.Trades {
		totalPnL = totalPnL.Add(t.PnL)
		if t.PnL.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(m.TradeCount)))
	m.AvgTradePnL = totalPnL.Div(decimal.NewFromInt(int64(m.TradeCount)))

	return m
}

// maxDrawdown returns the largest peak-to-trough decline as a
// fraction of the running peak.
func maxDrawdown(curve []EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	peak := curve[0].Equity
	maxDD := decimal.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(p.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio computes the mean/stddev of inter-sample returns,
// annualized by sqrt(252) per spec.md's convention (carried from the
// teacher's own annualization factor).
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	stdDev := math.Sqrt(sumSq / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(252)
}

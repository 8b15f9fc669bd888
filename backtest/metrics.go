package backtest

import (
	"math"

	"mytrade/portfolio"
)

// PerformanceMetrics is derived once, at run completion, from the full
// equity-curve sequence.
type PerformanceMetrics struct {
	TotalReturn   float64 `json:"total_return"`
	AnnualReturn  float64 `json:"annual_return"`
	Volatility    float64 `json:"volatility"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	// SharpeDefined is false when the return series has zero variance;
	// SharpeRatio is then a sentinel zero, not a computed value.
	SharpeDefined bool    `json:"sharpe_defined"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	WinRate       float64 `json:"win_rate"`
	TradingDays   int     `json:"trading_days"`
	TradeCount    int     `json:"trade_count"`
	RejectedCount int     `json:"rejected_count"`
}

// computeMetrics derives the full metric set from the equity curve.
// periodsPerYear is the annualization base (252 for daily bars).
func computeMetrics(curve []portfolio.Snapshot, periodsPerYear, tradeCount, rejectedCount int) PerformanceMetrics {
	m := PerformanceMetrics{
		TradingDays:   len(curve),
		TradeCount:    tradeCount,
		RejectedCount: rejectedCount,
	}
	if len(curve) == 0 {
		return m
	}

	equities := make([]float64, len(curve))
	for i, s := range curve {
		equities[i] = s.Equity.InexactFloat64()
	}

	first, last := equities[0], equities[len(equities)-1]
	if first > 0 {
		m.TotalReturn = last/first - 1
	}

	// Daily returns r_t = equity_t/equity_{t-1} - 1.
	returns := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		if equities[i-1] > 0 {
			returns = append(returns, equities[i]/equities[i-1]-1)
		}
	}

	if n := len(returns); n > 0 {
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(n)

		variance := 0.0
		for _, r := range returns {
			d := r - mean
			variance += d * d
		}
		if n > 1 {
			variance /= float64(n - 1)
		}
		std := math.Sqrt(variance)

		m.Volatility = std * math.Sqrt(float64(periodsPerYear))
		if std > 0 {
			m.SharpeRatio = mean / std * math.Sqrt(float64(periodsPerYear))
			m.SharpeDefined = true
		}

		wins := 0
		for _, r := range returns {
			if r > 0 {
				wins++
			}
		}
		m.WinRate = float64(wins) / float64(n)
	}

	if len(curve) > 0 {
		years := float64(len(curve)) / float64(periodsPerYear)
		if years > 0 && m.TotalReturn > -1 {
			m.AnnualReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
		}
	}

	m.MaxDrawdown = maxDrawdown(equities)
	return m
}

// maxDrawdown tracks a single running maximum over the ordered curve and
// returns the deepest decline as a negative fraction of that peak.
func maxDrawdown(equities []float64) float64 {
	if len(equities) == 0 {
		return 0
	}
	peak := equities[0]
	worst := 0.0
	for _, e := range equities {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (e - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

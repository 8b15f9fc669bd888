package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mytrade/portfolio"
)

func curveOf(equities ...int64) []portfolio.Snapshot {
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.Local)
	snaps := make([]portfolio.Snapshot, len(equities))
	for i, e := range equities {
		snaps[i] = portfolio.Snapshot{
			Time:   base.AddDate(0, 0, i),
			Equity: decimal.NewFromInt(e),
		}
	}
	return snaps
}

func TestMaxDrawdownRunningPeak(t *testing.T) {
	m := computeMetrics(curveOf(100, 120, 90, 130, 80), 252, 0, 0)

	// Deepest decline is 130 -> 80, not 120 -> 90.
	want := (80.0 - 130.0) / 130.0
	if math.Abs(m.MaxDrawdown-want) > 1e-9 {
		t.Fatalf("max drawdown = %v, want %v", m.MaxDrawdown, want)
	}
	if m.MaxDrawdown >= 0 {
		t.Fatalf("drawdown must be negative, got %v", m.MaxDrawdown)
	}
}

func TestMonotonicCurveHasZeroDrawdown(t *testing.T) {
	m := computeMetrics(curveOf(100, 101, 105, 110), 252, 0, 0)
	if m.MaxDrawdown != 0 {
		t.Fatalf("max drawdown = %v, want 0", m.MaxDrawdown)
	}
}

func TestSharpeUndefinedOnFlatCurve(t *testing.T) {
	m := computeMetrics(curveOf(100, 100, 100, 100), 252, 0, 0)
	if m.SharpeDefined {
		t.Fatal("sharpe must be undefined for a zero-variance return series")
	}
	if m.SharpeRatio != 0 {
		t.Fatalf("sharpe sentinel = %v, want 0", m.SharpeRatio)
	}
	if m.Volatility != 0 {
		t.Fatalf("volatility = %v, want 0", m.Volatility)
	}
}

func TestSharpeAnnualization(t *testing.T) {
	m := computeMetrics(curveOf(100, 110, 100, 110, 100), 252, 0, 0)
	if !m.SharpeDefined {
		t.Fatal("sharpe must be defined for a varying return series")
	}

	returns := []float64{0.10, -1.0 / 11.0, 0.10, -1.0 / 11.0}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= 4
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= 3 // sample variance
	want := mean / math.Sqrt(variance) * math.Sqrt(252)

	if math.Abs(m.SharpeRatio-want) > 1e-9 {
		t.Fatalf("sharpe = %v, want %v", m.SharpeRatio, want)
	}
}

func TestTotalReturnAndWinRate(t *testing.T) {
	m := computeMetrics(curveOf(100, 110, 99, 121), 252, 7, 2)

	if math.Abs(m.TotalReturn-0.21) > 1e-9 {
		t.Fatalf("total return = %v, want 0.21", m.TotalReturn)
	}
	// 2 up days out of 3 returns.
	if math.Abs(m.WinRate-2.0/3.0) > 1e-9 {
		t.Fatalf("win rate = %v, want 2/3", m.WinRate)
	}
	if m.TradeCount != 7 || m.RejectedCount != 2 {
		t.Fatalf("counts = %d/%d, want 7/2", m.TradeCount, m.RejectedCount)
	}
	if m.TradingDays != 4 {
		t.Fatalf("trading days = %d, want 4", m.TradingDays)
	}
}

func TestEmptyCurve(t *testing.T) {
	m := computeMetrics(nil, 252, 0, 0)
	if m.TotalReturn != 0 || m.MaxDrawdown != 0 || m.SharpeDefined {
		t.Fatalf("empty curve must yield zero metrics: %+v", m)
	}
}

package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mytrade/fees"
	"mytrade/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func newManager(t *testing.T, cash string, allowShort bool) *Manager {
	t.Helper()
	m, err := NewManager(dec(cash), allowShort, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// Scenario A from the cost model: 1,000,000 cash, BUY 100 shares at 45.0
// with commission rate 0.0003 floored at 5 and no other fees leaves
// exactly 995,495.
func TestBuyCommissionFloorCash(t *testing.T) {
	m := newManager(t, "1000000", false)
	cfg := fees.Config{CommissionRate: dec("0.0003"), MinCommission: dec("5")}

	tr, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("45.0"), day(2024, 3, 4), cfg, "")
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if !tr.Fees.Commission.Equal(dec("5")) {
		t.Errorf("commission = %s, want 5", tr.Fees.Commission)
	}
	if !tr.CashDelta.Equal(dec("-4505")) {
		t.Errorf("cash delta = %s, want -4505", tr.CashDelta)
	}
	if !m.Cash().Equal(dec("995495")) {
		t.Errorf("cash = %s, want 995495", m.Cash())
	}

	pos, ok := m.Position("sh600000")
	if !ok || pos.Shares != 100 {
		t.Fatalf("position = %+v, want 100 shares", pos)
	}
	if !pos.AvgCost.Equal(dec("45")) {
		t.Errorf("avg cost = %s, want 45", pos.AvgCost)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	m := newManager(t, "1000000", false)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sz000001", model.DirectionBuy, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := m.ExecuteTrade("sz000001", model.DirectionBuy, 300, dec("14"), day(2024, 3, 5), cfg, ""); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	pos, _ := m.Position("sz000001")
	// (100*10 + 300*14) / 400 = 13
	if !pos.AvgCost.Equal(dec("13")) {
		t.Errorf("avg cost = %s, want 13", pos.AvgCost)
	}
	if pos.Shares != 400 {
		t.Errorf("shares = %d, want 400", pos.Shares)
	}
}

func TestSellRealizedPnLAndRemoval(t *testing.T) {
	m := newManager(t, "100000", false)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600519", model.DirectionBuy, 200, dec("50"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	tr, err := m.ExecuteTrade("sh600519", model.DirectionSell, 100, dec("60"), day(2024, 3, 5), cfg, "")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	// (60-50)*100 = 1000
	if !tr.RealizedPnL.Equal(dec("1000")) {
		t.Errorf("realized pnl = %s, want 1000", tr.RealizedPnL)
	}

	pos, ok := m.Position("sh600519")
	if !ok || pos.Shares != 100 {
		t.Fatalf("position = %+v, want 100 shares left", pos)
	}
	// Average cost untouched by the sell.
	if !pos.AvgCost.Equal(dec("50")) {
		t.Errorf("avg cost = %s, want 50", pos.AvgCost)
	}

	if _, err := m.ExecuteTrade("sh600519", model.DirectionSell, 100, dec("55"), day(2024, 3, 6), cfg, ""); err != nil {
		t.Fatalf("final sell: %v", err)
	}
	if _, ok := m.Position("sh600519"); ok {
		t.Error("position must be removed at zero shares")
	}
}

// Scenario C: overselling with shorting disabled leaves state untouched.
func TestOversellRejectedAtomically(t *testing.T) {
	m := newManager(t, "100000", false)
	cfg := fees.Config{CommissionRate: dec("0.0003"), MinCommission: dec("5")}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	cashBefore := m.Cash()
	posBefore, _ := m.Position("sh600000")

	_, err := m.ExecuteTrade("sh600000", model.DirectionSell, 500, dec("10"), day(2024, 3, 5), cfg, "")
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}

	if !m.Cash().Equal(cashBefore) {
		t.Errorf("cash changed on rejected trade: %s -> %s", cashBefore, m.Cash())
	}
	posAfter, _ := m.Position("sh600000")
	if posAfter.Shares != posBefore.Shares {
		t.Errorf("position changed on rejected trade: %+v -> %+v", posBefore, posAfter)
	}
	if len(m.Trades()) != 1 {
		t.Errorf("trade log grew on rejected trade: %d entries", len(m.Trades()))
	}
}

func TestInsufficientFunds(t *testing.T) {
	m := newManager(t, "1000", false)
	cfg := fees.Config{CommissionRate: dec("0.0003"), MinCommission: dec("5")}

	_, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 1000, dec("10"), day(2024, 3, 4), cfg, "")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if !m.Cash().Equal(dec("1000")) {
		t.Errorf("cash = %s, want unchanged 1000", m.Cash())
	}
}

func TestAllowShortGoesNegative(t *testing.T) {
	m := newManager(t, "100000", true)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("short sell: %v", err)
	}
	pos, ok := m.Position("sh600000")
	if !ok || pos.Shares != -100 {
		t.Errorf("position = %+v, want -100 shares", pos)
	}
}

func TestShortOpenRealizesNothing(t *testing.T) {
	m := newManager(t, "100000", true)
	cfg := fees.Config{}

	tr, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("10"), day(2024, 3, 4), cfg, "")
	if err != nil {
		t.Fatalf("short open: %v", err)
	}
	// Opening a short closes nothing; proceeds are not profit.
	if !tr.RealizedPnL.IsZero() {
		t.Errorf("realized pnl = %s, want 0 on short open", tr.RealizedPnL)
	}
	pos, _ := m.Position("sh600000")
	if !pos.AvgCost.Equal(dec("10")) {
		t.Errorf("short avg cost = %s, want entry price 10", pos.AvgCost)
	}

	// Extending the short averages the entry prices.
	if _, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("12"), day(2024, 3, 5), cfg, ""); err != nil {
		t.Fatalf("short extend: %v", err)
	}
	pos, _ = m.Position("sh600000")
	if pos.Shares != -200 || !pos.AvgCost.Equal(dec("11")) {
		t.Errorf("position = %+v, want -200 shares at avg 11", pos)
	}
}

func TestShortCoverToFlat(t *testing.T) {
	m := newManager(t, "100000", true)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("short open: %v", err)
	}
	// Buying back the exact shorted quantity must flatten the book, not
	// blow up on the average-cost division.
	tr, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("10"), day(2024, 3, 5), cfg, "")
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	if !tr.RealizedPnL.IsZero() {
		t.Errorf("realized pnl = %s, want 0 for a flat round trip", tr.RealizedPnL)
	}
	if _, ok := m.Position("sh600000"); ok {
		t.Error("position must be removed at zero shares")
	}
	if !m.Cash().Equal(dec("100000")) {
		t.Errorf("cash = %s, want 100000 back", m.Cash())
	}
}

func TestShortCoverRealizedPnL(t *testing.T) {
	m := newManager(t, "100000", true)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("12"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("short open: %v", err)
	}
	tr, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("10"), day(2024, 3, 5), cfg, "")
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	// Shorted at 12, covered at 10: (12-10)*100.
	if !tr.RealizedPnL.Equal(dec("200")) {
		t.Errorf("realized pnl = %s, want 200", tr.RealizedPnL)
	}
}

func TestShortCoverFlipsLong(t *testing.T) {
	m := newManager(t, "100000", true)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionSell, 100, dec("12"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("short open: %v", err)
	}
	tr, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 300, dec("10"), day(2024, 3, 5), cfg, "")
	if err != nil {
		t.Fatalf("flip: %v", err)
	}
	// Only the 100 covered shares realize; the 200 remainder opens long
	// at the fill price.
	if !tr.RealizedPnL.Equal(dec("200")) {
		t.Errorf("realized pnl = %s, want 200", tr.RealizedPnL)
	}
	pos, ok := m.Position("sh600000")
	if !ok || pos.Shares != 200 || !pos.AvgCost.Equal(dec("10")) {
		t.Errorf("position = %+v, want 200 shares at avg 10", pos)
	}
}

func TestCashAccounting(t *testing.T) {
	m := newManager(t, "500000", false)
	cfg := fees.Config{
		CommissionRate: dec("0.0003"),
		MinCommission:  dec("5"),
		StampDutyRate:  dec("0.001"),
	}

	before := m.Cash()
	tr, err := m.ExecuteTrade("sz000002", model.DirectionBuy, 1000, dec("25"), day(2024, 3, 4), cfg, "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	want := before.Sub(dec("25").Mul(dec("1000"))).Sub(tr.Fees.Total)
	if !m.Cash().Equal(want) {
		t.Errorf("buy cash after fees: got %s, want %s", m.Cash(), want)
	}

	before = m.Cash()
	tr, err = m.ExecuteTrade("sz000002", model.DirectionSell, 1000, dec("26"), day(2024, 3, 5), cfg, "")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	want = before.Add(dec("26").Mul(dec("1000"))).Sub(tr.Fees.Total)
	if !m.Cash().Equal(want) {
		t.Errorf("sell cash after fees: got %s, want %s", m.Cash(), want)
	}
	if m.Cash().IsNegative() {
		t.Error("cash must never go negative")
	}
}

func TestMarkToMarket(t *testing.T) {
	m := newManager(t, "10000", false)
	cfg := fees.Config{}

	if _, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}

	snap, err := m.MarkToMarket(map[string]decimal.Decimal{"sh600000": dec("12")}, day(2024, 3, 4))
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	// 9000 cash + 100*12
	if !snap.Equity.Equal(dec("10200")) {
		t.Errorf("equity = %s, want 10200", snap.Equity)
	}

	// A later snapshot with no fresh price keeps the last known one.
	snap, err = m.MarkToMarket(nil, day(2024, 3, 5))
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !snap.Equity.Equal(dec("10200")) {
		t.Errorf("carry-forward equity = %s, want 10200", snap.Equity)
	}

	// Duplicate dates are refused.
	if _, err := m.MarkToMarket(nil, day(2024, 3, 5)); !errors.Is(err, ErrStaleSnapshot) {
		t.Errorf("duplicate snapshot date: err = %v, want ErrStaleSnapshot", err)
	}
	if len(m.EquityCurve()) != 2 {
		t.Errorf("curve length = %d, want 2", len(m.EquityCurve()))
	}
}

func TestGetSummaryReadOnly(t *testing.T) {
	m := newManager(t, "10000", false)
	cfg := fees.Config{}
	if _, err := m.ExecuteTrade("sh600000", model.DirectionBuy, 100, dec("10"), day(2024, 3, 4), cfg, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}

	s1 := m.GetSummary()
	s2 := m.GetSummary()
	if !s1.Equity.Equal(s2.Equity) || s1.Trades != s2.Trades {
		t.Error("GetSummary must not mutate state")
	}
	if s1.Positions != 1 || s1.Trades != 1 {
		t.Errorf("summary = %+v, want 1 position, 1 trade", s1)
	}
}

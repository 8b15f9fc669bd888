// Package portfolio owns the simulated account: cash, positions, the
// append-only trade log and the equity curve. State changes only through
// ExecuteTrade and MarkToMarket, and each change is atomic.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mytrade/fees"
	"mytrade/model"
)

var (
	// ErrInsufficientFunds rejects a BUY whose notional plus fees exceeds cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPosition rejects a SELL of more shares than held.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrInvalidTrade rejects malformed trade input.
	ErrInvalidTrade = errors.New("invalid trade")
	// ErrStaleSnapshot rejects a mark-to-market not strictly after the
	// previous snapshot.
	ErrStaleSnapshot = errors.New("snapshot date not after previous snapshot")
)

// Position is one holding with its weighted average cost.
type Position struct {
	Symbol  string          `json:"symbol"`
	Shares  int64           `json:"shares"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// Trade is a committed, fee-inclusive fill. Append-only, permanent.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   model.Direction `json:"direction"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Time        time.Time       `json:"time"`
	Fees        fees.Breakdown  `json:"fees"`
	CashDelta   decimal.Decimal `json:"cash_delta"`   // signed change applied to cash
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // closing legs only, zero when opening
	Reason      string          `json:"reason,omitempty"`
}

// Snapshot is one immutable equity-curve point.
type Snapshot struct {
	Time      time.Time                  `json:"time"`
	Cash      decimal.Decimal            `json:"cash"`
	Positions map[string]decimal.Decimal `json:"positions"` // symbol -> market value
	Equity    decimal.Decimal            `json:"equity"`
}

// Summary is a read-only projection of current state.
type Summary struct {
	Cash      decimal.Decimal            `json:"cash"`
	Equity    decimal.Decimal            `json:"equity"`
	Exposures map[string]decimal.Decimal `json:"exposures"`
	Positions int                        `json:"positions"`
	Trades    int                        `json:"trades"`
}

// Manager holds account state. Not safe for concurrent use; the engine
// serializes every mutation by construction.
type Manager struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*Position
	trades      []Trade
	curve       []Snapshot
	allowShort  bool
	lastPrices  map[string]decimal.Decimal
	logger      *zap.Logger
}

// NewManager starts an account with initialCash. allowShort permits SELLs
// beyond the held quantity (shares may go negative).
func NewManager(initialCash decimal.Decimal, allowShort bool, logger *zap.Logger) (*Manager, error) {
	if initialCash.IsNegative() {
		return nil, fmt.Errorf("%w: negative initial cash %s", ErrInvalidTrade, initialCash)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		lastPrices:  make(map[string]decimal.Decimal),
		allowShort:  allowShort,
		logger:      logger,
	}, nil
}

// Cash returns the current cash balance.
func (m *Manager) Cash() decimal.Decimal { return m.cash }

// InitialCash returns the starting balance.
func (m *Manager) InitialCash() decimal.Decimal { return m.initialCash }

// Position returns the holding for symbol, or false when flat.
func (m *Manager) Position(symbol string) (Position, bool) {
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// PositionCount returns the number of open positions.
func (m *Manager) PositionCount() int { return len(m.positions) }

// ExecuteTrade validates, prices and commits one order atomically: either
// cash, position and trade log all change, or nothing does.
func (m *Manager) ExecuteTrade(symbol string, direction model.Direction, shares int64,
	price decimal.Decimal, ts time.Time, feeCfg fees.Config, reason string) (Trade, error) {

	if symbol == "" {
		return Trade{}, fmt.Errorf("%w: empty symbol", ErrInvalidTrade)
	}
	if shares <= 0 {
		return Trade{}, fmt.Errorf("%w: shares %d", ErrInvalidTrade, shares)
	}
	if price.IsNegative() || price.IsZero() {
		return Trade{}, fmt.Errorf("%w: price %s", ErrInvalidTrade, price)
	}

	breakdown, err := fees.Calculate(direction, shares, price, feeCfg)
	if err != nil {
		return Trade{}, err
	}
	notional := price.Mul(decimal.NewFromInt(shares))

	switch direction {
	case model.DirectionBuy:
		return m.commitBuy(symbol, shares, price, notional, breakdown, ts, reason)
	case model.DirectionSell:
		return m.commitSell(symbol, shares, price, notional, breakdown, ts, reason)
	default:
		return Trade{}, fmt.Errorf("%w: direction %q", ErrInvalidTrade, direction)
	}
}

func (m *Manager) commitBuy(symbol string, shares int64, price, notional decimal.Decimal,
	breakdown fees.Breakdown, ts time.Time, reason string) (Trade, error) {

	cost := notional.Add(breakdown.Total)
	if m.cash.LessThan(cost) {
		return Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, m.cash)
	}

	pos, ok := m.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, AvgCost: decimal.Zero}
		m.positions[symbol] = pos
	}
	oldShares := pos.Shares
	pos.Shares += shares
	realized := decimal.Zero
	if oldShares < 0 {
		// Covering a short realizes P&L against the short's average
		// entry price; the average never changes on a partial cover.
		covered := shares
		if -oldShares < covered {
			covered = -oldShares
		}
		realized = pos.AvgCost.Sub(price).Mul(decimal.NewFromInt(covered))
		if pos.Shares > 0 {
			// Flipped through flat: the remainder opens at price.
			pos.AvgCost = price
		}
	} else {
		// new_avg = (old_shares*old_avg + shares*price) / (old_shares + shares)
		oldBasis := pos.AvgCost.Mul(decimal.NewFromInt(oldShares))
		pos.AvgCost = oldBasis.Add(notional).Div(decimal.NewFromInt(pos.Shares))
	}
	if pos.Shares == 0 {
		delete(m.positions, symbol)
	}

	m.cash = m.cash.Sub(cost)

	trade := Trade{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Direction:   model.DirectionBuy,
		Shares:      shares,
		Price:       price,
		Time:        ts,
		Fees:        breakdown,
		CashDelta:   cost.Neg(),
		RealizedPnL: realized,
		Reason:      reason,
	}
	m.trades = append(m.trades, trade)
	m.logger.Info("trade committed",
		zap.String("symbol", symbol),
		zap.String("direction", "BUY"),
		zap.Int64("shares", shares),
		zap.String("price", price.String()),
		zap.String("fees", breakdown.Total.String()),
		zap.String("cash", m.cash.String()))
	return trade, nil
}

func (m *Manager) commitSell(symbol string, shares int64, price, notional decimal.Decimal,
	breakdown fees.Breakdown, ts time.Time, reason string) (Trade, error) {

	pos, ok := m.positions[symbol]
	if !m.allowShort {
		if !ok {
			return Trade{}, fmt.Errorf("%w: no position in %s", ErrInsufficientPosition, symbol)
		}
		if pos.Shares < shares {
			return Trade{}, fmt.Errorf("%w: want %d, hold %d", ErrInsufficientPosition, shares, pos.Shares)
		}
	}
	if !ok {
		pos = &Position{Symbol: symbol, AvgCost: decimal.Zero}
		m.positions[symbol] = pos
	}

	// P&L realizes only on the closing portion, against the unchanged
	// average cost. A sell on a flat or short book opens, it realizes
	// nothing.
	oldShares := pos.Shares
	closing := int64(0)
	if oldShares > 0 {
		closing = shares
		if oldShares < closing {
			closing = oldShares
		}
	}
	realized := price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(closing))
	proceeds := notional.Sub(breakdown.Total)

	if opened := shares - closing; opened > 0 {
		if oldShares < 0 {
			// Extending a short: weighted average of entry prices.
			oldAbs := -oldShares
			basis := pos.AvgCost.Mul(decimal.NewFromInt(oldAbs))
			pos.AvgCost = basis.Add(price.Mul(decimal.NewFromInt(opened))).
				Div(decimal.NewFromInt(oldAbs + opened))
		} else {
			pos.AvgCost = price
		}
	}
	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(m.positions, symbol)
	}
	m.cash = m.cash.Add(proceeds)

	trade := Trade{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Direction:   model.DirectionSell,
		Shares:      shares,
		Price:       price,
		Time:        ts,
		Fees:        breakdown,
		CashDelta:   proceeds,
		RealizedPnL: realized,
		Reason:      reason,
	}
	m.trades = append(m.trades, trade)
	m.logger.Info("trade committed",
		zap.String("symbol", symbol),
		zap.String("direction", "SELL"),
		zap.Int64("shares", shares),
		zap.String("price", price.String()),
		zap.String("realized_pnl", realized.String()),
		zap.String("cash", m.cash.String()))
	return trade, nil
}

// MarkToMarket values every position at the latest known price and appends
// an immutable snapshot. Prices seen here are remembered, so symbols
// missing from later calls keep their last valuation. Positions are not
// mutated. Snapshot times must be strictly increasing.
func (m *Manager) MarkToMarket(prices map[string]decimal.Decimal, ts time.Time) (Snapshot, error) {
	if n := len(m.curve); n > 0 && !ts.After(m.curve[n-1].Time) {
		return Snapshot{}, fmt.Errorf("%w: %s <= %s", ErrStaleSnapshot,
			ts.Format("2006-01-02"), m.curve[n-1].Time.Format("2006-01-02"))
	}
	for sym, p := range prices {
		m.lastPrices[sym] = p
	}

	vals := make(map[string]decimal.Decimal, len(m.positions))
	equity := m.cash
	for sym, pos := range m.positions {
		price, ok := m.lastPrices[sym]
		if !ok {
			// No price ever observed: carry at cost.
			price = pos.AvgCost
		}
		v := price.Mul(decimal.NewFromInt(pos.Shares))
		vals[sym] = v
		equity = equity.Add(v)
	}

	snap := Snapshot{Time: ts, Cash: m.cash, Positions: vals, Equity: equity}
	m.curve = append(m.curve, snap)
	return snap, nil
}

// EquityCurve returns a copy of the append-only snapshot sequence.
func (m *Manager) EquityCurve() []Snapshot {
	out := make([]Snapshot, len(m.curve))
	copy(out, m.curve)
	return out
}

// Trades returns a copy of the append-only trade log.
func (m *Manager) Trades() []Trade {
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// GetSummary is a read-only projection of equity, cash and exposures.
func (m *Manager) GetSummary() Summary {
	equity := m.cash
	exposures := make(map[string]decimal.Decimal, len(m.positions))
	for sym, pos := range m.positions {
		price, ok := m.lastPrices[sym]
		if !ok {
			price = pos.AvgCost
		}
		v := price.Mul(decimal.NewFromInt(pos.Shares))
		exposures[sym] = v
		equity = equity.Add(v)
	}
	return Summary{
		Cash:      m.cash,
		Equity:    equity,
		Exposures: exposures,
		Positions: len(m.positions),
		Trades:    len(m.trades),
	}
}

// Symbols returns held symbols in ascending order.
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Package backtest replays timestamped signals against historical bars
// into portfolio state, date by date, with strict temporal ordering: a
// decision made on day D can only ever fill on a later session.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mytrade/calendar"
	"mytrade/fees"
	"mytrade/model"
	"mytrade/portfolio"
	"mytrade/temporal"
)

// Engine orchestrates the per-date simulation loop. It exclusively owns
// the portfolio manager; all state transitions happen on its single
// execution sequence.
type Engine struct {
	cfg    RunConfig
	cal    *calendar.Calendar
	guard  *temporal.Guard
	data   DataProvider
	gen    SignalGenerator
	logger *zap.Logger
}

// New validates cfg against the calendar horizon and wires the engine.
// Configuration and horizon problems are fatal here, before any
// simulation state exists.
func New(cfg RunConfig, cal *calendar.Calendar, data DataProvider, gen SignalGenerator, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cal == nil || data == nil || gen == nil {
		return nil, fmt.Errorf("%w: calendar, data provider and signal generator are required", ErrConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// The whole simulated range must sit inside the calendar horizon.
	if _, err := cal.IsTradingDay(cfg.Start); err != nil {
		return nil, fmt.Errorf("run start: %w", err)
	}
	if _, err := cal.IsTradingDay(cfg.End); err != nil {
		return nil, fmt.Errorf("run end: %w", err)
	}
	guard, err := temporal.NewGuard(cal, cfg.RejectPolicy, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &Engine{cfg: cfg, cal: cal, guard: guard, data: data, gen: gen, logger: logger}, nil
}

// run-scoped mutable state
type runState struct {
	pm        *portfolio.Manager
	history   map[string][]model.Bar          // per symbol, ascending
	dayBars   map[string]model.Bar            // current date only
	pending   []pendingOrder                  // scheduled, not yet filled
	anomalies []Anomaly
	signals   []SignalRecord
}

// Run executes the simulation over the configured date range. Identical
// inputs always produce an identical trade log and equity curve.
// Cancellation is honored at date boundaries; a cancelled run keeps every
// committed snapshot and reports StatusPartial.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	startedAt := time.Now()

	symbols := append([]string(nil), e.cfg.Symbols...)
	sort.Strings(symbols)

	pm, err := portfolio.NewManager(e.cfg.InitialCash, e.cfg.AllowShort, e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	st := &runState{
		pm:      pm,
		history: make(map[string][]model.Bar, len(symbols)),
	}

	if err := e.warmup(ctx, st, symbols); err != nil {
		return nil, err
	}

	status := StatusCompleted
	start := calendar.Midnight(e.cfg.Start)
	end := calendar.Midnight(e.cfg.End)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			status = StatusPartial
			e.logger.Warn("run cancelled", zap.String("date", day.Format(calendar.DateLayout)))
		default:
		}
		if status == StatusPartial {
			break
		}

		trading, err := e.cal.IsTradingDay(day)
		if err != nil {
			// Horizon violations are fatal with full context.
			return nil, fmt.Errorf("simulate %s: %w", day.Format(calendar.DateLayout), err)
		}
		if !trading {
			e.logger.Debug("skipping non-trading day", zap.String("date", day.Format(calendar.DateLayout)))
			continue
		}

		e.ingestDayBars(ctx, st, symbols, day)
		e.executeDue(st, day)
		e.collectSignals(ctx, st, symbols, day)

		prices := make(map[string]decimal.Decimal, len(st.dayBars))
		for sym, bar := range st.dayBars {
			prices[sym] = decimal.NewFromFloat(bar.Close)
		}
		if _, err := st.pm.MarkToMarket(prices, day); err != nil {
			// Dates advance strictly, so this indicates a programming
			// error rather than bad input.
			return nil, fmt.Errorf("mark to market %s: %w", day.Format(calendar.DateLayout), err)
		}
	}

	// Orders still waiting for a session after the range ended.
	for _, p := range st.pending {
		st.anomalies = append(st.anomalies, Anomaly{
			Time:     p.signal.Time,
			Symbol:   p.signal.Symbol,
			SignalID: p.signal.ID,
			Code:     ReasonRunEnded,
			Detail: fmt.Sprintf("execution session %s falls outside the run range",
				p.day.Format(calendar.DateLayout)),
		})
	}

	rejections := e.guard.Rejections()
	trades := st.pm.Trades()
	rejected := len(rejections)
	for _, a := range st.anomalies {
		if a.Code == ReasonInsufficientFunds || a.Code == ReasonInsufficientPosition {
			rejected++
		}
	}

	res := &Result{
		Status:      status,
		Start:       start,
		End:         end,
		Symbols:     symbols,
		Trades:      trades,
		EquityCurve: st.pm.EquityCurve(),
		Signals:     st.signals,
		Anomalies:   st.anomalies,
		Rejections:  rejections,
		Summary:     st.pm.GetSummary(),
		Metrics: computeMetrics(st.pm.EquityCurve(), e.cfg.PeriodsPerYear,
			len(trades), rejected),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	e.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("trades", len(trades)),
		zap.Int("snapshots", len(res.EquityCurve)),
		zap.Int("rejections", rejected))
	return res, nil
}

// warmup preloads history strictly before the run start so generators
// have lookback data on day one.
func (e *Engine) warmup(ctx context.Context, st *runState, symbols []string) error {
	if e.cfg.WarmupDays <= 0 {
		return nil
	}
	// Twice the warmup in natural days covers weekends and holidays.
	from := e.cfg.Start.AddDate(0, 0, -2*e.cfg.WarmupDays)
	to := e.cfg.Start.AddDate(0, 0, -1)
	for _, sym := range symbols {
		bars, err := e.fetchBars(ctx, sym, from, to)
		if err != nil {
			e.logger.Warn("warmup fetch failed",
				zap.String("symbol", sym), zap.Error(err))
			continue
		}
		st.history[sym] = append(st.history[sym], bars...)
	}
	return nil
}

// ingestDayBars pulls the current date's bar per symbol and appends it to
// the rolling history. A missing bar (suspension, listing gap) is normal
// and simply leaves the symbol absent from dayBars.
func (e *Engine) ingestDayBars(ctx context.Context, st *runState, symbols []string, day time.Time) {
	st.dayBars = make(map[string]model.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := e.fetchBars(ctx, sym, day, day)
		if err != nil {
			e.logger.Warn("bar fetch failed",
				zap.String("symbol", sym),
				zap.String("date", day.Format(calendar.DateLayout)),
				zap.Error(err))
			continue
		}
		for _, b := range bars {
			if calendar.Midnight(b.Time).Equal(day) {
				st.dayBars[sym] = b
				st.history[sym] = append(st.history[sym], b)
				break
			}
		}
	}
}

// fetchBars wraps the provider with the engine-owned timeout and bounded
// retry policy.
func (e *Engine) fetchBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.SignalRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.SignalTimeout)
		bars, err := e.data.GetBars(callCtx, symbol, start, end)
		cancel()
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// executeDue fills every pending order scheduled for day, in a fixed
// deterministic order: SELLs first (ascending symbol), then BUYs by
// descending confidence with ascending symbol as tie-break.
func (e *Engine) executeDue(st *runState, day time.Time) {
	var due, rest []pendingOrder
	for _, p := range st.pending {
		if p.day.Equal(day) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	st.pending = rest
	if len(due) == 0 {
		return
	}

	sort.SliceStable(due, func(i, j int) bool {
		si, sj := due[i].signal, due[j].signal
		if si.Action != sj.Action {
			return si.Action == model.ActionSell
		}
		if si.Action == model.ActionBuy && si.Confidence != sj.Confidence {
			return si.Confidence > sj.Confidence
		}
		return si.Symbol < sj.Symbol
	})

	for _, p := range due {
		e.executeOrder(st, p, day)
	}
}

func (e *Engine) executeOrder(st *runState, p pendingOrder, day time.Time) {
	sig := p.signal
	bar, ok := st.dayBars[sig.Symbol]
	if !ok {
		st.anomalies = append(st.anomalies, Anomaly{
			Time: day, Symbol: sig.Symbol, SignalID: sig.ID,
			Code:   ReasonNoBar,
			Detail: "no bar for the scheduled execution session",
		})
		return
	}

	price := executionPrice(bar, p.source)
	if price.IsZero() || price.IsNegative() {
		st.anomalies = append(st.anomalies, Anomaly{
			Time: day, Symbol: sig.Symbol, SignalID: sig.ID,
			Code:   ReasonNoBar,
			Detail: fmt.Sprintf("unusable %s price %s", p.source, price),
		})
		return
	}

	switch sig.Action {
	case model.ActionBuy:
		shares := e.sizeBuy(st.pm, sig, price)
		if shares == 0 {
			// Clipped to nothing: a no-op, not a rejection.
			e.logger.Debug("buy sized to zero",
				zap.String("symbol", sig.Symbol),
				zap.String("signal_id", sig.ID))
			return
		}
		_, err := st.pm.ExecuteTrade(sig.Symbol, model.DirectionBuy, shares, price, day, e.cfg.Fees, sig.Reason)
		if err != nil {
			e.recordOrderError(st, sig, day, err)
		}

	case model.ActionSell:
		shares := sig.Volume
		if shares == 0 {
			if pos, held := st.pm.Position(sig.Symbol); held {
				shares = pos.Shares
			}
		}
		if shares <= 0 {
			st.anomalies = append(st.anomalies, Anomaly{
				Time: day, Symbol: sig.Symbol, SignalID: sig.ID,
				Code:   ReasonInsufficientPosition,
				Detail: "no position to sell",
			})
			return
		}
		_, err := st.pm.ExecuteTrade(sig.Symbol, model.DirectionSell, shares, price, day, e.cfg.Fees, sig.Reason)
		if err != nil {
			e.recordOrderError(st, sig, day, err)
		}
	}
}

// sizeBuy turns an accepted BUY into a share count honoring the
// portfolio-level limits. Limits clip the size; only a clip all the way
// to zero turns the order into a no-op.
func (e *Engine) sizeBuy(pm *portfolio.Manager, sig model.Signal, price decimal.Decimal) int64 {
	_, held := pm.Position(sig.Symbol)
	if !held && pm.PositionCount() >= e.cfg.MaxPositions {
		return 0
	}

	target := pm.GetSummary().Equity.Mul(e.cfg.PositionSizePct)
	if cash := pm.Cash(); target.GreaterThan(cash) {
		target = cash
	}
	if target.IsZero() || target.IsNegative() {
		return 0
	}

	lot := decimal.NewFromInt(e.cfg.LotSize)
	lots := target.Div(price).Div(lot).Floor()
	shares := lots.Mul(lot).IntPart()
	if sig.Volume > 0 && sig.Volume < shares {
		shares = sig.Volume
	}

	// Leave headroom for fees: step down one lot at a time until the
	// all-in cost fits in cash, so a near-full sizing clips instead of
	// bouncing off the portfolio.
	cash := pm.Cash()
	for shares > 0 {
		bd, err := fees.Calculate(model.DirectionBuy, shares, price, e.cfg.Fees)
		if err != nil {
			return 0
		}
		cost := price.Mul(decimal.NewFromInt(shares)).Add(bd.Total)
		if cost.LessThanOrEqual(cash) {
			break
		}
		shares -= e.cfg.LotSize
	}
	if shares < 0 {
		shares = 0
	}
	return shares
}

func (e *Engine) recordOrderError(st *runState, sig model.Signal, day time.Time, err error) {
	code := ReasonInsufficientFunds
	switch {
	case errors.Is(err, portfolio.ErrInsufficientPosition):
		code = ReasonInsufficientPosition
	case errors.Is(err, portfolio.ErrInsufficientFunds):
		code = ReasonInsufficientFunds
	default:
		// Validation problems on a single order degrade the same way:
		// the order is skipped, the run continues.
		code = ReasonNoBar
	}
	st.anomalies = append(st.anomalies, Anomaly{
		Time: day, Symbol: sig.Symbol, SignalID: sig.ID,
		Code: code, Detail: err.Error(),
	})
	e.logger.Warn("order rejected",
		zap.String("symbol", sig.Symbol),
		zap.String("signal_id", sig.ID),
		zap.String("code", code),
		zap.Error(err))
}

// collectSignals fans signal generation out across a bounded worker pool.
// Generation is read-only with respect to shared state, so concurrency is
// safe; scheduling afterwards runs on the engine sequence in ascending
// symbol order, keeping replays bit-for-bit reproducible.
func (e *Engine) collectSignals(ctx context.Context, st *runState, symbols []string, day time.Time) {
	type genOut struct {
		signals []model.Signal
		err     error
	}
	outs := make([]genOut, len(symbols))

	workers := e.cfg.SignalWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			outs[i].signals, outs[i].err = e.generateWithRetry(ctx, sym, day, st.history[sym])
		}(i, sym)
	}
	wg.Wait()

	for i, sym := range symbols {
		if outs[i].err != nil {
			// A failed collaborator degrades this date's signal set to
			// empty for the symbol; the run continues.
			st.anomalies = append(st.anomalies, Anomaly{
				Time: day, Symbol: sym,
				Code:   ReasonSignalTimeout,
				Detail: outs[i].err.Error(),
			})
			e.logger.Warn("signal generation degraded to empty",
				zap.String("symbol", sym),
				zap.String("date", day.Format(calendar.DateLayout)),
				zap.Error(outs[i].err))
			continue
		}
		for _, sig := range outs[i].signals {
			e.scheduleSignal(st, sym, sig, day)
		}
	}
}

func (e *Engine) generateWithRetry(ctx context.Context, symbol string, day time.Time, history []model.Bar) ([]model.Signal, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.SignalRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.SignalTimeout)
		signals, err := e.gen.Generate(callCtx, symbol, day, history)
		cancel()
		if err == nil {
			return signals, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// scheduleSignal validates one signal's timing and, when accepted, books
// its execution on the next valid session.
func (e *Engine) scheduleSignal(st *runState, symbol string, sig model.Signal, day time.Time) {
	st.signals = append(st.signals, SignalRecord{
		Date:       day,
		Symbol:     symbol,
		Action:     sig.Action,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
	})
	if sig.Action == model.ActionHold || !sig.Action.Valid() {
		return
	}

	cutoff := day
	if h := st.history[symbol]; len(h) > 0 {
		cutoff = h[len(h)-1].Time
	}
	dec := e.guard.ValidateSignalTiming(sig, cutoff)
	if !dec.Accepted() {
		st.anomalies = append(st.anomalies, Anomaly{
			Time: day, Symbol: symbol, SignalID: sig.ID,
			Code: string(dec.Reason), Detail: dec.Detail,
		})
		return
	}

	pt, err := e.guard.SelectExecutionPoint(sig.Time, e.cfg.ExecutionRule)
	if err != nil {
		// Scheduling past the calendar horizon only loses this order.
		st.anomalies = append(st.anomalies, Anomaly{
			Time: day, Symbol: symbol, SignalID: sig.ID,
			Code: string(temporal.ReasonHorizonExceeded), Detail: err.Error(),
		})
		return
	}
	st.pending = append(st.pending, pendingOrder{signal: sig, day: pt.Time, source: pt.Source})
}

func executionPrice(bar model.Bar, source temporal.PriceSource) decimal.Decimal {
	switch source {
	case temporal.PriceOpen:
		return decimal.NewFromFloat(bar.Open)
	case temporal.PriceClose:
		return decimal.NewFromFloat(bar.Close)
	case temporal.PriceVWAP:
		return decimal.NewFromFloat(bar.VWAP())
	default:
		return decimal.Zero
	}
}

// Package strategy holds built-in signal generators for the backtest
// engine. They are intentionally simple; the engine treats any generator
// as an untrusted collaborator regardless of origin.
package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"mytrade/model"
)

// MACross emits a BUY when the short moving average crosses above the
// long one, and a SELL when it crosses below. No crossing means HOLD.
type MACross struct {
	Short int
	Long  int
}

// NewMACross builds a crossover generator. Short must be below Long.
func NewMACross(short, long int) (*MACross, error) {
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("invalid ma windows: short=%d long=%d", short, long)
	}
	return &MACross{Short: short, Long: long}, nil
}

// Generate implements the signal generator contract. history holds every
// bar observed up to asOf, ascending; signals are stamped with the latest
// bar's time so they can never claim knowledge past the data.
func (s *MACross) Generate(ctx context.Context, symbol string, asOf time.Time, history []model.Bar) ([]model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// One extra bar needed to compare against the previous session.
	if len(history) < s.Long+1 {
		return nil, nil
	}

	shortNow := sma(history, s.Short, 0)
	longNow := sma(history, s.Long, 0)
	shortPrev := sma(history, s.Short, 1)
	longPrev := sma(history, s.Long, 1)

	var action model.Action
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		action = model.ActionBuy
	case shortPrev >= longPrev && shortNow < longNow:
		action = model.ActionSell
	default:
		return nil, nil
	}

	last := history[len(history)-1]
	sig := model.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Time:       last.Time,
		Action:     action,
		Confidence: crossConfidence(shortNow, longNow),
		Reason: fmt.Sprintf("ma%d/ma%d cross %.2f vs %.2f",
			s.Short, s.Long, shortNow, longNow),
	}
	return []model.Signal{sig}, nil
}

// sma averages the closes of the window ending `back` bars from the end.
func sma(bars []model.Bar, window, back int) float64 {
	end := len(bars) - back
	sum := 0.0
	for i := end - window; i < end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(window)
}

// crossConfidence maps the relative gap between the averages onto (0, 1]:
// a 2% spread or wider saturates at full confidence.
func crossConfidence(short, long float64) float64 {
	if long == 0 {
		return 0.5
	}
	gap := math.Abs(short-long) / long
	conf := gap / 0.02
	if conf > 1 {
		conf = 1
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

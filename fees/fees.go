// Package fees computes exact transaction cost breakdowns for orders.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mytrade/model"
)

// ErrInvalidInput is returned for negative shares or prices, or an
// unrecognized direction.
var ErrInvalidInput = errors.New("invalid fee input")

// Config holds venue fee rates. Zero values are legal and mean the venue
// does not charge that component.
type Config struct {
	CommissionRate  decimal.Decimal `json:"commission_rate" yaml:"commission_rate"`
	MinCommission   decimal.Decimal `json:"min_commission" yaml:"min_commission"`
	StampDutyRate   decimal.Decimal `json:"stamp_duty_rate" yaml:"stamp_duty_rate"`
	TransferFeeRate decimal.Decimal `json:"transfer_fee_rate" yaml:"transfer_fee_rate"`
	SlippageRate    decimal.Decimal `json:"slippage_rate" yaml:"slippage_rate"`
}

// Breakdown is the per-component cost of one order. Every field is rounded
// half-up to the smallest currency unit (0.01).
type Breakdown struct {
	Commission  decimal.Decimal `json:"commission"`
	StampDuty   decimal.Decimal `json:"stamp_duty"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
	Slippage    decimal.Decimal `json:"slippage"`
	Total       decimal.Decimal `json:"total"`
}

// currency unit precision
const places = 2

// Calculate returns the full cost breakdown for trading shares at price.
//
// Commission is floored at MinCommission on both directions; stamp duty is
// charged on SELL only; the transfer fee applies both ways; slippage is a
// cost in both directions (it raises a BUY's cash outlay and lowers a
// SELL's proceeds, so it always adds to Total). Intermediate arithmetic is
// exact; only the reported components are rounded.
func Calculate(direction model.Direction, shares int64, price decimal.Decimal, cfg Config) (Breakdown, error) {
	if shares < 0 {
		return Breakdown{}, fmt.Errorf("%w: negative shares %d", ErrInvalidInput, shares)
	}
	if price.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: negative price %s", ErrInvalidInput, price)
	}
	if direction != model.DirectionBuy && direction != model.DirectionSell {
		return Breakdown{}, fmt.Errorf("%w: direction %q", ErrInvalidInput, direction)
	}
	if shares == 0 {
		return zeroBreakdown(), nil
	}

	notional := price.Mul(decimal.NewFromInt(shares))

	commission := notional.Mul(cfg.CommissionRate)
	if commission.LessThan(cfg.MinCommission) {
		commission = cfg.MinCommission
	}

	stampDuty := decimal.Zero
	if direction == model.DirectionSell {
		stampDuty = notional.Mul(cfg.StampDutyRate)
	}

	transferFee := notional.Mul(cfg.TransferFeeRate)
	slippage := notional.Mul(cfg.SlippageRate)

	b := Breakdown{
		Commission:  roundHalfUp(commission),
		StampDuty:   roundHalfUp(stampDuty),
		TransferFee: roundHalfUp(transferFee),
		Slippage:    roundHalfUp(slippage),
	}
	b.Total = b.Commission.Add(b.StampDuty).Add(b.TransferFee).Add(b.Slippage)
	return b, nil
}

func zeroBreakdown() Breakdown {
	z := decimal.Zero
	return Breakdown{Commission: z, StampDuty: z, TransferFee: z, Slippage: z, Total: z}
}

// roundHalfUp rounds to the smallest currency unit. decimal.Round is
// half-away-from-zero, which equals half-up for the non-negative amounts
// produced here.
func roundHalfUp(v decimal.Decimal) decimal.Decimal {
	return v.Round(places)
}

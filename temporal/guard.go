// Package temporal is the single enforcement point for "no look-ahead":
// a signal may never be executed with information newer than its own
// decision time, and its fill must land strictly after it.
package temporal

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mytrade/calendar"
	"mytrade/model"
)

// RejectReason is the machine-readable reason attached to every rejection.
type RejectReason string

const (
	ReasonFutureData      RejectReason = "FUTURE_DATA"
	ReasonNonTradingDay   RejectReason = "NON_TRADING_DAY"
	ReasonHorizonExceeded RejectReason = "HORIZON_EXCEEDED"
)

// Policy decides what happens to a signal rejected for falling on a
// non-trading session. It must be chosen explicitly at construction.
type Policy string

const (
	// PolicyDrop discards the signal.
	PolicyDrop Policy = "drop"
	// PolicyDefer re-targets the signal at the next valid session.
	PolicyDefer Policy = "defer"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool { return p == PolicyDrop || p == PolicyDefer }

// ExecutionRule selects the price source of the session a fill lands on.
type ExecutionRule string

const (
	RuleNextOpen  ExecutionRule = "next_open"
	RuleNextClose ExecutionRule = "next_close"
	RuleVWAP      ExecutionRule = "vwap"
)

// Valid reports whether r is a known execution rule.
func (r ExecutionRule) Valid() bool {
	switch r {
	case RuleNextOpen, RuleNextClose, RuleVWAP:
		return true
	}
	return false
}

// PriceSource names which bar field prices the fill.
type PriceSource string

const (
	PriceOpen  PriceSource = "open"
	PriceClose PriceSource = "close"
	PriceVWAP  PriceSource = "vwap"
)

// State is the per-signal lifecycle stage.
type State string

const (
	StatePending            State = "PENDING"
	StateValidated          State = "VALIDATED"
	StateExecutionScheduled State = "EXECUTION_SCHEDULED"
	StateExecuted           State = "EXECUTED"
	StateRejected           State = "REJECTED"
)

// Rejection is the append-only record of one refused signal.
type Rejection struct {
	SignalID string       `json:"signal_id"`
	Symbol   string       `json:"symbol"`
	Time     time.Time    `json:"time"`
	Reason   RejectReason `json:"reason"`
	Detail   string       `json:"detail"`
}

// ErrInvalidPolicy is returned when a Guard is built without an explicit
// drop/defer choice.
var ErrInvalidPolicy = errors.New("rejection policy must be drop or defer")

// Guard validates signal timing against a data cutoff and resolves
// execution points through the trading calendar.
type Guard struct {
	cal        *calendar.Calendar
	policy     Policy
	rejections []Rejection
	logger     *zap.Logger
}

// NewGuard builds a guard bound to cal. The policy is mandatory.
func NewGuard(cal *calendar.Calendar, policy Policy, logger *zap.Logger) (*Guard, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidPolicy, policy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{cal: cal, policy: policy, logger: logger}, nil
}

// Decision is the outcome of validating one signal.
type Decision struct {
	State  State
	Reason RejectReason // set when State == StateRejected
	Detail string
	// Deferred is the session the signal was moved to under PolicyDefer.
	// Zero unless the policy deferred it.
	Deferred time.Time
}

// Accepted reports whether the signal may proceed to scheduling.
func (d Decision) Accepted() bool { return d.State != StateRejected }

// ValidateSignalTiming checks that sig claims no knowledge newer than
// cutoff and that its timestamp falls on (or, under PolicyDefer, is moved
// to) a valid trading session. Every rejection is recorded; none is silent.
func (g *Guard) ValidateSignalTiming(sig model.Signal, cutoff time.Time) Decision {
	if sig.Time.After(cutoff) {
		return g.reject(sig, ReasonFutureData, fmt.Sprintf(
			"signal at %s claims data past cutoff %s",
			sig.Time.Format(time.RFC3339), cutoff.Format(time.RFC3339)))
	}

	day := calendar.Midnight(sig.Time)
	trading, err := g.cal.IsTradingDay(day)
	if err != nil {
		return g.reject(sig, ReasonHorizonExceeded, err.Error())
	}
	if !trading {
		if g.policy == PolicyDrop {
			return g.reject(sig, ReasonNonTradingDay, fmt.Sprintf(
				"%s is not a trading session", day.Format(calendar.DateLayout)))
		}
		next, err := g.cal.NextTradingDay(day)
		if err != nil {
			return g.reject(sig, ReasonHorizonExceeded, err.Error())
		}
		g.logger.Debug("signal deferred to next session",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", sig.Symbol),
			zap.String("deferred_to", next.Format(calendar.DateLayout)))
		return Decision{State: StateValidated, Deferred: next}
	}

	return Decision{State: StateValidated}
}

// ExecutionPoint is a resolved fill slot: the session date and the bar
// field that prices it.
type ExecutionPoint struct {
	Time   time.Time
	Source PriceSource
}

// SelectExecutionPoint resolves where a validated signal fills. The
// returned time is always strictly after signalTime: the first trading
// session following it. This is the core defense against look-ahead bias.
func (g *Guard) SelectExecutionPoint(signalTime time.Time, rule ExecutionRule) (ExecutionPoint, error) {
	if !rule.Valid() {
		return ExecutionPoint{}, fmt.Errorf("unknown execution rule %q", rule)
	}
	next, err := g.cal.NextTradingDay(signalTime)
	if err != nil {
		return ExecutionPoint{}, fmt.Errorf("resolve execution session: %w", err)
	}
	src := PriceOpen
	switch rule {
	case RuleNextClose:
		src = PriceClose
	case RuleVWAP:
		src = PriceVWAP
	}
	return ExecutionPoint{Time: next, Source: src}, nil
}

func (g *Guard) reject(sig model.Signal, reason RejectReason, detail string) Decision {
	rec := Rejection{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Time:     sig.Time,
		Reason:   reason,
		Detail:   detail,
	}
	g.rejections = append(g.rejections, rec)
	g.logger.Warn("signal rejected",
		zap.String("signal_id", sig.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	return Decision{State: StateRejected, Reason: reason, Detail: detail}
}

// Rejections returns a copy of the append-only rejection log.
func (g *Guard) Rejections() []Rejection {
	out := make([]Rejection, len(g.rejections))
	copy(out, g.rejections)
	return out
}

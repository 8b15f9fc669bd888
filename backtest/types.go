package backtest

import (
	"context"
	"time"

	"mytrade/model"
	"mytrade/portfolio"
	"mytrade/temporal"
)

// DataProvider supplies historical bars. The engine never requests an end
// date beyond the currently simulated date; look-ahead filtering is the
// caller's job, not the provider's.
type DataProvider interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error)
}

// SignalGenerator produces signals for one symbol as of a date. It must
// not read data timestamped after asOf; history holds every bar the engine
// has observed for the symbol up to and including asOf.
type SignalGenerator interface {
	Generate(ctx context.Context, symbol string, asOf time.Time, history []model.Bar) ([]model.Signal, error)
}

// Status is the completion state of a run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	// StatusPartial marks a run cancelled mid-way; snapshots committed
	// before cancellation remain valid.
	StatusPartial Status = "PARTIAL"
)

// Anomaly reason codes beyond the temporal guard's own set.
const (
	ReasonInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ReasonInsufficientPosition = "INSUFFICIENT_POSITION"
	ReasonNoBar                = "NO_BAR"
	ReasonSignalTimeout        = "SIGNAL_TIMEOUT"
	ReasonRunEnded             = "RUN_ENDED"
)

// Anomaly is one rejected signal or order, with a machine-readable code
// and a human-readable explanation. Append-only.
type Anomaly struct {
	Time     time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	SignalID string    `json:"signal_id,omitempty"`
	Code     string    `json:"code"`
	Detail   string    `json:"detail"`
}

// SignalRecord is one entry of the signal history: everything the
// collaborator produced, accepted or not.
type SignalRecord struct {
	Date       time.Time    `json:"date"`
	Symbol     string       `json:"symbol"`
	Action     model.Action `json:"action"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason,omitempty"`
}

// Result is the complete outcome of one run.
type Result struct {
	Status      Status               `json:"status"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	Symbols     []string             `json:"symbols"`
	Trades      []portfolio.Trade    `json:"trades"`
	EquityCurve []portfolio.Snapshot `json:"equity_curve"`
	Signals     []SignalRecord       `json:"signals"`
	Anomalies   []Anomaly            `json:"anomalies"`
	Rejections  []temporal.Rejection `json:"rejections"`
	Summary     portfolio.Summary    `json:"summary"`
	Metrics     PerformanceMetrics   `json:"metrics"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// pendingOrder is a validated signal waiting for its execution session.
type pendingOrder struct {
	signal model.Signal
	day    time.Time
	source temporal.PriceSource
}

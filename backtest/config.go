package backtest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"mytrade/calendar"
	"mytrade/fees"
	"mytrade/temporal"
)

// ErrConfig marks a fatal configuration problem; the run never starts.
var ErrConfig = errors.New("invalid backtest config")

// YAMLConfig mirrors the on-disk run configuration.
type YAMLConfig struct {
	Backtest struct {
		Start           string   `yaml:"start"`
		End             string   `yaml:"end"`
		Symbols         []string `yaml:"symbols"`
		InitialCash     float64  `yaml:"initial_cash"`
		MaxPositions    int      `yaml:"max_positions"`
		PositionSizePct float64  `yaml:"position_size_pct"`
		LotSize         int64    `yaml:"lot_size"`
		AllowShort      bool     `yaml:"allow_short"`
		ExecutionRule   string   `yaml:"execution_rule"`
		RejectPolicy    string   `yaml:"reject_policy"`
		PeriodsPerYear  int      `yaml:"periods_per_year"`
		WarmupDays      int      `yaml:"warmup_days"`
	} `yaml:"backtest"`

	Fees struct {
		CommissionRate  float64 `yaml:"commission_rate"`
		MinCommission   float64 `yaml:"min_commission"`
		StampDutyRate   float64 `yaml:"stamp_duty_rate"`
		TransferFeeRate float64 `yaml:"transfer_fee_rate"`
		SlippageRate    float64 `yaml:"slippage_rate"`
	} `yaml:"fees"`

	Signals struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		Retries        int `yaml:"retries"`
		Workers        int `yaml:"workers"`
	} `yaml:"signals"`
}

// RunConfig is the validated, immutable configuration a run is built from.
type RunConfig struct {
	Start           time.Time
	End             time.Time
	Symbols         []string
	InitialCash     decimal.Decimal
	MaxPositions    int
	PositionSizePct decimal.Decimal
	LotSize         int64
	AllowShort      bool
	ExecutionRule   temporal.ExecutionRule
	RejectPolicy    temporal.Policy
	PeriodsPerYear  int
	WarmupDays      int

	Fees fees.Config

	SignalTimeout time.Duration
	SignalRetries int
	SignalWorkers int
}

// DefaultRunConfig returns the baseline every loaded config starts from.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialCash:     decimal.NewFromInt(1_000_000),
		MaxPositions:    10,
		PositionSizePct: decimal.NewFromFloat(0.1),
		LotSize:         100,
		ExecutionRule:   temporal.RuleNextOpen,
		RejectPolicy:    temporal.PolicyDrop,
		PeriodsPerYear:  252,
		WarmupDays:      30,
		Fees: fees.Config{
			CommissionRate:  decimal.NewFromFloat(0.0003),
			MinCommission:   decimal.NewFromInt(5),
			StampDutyRate:   decimal.NewFromFloat(0.001),
			TransferFeeRate: decimal.Zero,
			SlippageRate:    decimal.Zero,
		},
		SignalTimeout: 30 * time.Second,
		SignalRetries: 1,
		SignalWorkers: 4,
	}
}

// LoadRunConfig reads a YAML run configuration and validates it.
func LoadRunConfig(path string) (RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config: %w", err)
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return RunConfig{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := DefaultRunConfig()

	if yc.Backtest.Start == "" || yc.Backtest.End == "" {
		return RunConfig{}, fmt.Errorf("%w: backtest.start and backtest.end are required", ErrConfig)
	}
	start, err := time.ParseInLocation(calendar.DateLayout, yc.Backtest.Start, time.Local)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: invalid backtest.start: %v", ErrConfig, err)
	}
	end, err := time.ParseInLocation(calendar.DateLayout, yc.Backtest.End, time.Local)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: invalid backtest.end: %v", ErrConfig, err)
	}
	cfg.Start = start
	cfg.End = end

	cfg.Symbols = append(cfg.Symbols, yc.Backtest.Symbols...)

	if yc.Backtest.InitialCash > 0 {
		cfg.InitialCash = decimal.NewFromFloat(yc.Backtest.InitialCash)
	}
	if yc.Backtest.MaxPositions > 0 {
		cfg.MaxPositions = yc.Backtest.MaxPositions
	}
	if yc.Backtest.PositionSizePct > 0 && yc.Backtest.PositionSizePct <= 1 {
		cfg.PositionSizePct = decimal.NewFromFloat(yc.Backtest.PositionSizePct)
	}
	if yc.Backtest.LotSize > 0 {
		cfg.LotSize = yc.Backtest.LotSize
	}
	cfg.AllowShort = yc.Backtest.AllowShort
	if yc.Backtest.ExecutionRule != "" {
		cfg.ExecutionRule = temporal.ExecutionRule(yc.Backtest.ExecutionRule)
	}
	if yc.Backtest.RejectPolicy != "" {
		cfg.RejectPolicy = temporal.Policy(yc.Backtest.RejectPolicy)
	}
	if yc.Backtest.PeriodsPerYear > 0 {
		cfg.PeriodsPerYear = yc.Backtest.PeriodsPerYear
	}
	if yc.Backtest.WarmupDays > 0 {
		cfg.WarmupDays = yc.Backtest.WarmupDays
	}

	if yc.Fees.CommissionRate >= 0 {
		cfg.Fees.CommissionRate = decimal.NewFromFloat(yc.Fees.CommissionRate)
	}
	if yc.Fees.MinCommission >= 0 {
		cfg.Fees.MinCommission = decimal.NewFromFloat(yc.Fees.MinCommission)
	}
	if yc.Fees.StampDutyRate >= 0 {
		cfg.Fees.StampDutyRate = decimal.NewFromFloat(yc.Fees.StampDutyRate)
	}
	if yc.Fees.TransferFeeRate >= 0 {
		cfg.Fees.TransferFeeRate = decimal.NewFromFloat(yc.Fees.TransferFeeRate)
	}
	if yc.Fees.SlippageRate >= 0 {
		cfg.Fees.SlippageRate = decimal.NewFromFloat(yc.Fees.SlippageRate)
	}

	if yc.Signals.TimeoutSeconds > 0 {
		cfg.SignalTimeout = time.Duration(yc.Signals.TimeoutSeconds) * time.Second
	}
	if yc.Signals.Retries >= 0 {
		cfg.SignalRetries = yc.Signals.Retries
	}
	if yc.Signals.Workers > 0 {
		cfg.SignalWorkers = yc.Signals.Workers
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration before a run may start. Violations are
// fatal by design: a bad config aborts, it never degrades.
func (c RunConfig) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrConfig)
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrConfig,
			c.End.Format(calendar.DateLayout), c.Start.Format(calendar.DateLayout))
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols configured", ErrConfig)
	}
	if c.InitialCash.IsNegative() || c.InitialCash.IsZero() {
		return fmt.Errorf("%w: initial cash must be positive", ErrConfig)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("%w: max_positions must be positive", ErrConfig)
	}
	if c.PositionSizePct.IsNegative() || c.PositionSizePct.IsZero() ||
		c.PositionSizePct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: position_size_pct must be in (0, 1]", ErrConfig)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("%w: lot_size must be positive", ErrConfig)
	}
	if !c.ExecutionRule.Valid() {
		return fmt.Errorf("%w: unknown execution_rule %q", ErrConfig, c.ExecutionRule)
	}
	if !c.RejectPolicy.Valid() {
		return fmt.Errorf("%w: reject_policy must be drop or defer, got %q", ErrConfig, c.RejectPolicy)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("%w: periods_per_year must be positive", ErrConfig)
	}
	if c.Fees.CommissionRate.IsNegative() || c.Fees.MinCommission.IsNegative() ||
		c.Fees.StampDutyRate.IsNegative() || c.Fees.TransferFeeRate.IsNegative() ||
		c.Fees.SlippageRate.IsNegative() {
		return fmt.Errorf("%w: fee rates must not be negative", ErrConfig)
	}
	return nil
}

package backtest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mytrade/temporal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRunConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
backtest:
  start: "2024-03-01"
  end: "2024-06-28"
  symbols: ["600519", "000001"]
`)
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.InitialCash.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("initial cash = %s, want default 1000000", cfg.InitialCash)
	}
	if cfg.ExecutionRule != temporal.RuleNextOpen {
		t.Fatalf("execution rule = %q, want next_open", cfg.ExecutionRule)
	}
	if cfg.RejectPolicy != temporal.PolicyDrop {
		t.Fatalf("reject policy = %q, want drop", cfg.RejectPolicy)
	}
	if cfg.LotSize != 100 || cfg.MaxPositions != 10 {
		t.Fatalf("lot/max = %d/%d, want 100/10", cfg.LotSize, cfg.MaxPositions)
	}
	if !cfg.Fees.MinCommission.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("min commission = %s, want 5", cfg.Fees.MinCommission)
	}
	if cfg.SignalTimeout != 30*time.Second {
		t.Fatalf("signal timeout = %v, want 30s", cfg.SignalTimeout)
	}
}

func TestLoadRunConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
backtest:
  start: "2024-03-01"
  end: "2024-06-28"
  symbols: ["600519"]
  initial_cash: 500000
  max_positions: 3
  position_size_pct: 0.25
  execution_rule: next_close
  reject_policy: defer
fees:
  commission_rate: 0.001
  min_commission: 1
signals:
  timeout_seconds: 5
  workers: 2
`)
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.InitialCash.Equal(decimal.NewFromInt(500_000)) {
		t.Fatalf("initial cash = %s", cfg.InitialCash)
	}
	if cfg.MaxPositions != 3 {
		t.Fatalf("max positions = %d", cfg.MaxPositions)
	}
	if !cfg.PositionSizePct.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("position size = %s", cfg.PositionSizePct)
	}
	if cfg.ExecutionRule != temporal.RuleNextClose || cfg.RejectPolicy != temporal.PolicyDefer {
		t.Fatalf("rule/policy = %q/%q", cfg.ExecutionRule, cfg.RejectPolicy)
	}
	if cfg.SignalTimeout != 5*time.Second || cfg.SignalWorkers != 2 {
		t.Fatalf("timeout/workers = %v/%d", cfg.SignalTimeout, cfg.SignalWorkers)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() RunConfig {
		cfg := DefaultRunConfig()
		cfg.Start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
		cfg.End = time.Date(2024, 6, 28, 0, 0, 0, 0, time.Local)
		cfg.Symbols = []string{"600519"}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"end before start", func(c *RunConfig) { c.End = c.Start.AddDate(0, 0, -1) }},
		{"no symbols", func(c *RunConfig) { c.Symbols = nil }},
		{"zero cash", func(c *RunConfig) { c.InitialCash = decimal.Zero }},
		{"position size above one", func(c *RunConfig) { c.PositionSizePct = decimal.NewFromInt(2) }},
		{"unknown rule", func(c *RunConfig) { c.ExecutionRule = "same_bar" }},
		{"unknown policy", func(c *RunConfig) { c.RejectPolicy = "retry" }},
		{"negative fee", func(c *RunConfig) { c.Fees.StampDutyRate = decimal.NewFromInt(-1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoadRunConfigMissingRange(t *testing.T) {
	path := writeConfig(t, `
backtest:
  symbols: ["600519"]
`)
	if _, err := LoadRunConfig(path); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

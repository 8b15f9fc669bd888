package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// WriteResultJSON streams the full result as indented JSON.
func WriteResultJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// SaveResult persists a run under dir in its own timestamped directory:
// result.json with the complete record, plus trades.json and equity.json
// for quick inspection. Returns the created directory.
func SaveResult(dir string, res *Result, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runDir := filepath.Join(dir, res.FinishedAt.Format("20060102_150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	if err := writeJSONFile(filepath.Join(runDir, "result.json"), res); err != nil {
		return "", err
	}
	if err := writeJSONFile(filepath.Join(runDir, "trades.json"), res.Trades); err != nil {
		return "", err
	}
	if err := writeJSONFile(filepath.Join(runDir, "equity.json"), res.EquityCurve); err != nil {
		return "", err
	}

	logger.Info("result saved",
		zap.String("dir", runDir),
		zap.Int("trades", len(res.Trades)))
	return runDir, nil
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

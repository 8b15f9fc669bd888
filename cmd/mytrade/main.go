package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mytrade/api"
	"mytrade/backtest"
	"mytrade/calendar"
	"mytrade/config"
	"mytrade/marketdata"
	"mytrade/strategy"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

var (
	configPath     string
	serverMode     bool
	backtestMode   bool
	backtestConfig string
	backtestOut    string
	shortWindow    int
	longWindow     int
	showVersion    bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "配置文件路径(YAML格式)")
	flag.BoolVar(&serverMode, "server", false, "启动HTTP回测服务")
	flag.BoolVar(&backtestMode, "backtest", false, "运行日线回测并退出")
	flag.StringVar(&backtestConfig, "bt-config", "backtest.yaml", "回测配置文件路径(YAML格式)")
	flag.StringVar(&backtestOut, "bt-out", "", "回测输出JSON文件路径(默认stdout)")
	flag.IntVar(&shortWindow, "short", 5, "短期均线窗口")
	flag.IntVar(&longWindow, "long", 20, "长期均线窗口")
	flag.BoolVar(&showVersion, "version", false, "打印版本并退出")
	flag.Parse()

	if showVersion {
		fmt.Println("mytrade", Version)
		return
	}

	// .env 仅作为本地开发便利，缺失不报错
	_ = godotenv.Load()

	cfg := config.GetConfig(configPath)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "配置错误:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "日志初始化失败:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if backtestMode {
		if err := runBacktest(cfg, logger); err != nil {
			logger.Error("回测失败", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	// 默认以及 -server 均启动HTTP服务
	if err := runServer(cfg, logger); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}
}

// runBacktest 从YAML配置执行一次回测，结果写入stdout或指定文件，
// 同时在结果目录落一份完整存档。
func runBacktest(cfg *config.Config, logger *zap.Logger) error {
	runCfg, err := backtest.LoadRunConfig(backtestConfig)
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	// 回测区间必须落在内置休市数据窗口内；日历的预热余量裁剪到窗口边界
	lo, hi := calendar.CNHorizon()
	if runCfg.Start.Before(lo) || runCfg.End.After(hi) {
		return fmt.Errorf("回测区间超出休市数据范围 [%s, %s]",
			lo.Format(calendar.DateLayout), hi.Format(calendar.DateLayout))
	}
	calStart := runCfg.Start.AddDate(0, -6, 0)
	if calStart.Before(lo) {
		calStart = lo
	}
	calEnd := runCfg.End.AddDate(0, 1, 0)
	if calEnd.After(hi) {
		calEnd = hi
	}
	cal, err := calendar.NewCN(calStart, calEnd)
	if err != nil {
		return err
	}

	gen, err := strategy.NewMACross(shortWindow, longWindow)
	if err != nil {
		return err
	}

	eng, err := backtest.New(runCfg, cal, provider, gen, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	if dir, err := backtest.SaveResult(cfg.ResultsDir, res, logger); err != nil {
		logger.Warn("结果存档失败", zap.Error(err))
	} else {
		logger.Info("结果已存档", zap.String("dir", dir))
	}

	out := os.Stdout
	if backtestOut != "" {
		f, err := os.Create(backtestOut)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		out = f
	}
	return backtest.WriteResultJSON(out, res)
}

// runServer 启动HTTP回测服务，收到信号后优雅退出
func runServer(cfg *config.Config, logger *zap.Logger) error {
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	store := api.NewStore(20)
	if err := store.LoadFromFile(cfg.ResultsFile); err != nil {
		logger.Warn("历史结果加载失败", zap.Error(err))
	}

	srv := api.NewServer(cfg.Port, provider, store, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("收到退出信号", zap.String("signal", sig.String()))
	}

	if err := store.SaveToFile(cfg.ResultsFile); err != nil {
		logger.Warn("历史结果保存失败", zap.Error(err))
	}
	return srv.Shutdown()
}

// buildProvider 根据配置构建行情源
func buildProvider(cfg *config.Config, logger *zap.Logger) (backtest.DataProvider, error) {
	switch cfg.DataSource {
	case "eastmoney":
		return marketdata.NewEastmoneyProvider(cfg.FetchLimit, logger), nil

	case "csv":
		p := marketdata.NewMemoryProvider()
		matches, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.csv"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("数据目录 %s 下没有CSV文件", cfg.DataDir)
		}
		for _, path := range matches {
			symbol := strings.TrimSuffix(filepath.Base(path), ".csv")
			n, err := marketdata.LoadCSV(p, symbol, path, marketdata.EncodingUTF8)
			if err != nil {
				return nil, err
			}
			logger.Info("CSV数据已加载",
				zap.String("symbol", symbol),
				zap.Int("bars", n))
		}
		return p, nil
	}
	return nil, fmt.Errorf("未知的行情来源: %s", cfg.DataSource)
}

// newLogger 按级别创建zap日志器
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("未知日志级别 %q", level)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mytrade/calendar"
	"mytrade/model"
)

// EastmoneyProvider 东方财富日K线行情源。
// 每只股票首次请求时拉取全量历史并缓存，之后的区间查询全部走缓存，
// 回测过程中不会重复访问远端。
type EastmoneyProvider struct {
	client *http.Client
	logger *zap.Logger
	limit  int

	mu    sync.Mutex
	cache map[string][]model.Bar
}

// NewEastmoneyProvider 创建东方财富行情源。limit 为单次拉取的最大K线根数。
func NewEastmoneyProvider(limit int, logger *zap.Logger) *EastmoneyProvider {
	if limit <= 0 {
		limit = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EastmoneyProvider{
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
		limit:  limit,
		cache:  make(map[string][]model.Bar),
	}
}

// GetBars 返回 [start, end] 闭区间内的日K线
func (p *EastmoneyProvider) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	bars, err := p.load(ctx, symbol)
	if err != nil {
		return nil, err
	}

	start = calendar.Midnight(start)
	end = calendar.Midnight(end)
	var out []model.Bar
	for _, b := range bars {
		d := calendar.Midnight(b.Time)
		if !d.Before(start) && !d.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *EastmoneyProvider) load(ctx context.Context, symbol string) ([]model.Bar, error) {
	p.mu.Lock()
	bars, ok := p.cache[symbol]
	p.mu.Unlock()
	if ok {
		return bars, nil
	}

	secid, err := toSecID(symbol)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"https://push2his.eastmoney.com/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57&klt=101&fqt=1&end=20500101&lmt=%d",
		secid, p.limit,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求K线数据失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("K线接口返回 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	bars, err = parseKlines(symbol, body)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[symbol] = bars
	p.mu.Unlock()

	p.logger.Info("K线数据已缓存",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// toSecID 转换代码格式: 600519 -> 1.600519, 000001 -> 0.000001。
// 也接受带市场前缀的写法（sh600519 / sz000001）。
func toSecID(symbol string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	switch {
	case strings.HasPrefix(s, "sh"):
		return "1." + s[2:], nil
	case strings.HasPrefix(s, "sz"):
		return "0." + s[2:], nil
	}
	if len(s) != 6 {
		return "", fmt.Errorf("未知的股票代码格式: %s", symbol)
	}
	// 6开头为沪市，0/3开头为深市
	switch s[0] {
	case '6':
		return "1." + s, nil
	case '0', '3':
		return "0." + s, nil
	}
	return "", fmt.Errorf("未知的股票代码格式: %s", symbol)
}

// parseKlines 解析K线数据。每行格式: 日期,开盘,收盘,最高,最低,成交量,成交额
func parseKlines(symbol string, data []byte) ([]model.Bar, error) {
	var result struct {
		Data struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析K线响应失败: %w", err)
	}

	var bars []model.Bar
	for _, line := range result.Data.Klines {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		ts, err := time.ParseInLocation(calendar.DateLayout, parts[0], time.Local)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(parts[1], 64)
		closeP, _ := strconv.ParseFloat(parts[2], 64)
		high, _ := strconv.ParseFloat(parts[3], 64)
		low, _ := strconv.ParseFloat(parts[4], 64)
		volume, _ := strconv.ParseInt(parts[5], 10, 64)

		bar := model.Bar{
			Symbol: symbol,
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: volume,
		}
		if len(parts) > 6 {
			bar.Amount, _ = strconv.ParseFloat(parts[6], 64)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

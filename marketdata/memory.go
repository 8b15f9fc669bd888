package marketdata

import (
	"context"
	"sort"
	"time"

	"mytrade/calendar"
	"mytrade/model"
)

// MemoryProvider 内存行情源，按代码持有升序排列的日K序列。
// 适用于回测夹具和CSV加载后的数据。
type MemoryProvider struct {
	bars map[string][]model.Bar
}

// NewMemoryProvider 创建内存行情源
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{bars: make(map[string][]model.Bar)}
}

// Add 追加某只股票的K线，按时间升序重排
func (p *MemoryProvider) Add(symbol string, bars ...model.Bar) {
	p.bars[symbol] = append(p.bars[symbol], bars...)
	sort.Slice(p.bars[symbol], func(i, j int) bool {
		return p.bars[symbol][i].Time.Before(p.bars[symbol][j].Time)
	})
}

// Symbols 返回已加载的股票代码（升序）
func (p *MemoryProvider) Symbols() []string {
	syms := make([]string, 0, len(p.bars))
	for s := range p.bars {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// GetBars 返回 [start, end] 闭区间内的K线
func (p *MemoryProvider) GetBars(_ context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	start = calendar.Midnight(start)
	end = calendar.Midnight(end)

	var out []model.Bar
	for _, b := range p.bars[symbol] {
		d := calendar.Midnight(b.Time)
		if !d.Before(start) && !d.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

package model

import "time"

// Bar 单个交易日的OHLCV数据
type Bar struct {
	Symbol string    `json:"symbol"` // 标的代码 (sh600000, sz000001)
	Time   time.Time `json:"time"`   // 交易日
	Open   float64   `json:"open"`   // 开盘价
	High   float64   `json:"high"`   // 最高价
	Low    float64   `json:"low"`    // 最低价
	Close  float64   `json:"close"`  // 收盘价
	Volume int64     `json:"volume"` // 成交量（股）
	Amount float64   `json:"amount"` // 成交额（元）
}

// VWAP 成交量加权均价；无成交量时回退到收盘价
func (b Bar) VWAP() float64 {
	if b.Volume > 0 && b.Amount > 0 {
		return b.Amount / float64(b.Volume)
	}
	return b.Close
}

// Action 信号方向
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid 是否为已知的信号方向
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Signal 带时间戳的交易建议，由信号生成方产出、TemporalGuard消费一次
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Time       time.Time `json:"time"`       // 信号生成时间
	Action     Action    `json:"action"`     // BUY / SELL / HOLD
	Confidence float64   `json:"confidence"` // [0,1]
	Volume     int64     `json:"volume,omitempty"` // 目标股数，0表示由引擎决定
	Weight     float64   `json:"weight,omitempty"` // 目标权重，0表示未指定
	Reason     string    `json:"reason,omitempty"`
}

// Direction 成交方向
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

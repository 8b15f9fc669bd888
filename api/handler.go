package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mytrade/backtest"
	"mytrade/calendar"
	"mytrade/strategy"
	"mytrade/temporal"
)

// Handler API处理器
type Handler struct {
	data   backtest.DataProvider
	store  *Store
	logger *zap.Logger
	up     time.Time
}

// NewHandler 创建处理器
func NewHandler(data backtest.DataProvider, store *Store, logger *zap.Logger) *Handler {
	return &Handler{data: data, store: store, logger: logger, up: time.Now()}
}

// RunRequest 回测请求体
type RunRequest struct {
	Start           string   `json:"start" binding:"required"`
	End             string   `json:"end" binding:"required"`
	Symbols         []string `json:"symbols" binding:"required"`
	InitialCash     float64  `json:"initial_cash"`
	MaxPositions    int      `json:"max_positions"`
	PositionSizePct float64  `json:"position_size_pct"`
	AllowShort      bool     `json:"allow_short"`
	ExecutionRule   string   `json:"execution_rule"`
	RejectPolicy    string   `json:"reject_policy"`
	ShortWindow     int      `json:"short_window"`
	LongWindow      int      `json:"long_window"`
}

// RunBacktest 执行一次回测并保存结果
func (h *Handler) RunBacktest(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := req.toRunConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 回测区间必须落在内置休市数据窗口内
	lo, hi := calendar.CNHorizon()
	if cfg.Start.Before(lo) || cfg.End.After(hi) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(
			"回测区间超出休市数据范围 [%s, %s]",
			lo.Format(calendar.DateLayout), hi.Format(calendar.DateLayout))})
		return
	}

	// 日历范围向前后各留余量，覆盖预热与末日信号的下一交易日
	calStart := cfg.Start.AddDate(0, -6, 0)
	if calStart.Before(lo) {
		calStart = lo
	}
	calEnd := cfg.End.AddDate(0, 1, 0)
	if calEnd.After(hi) {
		calEnd = hi
	}
	cal, err := calendar.NewCN(calStart, calEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	short, long := req.ShortWindow, req.LongWindow
	if short == 0 {
		short = 5
	}
	if long == 0 {
		long = 20
	}
	gen, err := strategy.NewMACross(short, long)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eng, err := backtest.New(cfg, cal, h.data, gen, h.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := eng.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("回测失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	run := h.store.Put(res)
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"id":      run.ID,
			"status":  res.Status,
			"summary": res.Summary,
			"metrics": res.Metrics,
			"trades":  len(res.Trades),
		},
	})
}

func (r RunRequest) toRunConfig() (backtest.RunConfig, error) {
	cfg := backtest.DefaultRunConfig()

	start, err := time.ParseInLocation(calendar.DateLayout, r.Start, time.Local)
	if err != nil {
		return cfg, errors.New("start 日期格式错误，应为 YYYY-MM-DD")
	}
	end, err := time.ParseInLocation(calendar.DateLayout, r.End, time.Local)
	if err != nil {
		return cfg, errors.New("end 日期格式错误，应为 YYYY-MM-DD")
	}
	cfg.Start = start
	cfg.End = end
	cfg.Symbols = r.Symbols
	cfg.AllowShort = r.AllowShort

	if r.InitialCash > 0 {
		cfg.InitialCash = decimal.NewFromFloat(r.InitialCash)
	}
	if r.MaxPositions > 0 {
		cfg.MaxPositions = r.MaxPositions
	}
	if r.PositionSizePct > 0 {
		cfg.PositionSizePct = decimal.NewFromFloat(r.PositionSizePct)
	}
	if r.ExecutionRule != "" {
		cfg.ExecutionRule = temporal.ExecutionRule(r.ExecutionRule)
	}
	if r.RejectPolicy != "" {
		cfg.RejectPolicy = temporal.Policy(r.RejectPolicy)
	}
	return cfg, cfg.Validate()
}

// ListResults 历史结果列表（摘要）
func (h *Handler) ListResults(c *gin.Context) {
	items := h.store.List()
	c.JSON(http.StatusOK, gin.H{
		"code":  0,
		"count": len(items),
		"data":  items,
	})
}

// GetLatestResult 最近一次回测的完整结果
func (h *Handler) GetLatestResult(c *gin.Context) {
	run, ok := h.store.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "暂无回测结果"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

// GetResult 按ID查询完整结果
func (h *Handler) GetResult(c *gin.Context) {
	run, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "未找到该回测结果",
			"id":    c.Param("id"),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

// GetStatus 服务状态
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"uptime":  time.Since(h.up).String(),
			"results": h.store.Len(),
		},
	})
}

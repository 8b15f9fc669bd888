package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mytrade/marketdata"
	"mytrade/model"
)

func testRouter(data *marketdata.MemoryProvider, store *Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(data, store, zap.NewNop())
	r := gin.New()
	r.POST("/api/backtest", h.RunBacktest)
	r.GET("/api/results", h.ListResults)
	r.GET("/api/results/latest", h.GetLatestResult)
	r.GET("/api/results/:id", h.GetResult)
	r.GET("/api/status", h.GetStatus)
	return r
}

func flatProvider(symbol string, from, to string) *marketdata.MemoryProvider {
	p := marketdata.NewMemoryProvider()
	start, _ := time.ParseInLocation("2006-01-02", from, time.Local)
	end, _ := time.ParseInLocation("2006-01-02", to, time.Local)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		p.Add(symbol, model.Bar{
			Symbol: symbol, Time: d,
			Open: 10, High: 10, Low: 10, Close: 10, Volume: 1000,
		})
	}
	return p
}

func TestRunBacktestEndpoint(t *testing.T) {
	r := testRouter(flatProvider("600519", "2024-01-02", "2024-03-29"), NewStore(5))

	body, _ := json.Marshal(RunRequest{
		Start:   "2024-03-04",
		End:     "2024-03-08",
		Symbols: []string{"600519"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/backtest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Trades int    `json:"trades"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Status != "COMPLETED" {
		t.Fatalf("run status = %s", resp.Data.Status)
	}
	// Flat prices never cross, so no trades.
	if resp.Data.Trades != 0 {
		t.Fatalf("trades = %d, want 0", resp.Data.Trades)
	}

	// The run must now be retrievable by id.
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/results/"+resp.Data.ID, nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("get by id = %d", w2.Code)
	}
}

func TestRunBacktestRejectsBadRequest(t *testing.T) {
	r := testRouter(marketdata.NewMemoryProvider(), NewStore(5))

	cases := []string{
		`{}`,
		`{"start":"2024-03-04","end":"2024-03-08"}`,
		`{"start":"bad","end":"2024-03-08","symbols":["600519"]}`,
		`{"start":"2024-03-08","end":"2024-03-04","symbols":["600519"]}`,
		`{"start":"2024-03-04","end":"2024-03-08","symbols":["600519"],"reject_policy":"retry"}`,
		`{"start":"2023-03-06","end":"2023-06-28","symbols":["600519"]}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/backtest", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestLatestResultEmptyStore(t *testing.T) {
	r := testRouter(marketdata.NewMemoryProvider(), NewStore(5))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/results/latest", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

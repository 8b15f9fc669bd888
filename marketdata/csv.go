package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"mytrade/calendar"
	"mytrade/model"
)

// CSVEncoding CSV文件编码
type CSVEncoding string

const (
	EncodingUTF8 CSVEncoding = "utf-8"
	// 国内行情软件导出的CSV多为GBK编码
	EncodingGBK CSVEncoding = "gbk"
)

// LoadCSV 从CSV文件加载某只股票的日K线并注入内存行情源。
// 列格式: 日期,开盘,最高,最低,收盘,成交量[,成交额]，首行为表头。
func LoadCSV(p *MemoryProvider, symbol, path string, enc CSVEncoding) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开CSV文件失败: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if enc == EncodingGBK {
		// 转换编码（行情软件导出通常为GBK）
		r = transform.NewReader(f, simplifiedchinese.GBK.NewDecoder())
	}

	bars, err := parseCSV(symbol, r)
	if err != nil {
		return 0, fmt.Errorf("解析 %s: %w", path, err)
	}
	p.Add(symbol, bars...)
	return len(bars), nil
}

func parseCSV(symbol string, r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []model.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("第%d行: %w", line+1, err)
		}
		line++
		// 跳过表头
		if line == 1 && !isDate(rec[0]) {
			continue
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("第%d行: 列数不足（至少6列）", line)
		}

		ts, err := time.ParseInLocation(calendar.DateLayout, strings.TrimSpace(rec[0]), time.Local)
		if err != nil {
			return nil, fmt.Errorf("第%d行: 日期格式错误 %q", line, rec[0])
		}

		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("第%d行: 价格字段 %q 解析失败", line, rec[i+1])
			}
			vals[i] = v
		}
		volume, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第%d行: 成交量 %q 解析失败", line, rec[5])
		}

		bar := model.Bar{
			Symbol: symbol,
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: volume,
		}
		if len(rec) > 6 {
			bar.Amount, _ = strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func isDate(s string) bool {
	_, err := time.ParseInLocation(calendar.DateLayout, strings.TrimSpace(s), time.Local)
	return err == nil
}

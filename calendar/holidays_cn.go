package calendar

import "time"

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.Local)
}

// Holidays2024CN A股2024年休市安排（国务院办公厅通知口径，仅工作日部分生效）
var Holidays2024CN = []Holiday{
	{Start: d(2024, 1, 1), End: d(2024, 1, 1), Name: "元旦"},
	{Start: d(2024, 2, 9), End: d(2024, 2, 17), Name: "春节"},
	{Start: d(2024, 4, 4), End: d(2024, 4, 6), Name: "清明节"},
	{Start: d(2024, 5, 1), End: d(2024, 5, 5), Name: "劳动节"},
	{Start: d(2024, 6, 10), End: d(2024, 6, 10), Name: "端午节"},
	{Start: d(2024, 9, 15), End: d(2024, 9, 17), Name: "中秋节"},
	{Start: d(2024, 10, 1), End: d(2024, 10, 7), Name: "国庆节"},
}

// 休市数据覆盖的日期窗口。窗口之外无法判定交易日，构建日历时直接拒绝。
var (
	cnDataStart = d(2024, 1, 1)
	cnDataEnd   = d(2025, 12, 31)
)

// CNHorizon returns the date window the bundled holiday tables cover.
func CNHorizon() (start, end time.Time) {
	return cnDataStart, cnDataEnd
}

// Holidays2025CN A股2025年休市安排
var Holidays2025CN = []Holiday{
	{Start: d(2025, 1, 1), End: d(2025, 1, 1), Name: "元旦"},
	{Start: d(2025, 1, 28), End: d(2025, 2, 4), Name: "春节"},
	{Start: d(2025, 4, 4), End: d(2025, 4, 6), Name: "清明节"},
	{Start: d(2025, 5, 1), End: d(2025, 5, 5), Name: "劳动节"},
	{Start: d(2025, 5, 31), End: d(2025, 6, 2), Name: "端午节"},
	{Start: d(2025, 10, 1), End: d(2025, 10, 8), Name: "国庆节"},
}

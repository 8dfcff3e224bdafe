package provider

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column aliases across providers; Eastmoney's index endpoint speaks Chinese
// column names, the daily kline endpoints speak English.
var columnAliases = map[string]string{
	"date":     "trade_date",
	"day":      "trade_date",
	"日期":       "trade_date",
	"close":    "close",
	"收盘":       "close",
	"high":     "high",
	"最高":       "high",
	"low":      "low",
	"最低":       "low",
	"pct_chg":  "pct_change",
	"涨跌幅":      "pct_change",
}

var dateLayouts = []string{"2006-01-02", "20060102", "2006/01/02"}

// normalizeNamed maps a named-column raw table into a Series. Rows whose
// date or close fail coercion are dropped; high/low default to close.
func normalizeNamed(raw *RawTable) Series {
	if raw == nil || len(raw.Rows) == 0 {
		return nil
	}

	cols := map[string]int{}
	for i, name := range raw.Columns {
		if canonical, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			if _, seen := cols[canonical]; !seen {
				cols[canonical] = i
			}
		}
	}

	dateIdx, hasDate := cols["trade_date"]
	closeIdx, hasClose := cols["close"]
	if !hasDate || !hasClose {
		return nil
	}

	series := make(Series, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		tradeDate, ok := parseDate(cell(row, dateIdx))
		if !ok {
			continue
		}
		closeVal, ok := parseCell(cell(row, closeIdx))
		if !ok {
			continue
		}

		high := closeVal
		if idx, present := cols["high"]; present {
			if v, ok := parseCell(cell(row, idx)); ok {
				high = v
			}
		}
		low := closeVal
		if idx, present := cols["low"]; present {
			if v, ok := parseCell(cell(row, idx)); ok {
				low = v
			}
		}

		var pct *float64
		if idx, present := cols["pct_change"]; present {
			if v, ok := parseCell(cell(row, idx)); ok {
				pct = &v
			}
		}

		series = append(series, Row{TradeDate: tradeDate, Close: closeVal, High: high, Low: low, PctChange: pct})
	}

	sortByDate(series)
	return series
}

// CSIndex positional offsets; the endpoint returns at least ten columns with
// dates first and OHLC buried mid-row.
const (
	csindexMinColumns = 10
	csindexDateCol    = 0
	csindexHighCol    = 7
	csindexLowCol     = 8
	csindexCloseCol   = 9
	csindexPctCol     = 11
)

// normalizeCSIndex maps the CSIndex positional schema into a Series.
func normalizeCSIndex(raw *RawTable) Series {
	if raw == nil || len(raw.Rows) == 0 || len(raw.Columns) < csindexMinColumns {
		return nil
	}

	hasPct := len(raw.Columns) > csindexPctCol

	series := make(Series, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		tradeDate, ok := parseDate(cell(row, csindexDateCol))
		if !ok {
			continue
		}
		closeVal, ok := parseCell(cell(row, csindexCloseCol))
		if !ok {
			continue
		}

		high := closeVal
		if v, ok := parseCell(cell(row, csindexHighCol)); ok {
			high = v
		}
		low := closeVal
		if v, ok := parseCell(cell(row, csindexLowCol)); ok {
			low = v
		}

		var pct *float64
		if hasPct {
			if v, ok := parseCell(cell(row, csindexPctCol)); ok {
				pct = &v
			}
		}

		series = append(series, Row{TradeDate: tradeDate, Close: closeVal, High: high, Low: low, PctChange: pct})
	}

	sortByDate(series)
	return series
}

func sortByDate(series Series) {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].TradeDate.Before(series[j].TradeDate)
	})
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseCell coerces a numeric cell. Decimal parsing keeps provider values
// exact before the float conversion and rejects the junk placeholders the
// upstreams emit for missing data.
func parseCell(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "-" || strings.EqualFold(v, "none") || strings.EqualFold(v, "null") {
		return 0, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(v, "%"))
	if err != nil {
		return 0, false
	}
	f := d.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	emKlineFields1 = "f1,f2,f3,f4,f5,f6"
	emKlineFields2 = "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"
	emDailyKlt     = "101" // daily bars
)

// Kline cell order for fields2 above, as emitted by the push2his endpoint.
var emHistColumns = []string{"日期", "开盘", "收盘", "最高", "最低", "成交量", "成交额", "振幅", "涨跌幅", "涨跌额", "换手率"}

var emDailyColumns = []string{"date", "open", "close", "high", "low", "volume", "amount", "amplitude", "pct_chg", "change", "turnover"}

// EastmoneyOptions parameterise the Eastmoney kline client.
type EastmoneyOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Eastmoney queries the push2his kline API. It backs three of the five
// history providers, differing only in symbol form and column naming.
type Eastmoney struct {
	opts    EastmoneyOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewEastmoney constructs an Eastmoney client.
func NewEastmoney(opts EastmoneyOptions, logger zerolog.Logger) *Eastmoney {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://push2his.eastmoney.com"
	}

	return &Eastmoney{
		opts:    opts,
		logger:  logger.With().Str("component", "eastmoney_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type emKlineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// IndexHist fetches index klines for a bare index code, returning the
// Chinese-named column layout the index endpoint uses.
func (e *Eastmoney) IndexHist(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
	secid := indexSecID(code)
	return e.kline(ctx, secid, start, end, emHistColumns)
}

// DailyKline fetches daily klines for a prefixed symbol (csi000300, sh000001,
// sz399001 or a bare code), returning English column names.
func (e *Eastmoney) DailyKline(ctx context.Context, symbol string, start, end time.Time) (*RawTable, error) {
	secid, err := symbolSecID(symbol)
	if err != nil {
		return nil, err
	}
	return e.kline(ctx, secid, start, end, emDailyColumns)
}

func (e *Eastmoney) kline(ctx context.Context, secid string, start, end time.Time, columns []string) (*RawTable, error) {
	q := url.Values{}
	q.Set("secid", secid)
	q.Set("fields1", emKlineFields1)
	q.Set("fields2", emKlineFields2)
	q.Set("klt", emDailyKlt)
	q.Set("fqt", "0")
	q.Set("beg", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))

	endpoint := e.baseURL + "/api/qt/stock/kline/get?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eastmoney kline status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded emKlineResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode eastmoney kline: %w", err)
	}
	if decoded.Data == nil {
		return nil, fmt.Errorf("eastmoney kline: empty data for secid %s", secid)
	}

	rows := make([][]string, 0, len(decoded.Data.Klines))
	for _, line := range decoded.Data.Klines {
		rows = append(rows, strings.Split(line, ","))
	}

	return &RawTable{Columns: columns, Rows: rows}, nil
}

// indexSecID resolves a bare index code to a push2his secid. Shenzhen index
// codes live on market 0, everything else on market 1.
func indexSecID(code string) string {
	if strings.HasPrefix(code, "399") {
		return "0." + code
	}
	return "1." + code
}

func symbolSecID(symbol string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	switch {
	case strings.HasPrefix(s, "csi"):
		return "2." + strings.TrimPrefix(s, "csi"), nil
	case strings.HasPrefix(s, "sh"):
		return "1." + strings.TrimPrefix(s, "sh"), nil
	case strings.HasPrefix(s, "sz"):
		return "0." + strings.TrimPrefix(s, "sz"), nil
	case s == "":
		return "", fmt.Errorf("eastmoney: empty symbol")
	default:
		return indexSecID(s), nil
	}
}

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

// CSIndexOptions parameterise the CSIndex client.
type CSIndexOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// CSIndex queries the index-performance endpoint of csindex.com.cn, the
// operator's own API. It serves the "93"-prefixed CSI custom indices the
// aggregators do not carry, and acts as the last resort for everything else.
type CSIndex struct {
	opts    CSIndexOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCSIndex constructs a CSIndex client.
func NewCSIndex(opts CSIndexOptions, logger zerolog.Logger) *CSIndex {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.csindex.com.cn"
	}

	return &CSIndex{
		opts:    opts,
		logger:  logger.With().Str("component", "csindex_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Upstream row layout. The normalizer addresses these by offset, so the
// column order here must stay in sync with csindex*Col in normalize.go.
var csindexColumns = []string{
	"日期", "指数代码", "指数中文全称", "指数中文简称", "指数英文全称", "指数英文简称",
	"开盘", "最高", "最低", "收盘", "涨跌", "涨跌幅",
}

type csindexResponse struct {
	Code string `json:"code"`
	Data []struct {
		TradeDate      string          `json:"tradeDate"`
		IndexCode      string          `json:"indexCode"`
		IndexNameCnAll string          `json:"indexNameCnAll"`
		IndexNameCn    string          `json:"indexNameCn"`
		IndexNameEnAll string          `json:"indexNameEnAll"`
		IndexNameEn    string          `json:"indexNameEn"`
		Open           json.RawMessage `json:"open"`
		High           json.RawMessage `json:"high"`
		Low            json.RawMessage `json:"low"`
		Close          json.RawMessage `json:"close"`
		Change         json.RawMessage `json:"change"`
		ChangePct      json.RawMessage `json:"changePct"`
	} `json:"data"`
}

// IndexPerf fetches the performance history for an index code.
func (c *CSIndex) IndexPerf(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
	q := url.Values{}
	q.Set("indexCode", code)
	q.Set("startDate", start.Format("20060102"))
	q.Set("endDate", end.Format("20060102"))

	endpoint := c.baseURL + "/csindex-home/perf/index-perf?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csindex perf status %d", resp.StatusCode)
	}

	var decoded csindexResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode csindex perf: %w", err)
	}

	rows := make([][]string, 0, len(decoded.Data))
	for _, d := range decoded.Data {
		rows = append(rows, []string{
			d.TradeDate,
			d.IndexCode,
			d.IndexNameCnAll,
			d.IndexNameCn,
			d.IndexNameEnAll,
			d.IndexNameEn,
			rawCell(d.Open),
			rawCell(d.High),
			rawCell(d.Low),
			rawCell(d.Close),
			rawCell(d.Change),
			rawCell(d.ChangePct),
		})
	}

	return &RawTable{Columns: csindexColumns, Rows: rows}, nil
}

// rawCell renders a JSON scalar (number, quoted string, or null) as a plain
// cell string for the normalizer.
func rawCell(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

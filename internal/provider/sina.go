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

// SinaOptions parameterise the Sina kline client.
type SinaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	MaxBars   int
}

// Sina queries the Sina finance daily kline service. The endpoint takes a
// prefixed symbol (sh000300 / sz399001) and has no date-range parameters;
// it returns up to MaxBars most recent daily bars.
type Sina struct {
	opts    SinaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSina constructs a Sina client.
func NewSina(opts SinaOptions, logger zerolog.Logger) *Sina {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://quotes.sina.cn"
	}

	if opts.MaxBars <= 0 {
		opts.MaxBars = 5000
	}

	return &Sina{
		opts:    opts,
		logger:  logger.With().Str("component", "sina_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type sinaBar struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// DailyKline fetches the full daily history for a prefixed symbol.
func (s *Sina) DailyKline(ctx context.Context, symbol string) (*RawTable, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("sina: empty symbol")
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("scale", "240") // daily bars
	q.Set("datalen", fmt.Sprintf("%d", s.opts.MaxBars))

	endpoint := s.baseURL + "/cn/api/jsonp_v2.php/var/CN_MarketDataService.getKLineData?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sina kline status %d", resp.StatusCode)
	}

	bars, err := parseSinaPayload(payload)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []string{b.Day, b.Open, b.High, b.Low, b.Close, b.Volume})
	}

	return &RawTable{
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows:    rows,
	}, nil
}

// parseSinaPayload strips the jsonp wrapper (`var=([...])`) when present and
// decodes the bar array.
func parseSinaPayload(payload []byte) ([]sinaBar, error) {
	body := strings.TrimSpace(string(payload))
	if idx := strings.Index(body, "=("); idx >= 0 {
		body = body[idx+2:]
		body = strings.TrimSuffix(strings.TrimSpace(body), ");")
		body = strings.TrimSuffix(body, ")")
	}

	var bars []sinaBar
	if err := json.Unmarshal([]byte(body), &bars); err != nil {
		return nil, fmt.Errorf("decode sina kline: %w", err)
	}
	return bars, nil
}

// SinaSymbol maps a bare index code to Sina's prefixed form. Shenzhen
// component codes use the sz prefix, everything else sh.
func SinaSymbol(code string) string {
	if strings.HasPrefix(code, "399") {
		return "sz" + code
	}
	return "sh" + code
}

package bybit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autoclose/internal/market"
	symbolpkg "autoclose/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL  = "https://api.bybit.com"
	defaultCategory = "linear"
	maxLimit        = 1000
)

// intervals maps canonical timeframe keys to Bybit v5 interval codes.
var intervals = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"12h": "720",
	"1d":  "D",
	"1w":  "W",
}

type Config struct {
	BaseURL     string
	Category    string
	HTTPTimeout time.Duration
}

// Source 拉取 Bybit v5 /v5/market/kline。接口按时间倒序返回，这里翻转为升序。
type Source struct {
	baseURL  string
	category string
	client   *http.Client
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) *Source {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	category := strings.TrimSpace(cfg.Category)
	if category == "" {
		category = defaultCategory
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{
		baseURL:  base,
		category: category,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *Source) Name() string { return "bybit" }

func (s *Source) FetchRecent(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	clean := symbolpkg.ToExchange(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval, ok := intervals[tf.Key]
	if !ok {
		return nil, fmt.Errorf("bybit: unsupported timeframe %q", tf.Key)
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	u, err := url.Parse(s.baseURL + "/v5/market/kline")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("category", s.category)
	q.Set("symbol", clean)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit: status %d", resp.StatusCode)
	}
	return parseKlines(body, tf)
}

func parseKlines(body []byte, tf market.Timeframe) ([]market.Candle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("bybit: invalid json")
	}
	root := gjson.ParseBytes(body)
	if code := root.Get("retCode").Int(); code != 0 {
		return nil, fmt.Errorf("bybit: retCode=%d retMsg=%s", code, root.Get("retMsg").String())
	}
	rows := root.Get("result.list")
	if !rows.IsArray() {
		return nil, fmt.Errorf("bybit: result.list missing")
	}
	step := tf.Millis()
	out := make([]market.Candle, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 6 {
			return true
		}
		start := cols[0].Int()
		c := market.Candle{
			OpenTime:  start,
			CloseTime: start + step - 1,
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
		}
		if len(cols) > 6 {
			c.Turnover = cols[6].Float()
		}
		out = append(out, c)
		return true
	})
	market.Reverse(out)
	return market.SortAscending(out), nil
}

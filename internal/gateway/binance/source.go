package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"autoclose/internal/market"
	symbolpkg "autoclose/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 拉取 USDT 合约历史 K 线。
type Source struct {
	cfg    Config
	client *futures.Client
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	cfg = cfg.normalized()
	httpClient, err := cfg.httpClient()
	if err != nil {
		return nil, err
	}
	client := futures.NewClient("", "")
	client.BaseURL = cfg.BaseURL
	client.HTTPClient = httpClient
	return &Source{cfg: cfg, client: client}, nil
}

func (s *Source) Name() string { return "binance" }

// FetchRecent returns the latest limit bars, oldest first (Binance already answers ascending).
func (s *Source) FetchRecent(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.ToExchange(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if tf.Key == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(tf.Key).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", clean, tf.Key, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Turnover:  parseFloat(kl.QuoteAssetVolume),
		})
	}
	return market.SortAscending(out), nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

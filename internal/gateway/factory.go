package gateway

import (
	"fmt"
	"strings"
	"time"

	"autoclose/internal/config"
	"autoclose/internal/gateway/binance"
	"autoclose/internal/gateway/bybit"
	"autoclose/internal/market"
)

// NewSourceFromConfig 根据 market.provider 构造远端 K 线数据源。
func NewSourceFromConfig(cfg *config.Config) (market.Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	timeout := time.Duration(cfg.Candles.FetchTimeoutSeconds) * time.Second
	m := cfg.Market
	switch strings.ToLower(strings.TrimSpace(m.Provider)) {
	case "", "bybit":
		return bybit.New(bybit.Config{
			BaseURL:     m.RESTBaseURL,
			Category:    m.Category,
			HTTPTimeout: timeout,
		}), nil
	case "binance", "binance-futures":
		return binance.New(binance.Config{
			BaseURL:  m.RESTBaseURL,
			Timeout:  timeout,
			ProxyURL: m.ProxyURL,
		})
	default:
		return nil, fmt.Errorf("unsupported market provider: %s", m.Provider)
	}
}

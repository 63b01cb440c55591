package app

import (
	"fmt"
	"time"

	"autoclose/internal/candles"
	"autoclose/internal/config"
	"autoclose/internal/gateway"
	"autoclose/internal/market"
	"autoclose/internal/pkg/circuit"
)

func buildMarketSource(cfg *config.Config) (market.Source, error) {
	src, err := gateway.NewSourceFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	return src, nil
}

func buildFetcher(cfg config.CandlesConfig, cache candles.Cache, src market.Source, obs candles.FetchObserver, now func() time.Time) (*candles.Fetcher, error) {
	breakerName := "market"
	if src != nil {
		breakerName = src.Name()
	}
	breaker := circuit.New(breakerName, cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	return candles.NewFetcher(candles.FetcherConfig{
		Cache:           cache,
		Source:          src,
		Breaker:         breaker,
		Observer:        obs,
		FetchTimeout:    time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		CoverageRatio:   cfg.CoverageRatio,
		FetchLimit:      cfg.FetchLimit,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Now:             now,
	})
}

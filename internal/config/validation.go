package config

import (
	"fmt"
	"strings"

	"autoclose/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Candles.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.AutoClose.validate(); err != nil {
		return err
	}
	if err := c.StrategyExit.validate(); err != nil {
		return err
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	return nil
}

func (c CandlesConfig) validate() error {
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("candles.cache_path cannot be empty")
	}
	if c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("candles.fetch_timeout_seconds must be > 0")
	}
	if c.CoverageRatio <= 0 || c.CoverageRatio > 1 {
		return fmt.Errorf("candles.coverage_ratio must be in (0, 1], got %v", c.CoverageRatio)
	}
	if c.FetchLimit <= 0 || c.FetchLimit > 1000 {
		return fmt.Errorf("candles.fetch_limit must be in [1, 1000], got %d", c.FetchLimit)
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("candles.rate_limit_per_min must be >= 0")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("candles.breaker_threshold must be > 0")
	}
	return nil
}

func (m MarketConfig) validate() error {
	switch m.Provider {
	case "bybit":
		switch m.Category {
		case "linear", "inverse", "spot":
		default:
			return fmt.Errorf("market.category unsupported: %s", m.Category)
		}
	case "binance":
	default:
		return fmt.Errorf("market.provider unsupported: %s (bybit|binance)", m.Provider)
	}
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	return nil
}

func (a AutoCloseConfig) validate() error {
	if a.IntervalSeconds <= 0 {
		return fmt.Errorf("auto_close.interval_seconds must be > 0")
	}
	if a.MaxResults <= 0 {
		return fmt.Errorf("auto_close.max_results must be > 0")
	}
	if a.PrefetchConcurrency < 0 {
		return fmt.Errorf("auto_close.prefetch_concurrency must be >= 0")
	}
	if a.SpreadToleranceStd <= 0 {
		return fmt.Errorf("auto_close.spread_tolerance_std must be > 0")
	}
	return a.MaxOpenBars.validate()
}

func (m MaxOpenBarsConfig) validate() error {
	check := func(prefix string, table map[string]int) error {
		for tf, bars := range table {
			if _, err := market.ParseTimeframe(tf); err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			if bars < 0 {
				return fmt.Errorf("%s.%s must be >= 0", prefix, tf)
			}
		}
		return nil
	}
	if err := check("auto_close.max_open_bars.before_fill", m.BeforeFill); err != nil {
		return err
	}
	if err := check("auto_close.max_open_bars.after_fill", m.AfterFill); err != nil {
		return err
	}
	for name, pb := range m.Strategies {
		prefix := "auto_close.max_open_bars.strategies." + name
		if err := check(prefix+".before_fill", pb.BeforeFill); err != nil {
			return err
		}
		if err := check(prefix+".after_fill", pb.AfterFill); err != nil {
			return err
		}
	}
	return nil
}

func (s StrategyExitConfig) validate() error {
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("strategy_exit.timeout_seconds must be > 0")
	}
	if s.ZScoreExit >= s.ZScoreStop {
		return fmt.Errorf("strategy_exit.zscore_exit (%v) must be below zscore_stop (%v)", s.ZScoreExit, s.ZScoreStop)
	}
	if s.Lookback < 0 {
		return fmt.Errorf("strategy_exit.lookback must be >= 0")
	}
	return nil
}

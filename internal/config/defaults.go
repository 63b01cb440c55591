package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv                 = "dev"
	defaultAppLogLevel            = "info"
	defaultAppHTTPAddr            = ":9991"
	defaultAppLogPath             = "/data/logs/autoclose.log"
	defaultDatabasePath           = "/data/db/paper_trades.db"
	defaultCandleCachePath        = "/data/db/klines.db"
	defaultCandleFetchTimeout     = 5
	defaultCandleCoverage         = 0.8
	defaultCandleFetchLimit       = 200
	defaultCandleRatePerMin       = 120
	defaultBreakerThreshold       = 5
	defaultBreakerCooldown        = 60
	defaultMarketProvider         = "bybit"
	defaultBybitREST              = "https://api.bybit.com"
	defaultBinanceREST            = "https://fapi.binance.com"
	defaultBybitCategory          = "linear"
	defaultAutoCloseInterval      = 300
	defaultAutoCloseMaxResults    = 50
	defaultAutoClosePrefetch      = 4
	defaultSpreadToleranceStd     = 1.5
	defaultStrategyExitTimeout    = 10
	defaultStrategyExitZScoreExit = 0.5
	defaultStrategyExitZScoreStop = 3.5
)

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Candles.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AutoClose.applyDefaults(keys)
	c.StrategyExit.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("database.path", &d.Path, defaultDatabasePath))
}

func (c *CandlesConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("candles.cache_path", &c.CachePath, defaultCandleCachePath),
		intFieldDefault("candles.fetch_timeout_seconds", &c.FetchTimeoutSeconds, defaultCandleFetchTimeout),
		fieldDefault{
			key:   "candles.coverage_ratio",
			need:  func() bool { return c.CoverageRatio <= 0 },
			apply: func() { c.CoverageRatio = defaultCandleCoverage },
		},
		intFieldDefault("candles.fetch_limit", &c.FetchLimit, defaultCandleFetchLimit),
		intFieldDefault("candles.rate_limit_per_min", &c.RateLimitPerMin, defaultCandleRatePerMin),
		intFieldDefault("candles.breaker_threshold", &c.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("candles.breaker_cooldown_seconds", &c.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	applyFieldDefaults(keys, stringFieldDefault("market.provider", &m.Provider, defaultMarketProvider))
	rest := defaultBybitREST
	if m.Provider == "binance" {
		rest = defaultBinanceREST
	}
	applyFieldDefaults(keys, stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, rest))
	if m.Provider == "bybit" {
		applyFieldDefaults(keys, stringFieldDefault("market.category", &m.Category, defaultBybitCategory))
	}
}

func (a *AutoCloseConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("auto_close.interval_seconds", &a.IntervalSeconds, defaultAutoCloseInterval),
		intFieldDefault("auto_close.max_results", &a.MaxResults, defaultAutoCloseMaxResults),
		intFieldDefault("auto_close.prefetch_concurrency", &a.PrefetchConcurrency, defaultAutoClosePrefetch),
		fieldDefault{
			key:   "auto_close.spread_tolerance_std",
			need:  func() bool { return a.SpreadToleranceStd <= 0 },
			apply: func() { a.SpreadToleranceStd = defaultSpreadToleranceStd },
		},
	)
	a.MaxOpenBars = a.MaxOpenBars.normalized()
}

func (s *StrategyExitConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("strategy_exit.timeout_seconds", &s.TimeoutSeconds, defaultStrategyExitTimeout),
		fieldDefault{
			key:   "strategy_exit.zscore_exit",
			need:  func() bool { return s.ZScoreExit <= 0 },
			apply: func() { s.ZScoreExit = defaultStrategyExitZScoreExit },
		},
		fieldDefault{
			key:   "strategy_exit.zscore_stop",
			need:  func() bool { return s.ZScoreStop <= 0 },
			apply: func() { s.ZScoreStop = defaultStrategyExitZScoreStop },
		},
	)
	cmd := s.Command[:0]
	for _, part := range s.Command {
		if part = strings.TrimSpace(part); part != "" {
			cmd = append(cmd, part)
		}
	}
	s.Command = cmd
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

package config

import (
	"strings"

	"autoclose/internal/market"
)

// Config 是 autoclose 的主配置载体。
type Config struct {
	App          AppConfig          `toml:"app" yaml:"app"`
	Database     DatabaseConfig     `toml:"database" yaml:"database"`
	Candles      CandlesConfig      `toml:"candles" yaml:"candles"`
	Market       MarketConfig       `toml:"market" yaml:"market"`
	AutoClose    AutoCloseConfig    `toml:"auto_close" yaml:"auto_close"`
	StrategyExit StrategyExitConfig `toml:"strategy_exit" yaml:"strategy_exit"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
	LogPath  string `toml:"log_path" yaml:"log_path"`

	// ExitDumpPath 非空时记录外部策略子进程的请求与响应。
	ExitDumpPath string `toml:"exit_dump_path" yaml:"exit_dump_path,omitempty"`
}

// DatabaseConfig 指向交易/Run/监控状态所在的 sqlite 文件。
type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// CandlesConfig 控制本地 K 线缓存与远程补数行为。
type CandlesConfig struct {
	CachePath              string  `toml:"cache_path" yaml:"cache_path"`
	FetchTimeoutSeconds    int     `toml:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	CoverageRatio          float64 `toml:"coverage_ratio" yaml:"coverage_ratio"`
	FetchLimit             int     `toml:"fetch_limit" yaml:"fetch_limit"`
	RateLimitPerMin        int     `toml:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	BreakerThreshold       int     `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

type MarketConfig struct {
	Provider    string `toml:"provider" yaml:"provider"` // bybit | binance
	RESTBaseURL string `toml:"rest_base_url" yaml:"rest_base_url"`
	Category    string `toml:"category" yaml:"category"` // bybit only: linear | spot | inverse
	ProxyURL    string `toml:"proxy_url" yaml:"proxy_url"`
}

// AutoCloseConfig 控制对账批处理的节奏与阈值。
type AutoCloseConfig struct {
	IntervalSeconds     int               `toml:"interval_seconds" yaml:"interval_seconds"`
	RunImmediately      bool              `toml:"run_immediately" yaml:"run_immediately"`
	MaxResults          int               `toml:"max_results" yaml:"max_results"`
	PrefetchConcurrency int               `toml:"prefetch_concurrency" yaml:"prefetch_concurrency"`
	SpreadToleranceStd  float64           `toml:"spread_tolerance_std" yaml:"spread_tolerance_std"`
	MaxOpenBars         MaxOpenBarsConfig `toml:"max_open_bars" yaml:"max_open_bars"`
}

// StrategyExitConfig 描述非价格型策略的退出判定方式。
// Command 为空时使用内置的价差 z-score 判定。
type StrategyExitConfig struct {
	Command        []string `toml:"command" yaml:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
	ZScoreExit     float64  `toml:"zscore_exit" yaml:"zscore_exit"`
	ZScoreStop     float64  `toml:"zscore_stop" yaml:"zscore_stop"`
	Lookback       int      `toml:"lookback" yaml:"lookback"`
}

// Phase distinguishes the pending ceiling from the open-position ceiling.
type Phase string

const (
	PhaseBeforeFill Phase = "before_fill"
	PhaseAfterFill  Phase = "after_fill"
)

// PhaseBars maps timeframe -> bar ceiling for both phases.
type PhaseBars struct {
	BeforeFill map[string]int `toml:"before_fill" yaml:"before_fill,omitempty"`
	AfterFill  map[string]int `toml:"after_fill" yaml:"after_fill,omitempty"`
}

// MaxOpenBarsConfig 全局阈值 + 按策略类型覆盖；0 表示不限制。
type MaxOpenBarsConfig struct {
	BeforeFill map[string]int       `toml:"before_fill" yaml:"before_fill,omitempty"`
	AfterFill  map[string]int       `toml:"after_fill" yaml:"after_fill,omitempty"`
	Strategies map[string]PhaseBars `toml:"strategies" yaml:"strategies,omitempty"`
}

func (p PhaseBars) table(phase Phase) map[string]int {
	if phase == PhaseAfterFill {
		return p.AfterFill
	}
	return p.BeforeFill
}

// Lookup returns the bar ceiling for strategyType/timeframe/phase.
// A strategy-specific entry wins over the global table, including an explicit 0.
func (m MaxOpenBarsConfig) Lookup(strategyType, timeframe string, phase Phase) int {
	tf := normalizeTimeframeKey(timeframe)
	if tf == "" {
		return 0
	}
	if st := strings.ToLower(strings.TrimSpace(strategyType)); st != "" {
		if override, ok := m.Strategies[st]; ok {
			if v, ok := override.table(phase)[tf]; ok {
				return max(v, 0)
			}
		}
	}
	global := PhaseBars{BeforeFill: m.BeforeFill, AfterFill: m.AfterFill}
	return max(global.table(phase)[tf], 0)
}

func (m MaxOpenBarsConfig) normalized() MaxOpenBarsConfig {
	out := MaxOpenBarsConfig{
		BeforeFill: normalizeBarTable(m.BeforeFill),
		AfterFill:  normalizeBarTable(m.AfterFill),
	}
	if len(m.Strategies) > 0 {
		out.Strategies = make(map[string]PhaseBars, len(m.Strategies))
		for name, pb := range m.Strategies {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			out.Strategies[name] = PhaseBars{
				BeforeFill: normalizeBarTable(pb.BeforeFill),
				AfterFill:  normalizeBarTable(pb.AfterFill),
			}
		}
	}
	return out
}

func normalizeBarTable(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		key := normalizeTimeframeKey(k)
		if key == "" {
			// keep unknown keys so validation can report them
			key = strings.ToLower(strings.TrimSpace(k))
		}
		out[key] = v
	}
	return out
}

func normalizeTimeframeKey(raw string) string {
	tf, err := market.ParseTimeframe(raw)
	if err != nil {
		return ""
	}
	return tf.Key
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

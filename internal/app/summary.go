package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"autoclose/internal/config"
)

// StartupSummary 启动时打印的一次性配置摘要。
type StartupSummary struct {
	Env          string
	HTTPAddr     string
	Source       string
	Interval     time.Duration
	Immediate    bool
	DatabasePath string
	CachePath    string
	Evaluators   []string
	BeforeFill   map[string]int
	AfterFill    map[string]int
}

func newStartupSummary(cfg *config.Config, source string, evaluators []string) *StartupSummary {
	return &StartupSummary{
		Env:          cfg.App.Env,
		HTTPAddr:     cfg.App.HTTPAddr,
		Source:       source,
		Interval:     time.Duration(cfg.AutoClose.IntervalSeconds) * time.Second,
		Immediate:    cfg.AutoClose.RunImmediately,
		DatabasePath: cfg.Database.Path,
		CachePath:    cfg.Candles.CachePath,
		Evaluators:   evaluators,
		BeforeFill:   cfg.AutoClose.MaxOpenBars.BeforeFill,
		AfterFill:    cfg.AutoClose.MaxOpenBars.AfterFill,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行 (RUNTIME)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  HTTP: %s\n", s.HTTPAddr)
	fmt.Printf("  对账间隔: %s (启动即执行=%v)\n", s.Interval, s.Immediate)
	fmt.Println()

	fmt.Println("[数据 (DATA)]")
	fmt.Printf("  交易库: %s\n", s.DatabasePath)
	fmt.Printf("  K线缓存: %s\n", s.CachePath)
	fmt.Printf("  行情源: %s\n", s.Source)
	fmt.Println()

	fmt.Println("[退出判定 (EXITS)]")
	fmt.Printf("  策略评估器: %s\n", formatList(s.Evaluators))
	fmt.Printf("  成交前最大K线数: %s\n", formatBars(s.BeforeFill))
	fmt.Printf("  成交后最大K线数: %s\n", formatBars(s.AfterFill))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatBars(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

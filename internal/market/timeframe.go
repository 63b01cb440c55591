package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述K线周期（内部 key + 时长）。
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"3m":  {Key: "3m", Duration: 3 * time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"6h":  {Key: "6h", Duration: 6 * time.Hour},
	"12h": {Key: "12h", Duration: 12 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour},
}

var timeframeAliases = map[string]string{
	"60m":  "1h",
	"240m": "4h",
	"24h":  "1d",
	"d":    "1d",
	"7d":   "1w",
	"w":    "1w",
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := timeframeAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes returns the canonical keys, sorted.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Millis is the bar length in milliseconds.
func (tf Timeframe) Millis() int64 {
	return tf.Duration.Milliseconds()
}

// AlignDown truncates ts to the start of the bar containing it.
func (tf Timeframe) AlignDown(ts int64) int64 {
	step := tf.Millis()
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// LastCompleteStart is the start of the newest bar whose window has fully elapsed at nowMs:
// now − (now mod tf) − tf. Bars starting after it are still forming.
func (tf Timeframe) LastCompleteStart(nowMs int64) int64 {
	return tf.AlignDown(nowMs) - tf.Millis()
}

// IsComplete reports whether the bar starting at openTime has closed by nowMs.
func (tf Timeframe) IsComplete(openTime, nowMs int64) bool {
	return openTime <= tf.LastCompleteStart(nowMs)
}

// ExpectedCandles 计算开盘时间落在 [start, end] 内的 K 线数量。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.Millis()
	if step <= 0 {
		return 0
	}
	first := tf.AlignDown(start)
	if first < start {
		first += step
	}
	if end < first {
		return 0
	}
	return (end-first)/step + 1
}

// BarsBetween counts whole bars elapsed from fromMs to toMs; negative spans count as zero.
func (tf Timeframe) BarsBetween(fromMs, toMs int64) int {
	step := tf.Millis()
	if step <= 0 || toMs <= fromMs {
		return 0
	}
	return int((toMs - fromMs) / step)
}

// CompleteOnly drops bars that are still forming at nowMs. Input must be ascending.
func (tf Timeframe) CompleteOnly(candles []Candle, nowMs int64) []Candle {
	cutoff := tf.LastCompleteStart(nowMs)
	n := len(candles)
	for n > 0 && candles[n-1].OpenTime > cutoff {
		n--
	}
	return candles[:n]
}

package autoclose

import (
	"autoclose/internal/market"
)

// DefaultSpreadToleranceStd is the spread fill tolerance in multiples of spread_std.
const DefaultSpreadToleranceStd = 1.5

// Fill is a detected entry. Index points into the candle slice that was scanned.
type Fill struct {
	Index     int
	Time      int64
	Price     float64
	PairPrice float64
}

// DetectPriceFill returns the first candle at or after signalMs whose range contains entry.
func DetectPriceFill(candles []market.Candle, signalMs int64, entry float64) (Fill, bool) {
	if entry <= 0 {
		return Fill{}, false
	}
	for i, c := range candles {
		if c.OpenTime < signalMs {
			continue
		}
		if touches(c.Low, c.High, entry) {
			return Fill{Index: i, Time: c.OpenTime, Price: entry}, true
		}
	}
	return Fill{}, false
}

// DetectSpreadFill 两条腿按下标对齐；同一下标两条腿的入场价都被触及，
// 且当前价差偏离入场价差不超过 tolerance×spread_std 时视为成交。
// spread_std ≤ 0 时无法判断偏离，视为不成交。
func DetectSpreadFill(primary, pair []market.Candle, signalMs int64, entry float64, meta SpreadMeta, tolerance float64) (Fill, bool) {
	if entry <= 0 || meta.PairEntryPrice <= 0 || len(pair) == 0 || meta.SpreadStd <= 0 {
		return Fill{}, false
	}
	if tolerance <= 0 {
		tolerance = DefaultSpreadToleranceStd
	}
	beta := decFromFloat(meta.Beta)
	entrySpread := decFromFloat(meta.PairEntryPrice).Sub(beta.Mul(decFromFloat(entry)))
	limit := decFromFloat(tolerance).Mul(decFromFloat(meta.SpreadStd))

	n := min(len(primary), len(pair))
	for i := 0; i < n; i++ {
		p, q := primary[i], pair[i]
		if p.OpenTime < signalMs || q.OpenTime < signalMs {
			continue
		}
		if !touches(p.Low, p.High, entry) || !touches(q.Low, q.High, meta.PairEntryPrice) {
			continue
		}
		spread := decFromFloat(q.Close).Sub(beta.Mul(decFromFloat(p.Close)))
		if spread.Sub(entrySpread).Abs().GreaterThan(limit) {
			continue
		}
		return Fill{Index: i, Time: p.OpenTime, Price: entry, PairPrice: meta.PairEntryPrice}, true
	}
	return Fill{}, false
}

package exit

import (
	"context"
	"fmt"
	"math"

	"autoclose/internal/market"

	"github.com/markcheno/go-talib"
)

const (
	ReasonSpreadReverted = "spread_reverted"
	ReasonSpreadStop     = "spread_stop"
)

// SpreadEvaluator 内置的价差 z-score 退出：|z| 回落到 exitZ 以内视为回归止盈，
// |z| 超过 stopZ 视为发散止损。Lookback > 0 时使用滚动均值/标准差，
// 窗口未填满前退回到开仓时记录的 spread_mean/spread_std。
type SpreadEvaluator struct {
	exitZ    float64
	stopZ    float64
	lookback int
}

func NewSpreadEvaluator(exitZ, stopZ float64, lookback int) *SpreadEvaluator {
	return &SpreadEvaluator{exitZ: exitZ, stopZ: stopZ, lookback: lookback}
}

func (s *SpreadEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if req.Pair == nil {
		return nil, fmt.Errorf("%w: trade %s has no pair leg", ErrInsufficientData, req.TradeID)
	}
	n := min(len(req.Candles), len(req.PairCandles))
	if n == 0 {
		return nil, fmt.Errorf("%w: no aligned candles for %s/%s", ErrInsufficientData, req.Symbol, req.Pair.Symbol)
	}
	spreads := make([]float64, n)
	for i := 0; i < n; i++ {
		spreads[i] = req.PairCandles[i].Close - req.Pair.Beta*req.Candles[i].Close
	}
	means, stds := s.rolling(spreads)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mean, std := req.Pair.SpreadMean, req.Pair.SpreadStd
		if means != nil && i >= s.lookback-1 && stds[i] > 0 {
			mean, std = means[i], stds[i]
		}
		if std <= 0 {
			continue
		}
		z := math.Abs((spreads[i] - mean) / std)
		reason := ""
		switch {
		case s.stopZ > 0 && z >= s.stopZ:
			reason = ReasonSpreadStop
		case z <= s.exitZ:
			reason = ReasonSpreadReverted
		}
		if reason == "" {
			continue
		}
		return exitAt(reason, req.Candles[i], req.PairCandles[i]), nil
	}
	return nil, nil
}

func (s *SpreadEvaluator) rolling(spreads []float64) ([]float64, []float64) {
	if s.lookback <= 1 || len(spreads) < s.lookback {
		return nil, nil
	}
	return talib.Sma(spreads, s.lookback), talib.StdDev(spreads, s.lookback, 1.0)
}

func exitAt(reason string, primary, pair market.Candle) *Result {
	return &Result{
		ShouldExit:    true,
		Reason:        reason,
		ExitTime:      primary.OpenTime,
		ExitPrice:     primary.Close,
		PairExitPrice: pair.Close,
	}
}

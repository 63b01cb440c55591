package autoclose

import (
	"context"
	"errors"
	"time"

	"autoclose/internal/logger"
	"autoclose/internal/market"
	"autoclose/internal/strategy/exit"
)

const defaultExitTimeout = 10 * time.Second

// ExitSignal is a decided exit. Index points into the post-fill candle slice, or -1.
// CurrentPrice is the external mark price and may be set without an exit.
type ExitSignal struct {
	Index        int
	Reason       string
	Time         int64
	Price        float64
	PairPrice    float64
	External     bool
	CurrentPrice float64
}

// CheckPriceExit scans candles[from:] for the first stop-loss or take-profit touch.
// Levels ≤ 0 are disabled. When one candle touches both levels, the level closer to the
// candle open is assumed to have traded first; an exact tie resolves to take-profit.
func CheckPriceExit(candles []market.Candle, from int, side Side, stopLoss, takeProfit float64) (ExitSignal, bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(candles); i++ {
		c := candles[i]
		var slHit, tpHit bool
		switch side {
		case SideShort:
			slHit = stopLoss > 0 && decimalGTE(c.High, stopLoss)
			tpHit = takeProfit > 0 && decimalLTE(c.Low, takeProfit)
		default:
			slHit = stopLoss > 0 && decimalLTE(c.Low, stopLoss)
			tpHit = takeProfit > 0 && decimalGTE(c.High, takeProfit)
		}
		if slHit && tpHit {
			if absDiff(c.Open, stopLoss).LessThan(absDiff(c.Open, takeProfit)) {
				tpHit = false
			} else {
				slHit = false
			}
		}
		switch {
		case slHit:
			return ExitSignal{Index: i, Reason: ReasonStopLoss, Time: c.OpenTime, Price: stopLoss}, true
		case tpHit:
			return ExitSignal{Index: i, Reason: ReasonTakeProfit, Time: c.OpenTime, Price: takeProfit}, true
		}
	}
	return ExitSignal{}, false
}

// ExitInput is everything the exit evaluator may look at. Candles start at the fill candle.
type ExitInput struct {
	Trade       Trade
	Strategy    StrategyRef
	FillPrice   float64
	FilledAt    int64
	Now         int64
	Candles     []market.Candle
	PairCandles []market.Candle
}

// ExitEvaluator 价格型策略直接做 SL/TP 检查；其他策略委托外部能力，
// 外部结果缺失、非法、超时或早于成交时间时退回价格检查。
type ExitEvaluator struct {
	strategies exit.Evaluator
	timeout    time.Duration
}

func NewExitEvaluator(strategies exit.Evaluator, timeout time.Duration) *ExitEvaluator {
	if timeout <= 0 {
		timeout = defaultExitTimeout
	}
	return &ExitEvaluator{strategies: strategies, timeout: timeout}
}

func (e *ExitEvaluator) Evaluate(ctx context.Context, in ExitInput) (ExitSignal, bool) {
	t := in.Trade
	priceSig, priceOK := CheckPriceExit(in.Candles, 0, t.Side, t.StopLoss, t.TakeProfit)
	if priceOK {
		priceSig.PairPrice = pairPriceAt(in, priceSig.Index)
	}
	if in.Strategy.Type == StrategyPriceBased || e == nil || e.strategies == nil {
		return priceSig, priceOK
	}
	extSig, extOK := e.external(ctx, in)
	switch {
	case extOK && priceOK:
		if priceSig.Time <= extSig.Time {
			return priceSig, true
		}
		return extSig, true
	case extOK:
		return extSig, true
	default:
		priceSig.CurrentPrice = extSig.CurrentPrice
		return priceSig, priceOK
	}
}

func (e *ExitEvaluator) external(ctx context.Context, in ExitInput) (ExitSignal, bool) {
	log := logger.With("trade_id", in.Trade.ID, "strategy", in.Strategy.Name)
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	res, err := e.strategies.Evaluate(callCtx, buildExitRequest(in))
	if err != nil {
		if errors.Is(err, exit.ErrNoEvaluator) {
			log.Debugf("[autoclose] no strategy exit for type %s, price check only", in.Strategy.Type)
		} else {
			log.Warnf("[autoclose] strategy exit failed, price check only: %v", err)
		}
		return ExitSignal{}, false
	}
	if res == nil {
		return ExitSignal{}, false
	}
	hold := ExitSignal{}
	if res.CurrentPrice > 0 {
		hold.CurrentPrice = res.CurrentPrice
	}
	if !res.ShouldExit {
		return hold, false
	}
	if res.ExitTime < in.FilledAt || res.ExitTime > in.Now {
		log.Warnf("[autoclose] strategy exit stamped %d outside [%d, %d], ignored", res.ExitTime, in.FilledAt, in.Now)
		return hold, false
	}
	if res.ExitPrice <= 0 {
		log.Warnf("[autoclose] strategy exit without price, ignored")
		return hold, false
	}
	sig := ExitSignal{
		Index:     candleIndexAt(in.Candles, res.ExitTime),
		Reason:    res.Reason,
		Time:      res.ExitTime,
		Price:     res.ExitPrice,
		PairPrice: res.PairExitPrice,
		External:  true,
	}
	sig.CurrentPrice = hold.CurrentPrice
	if sig.PairPrice <= 0 {
		sig.PairPrice = pairPriceAt(in, sig.Index)
	}
	return sig, true
}

func buildExitRequest(in ExitInput) exit.Request {
	t := in.Trade
	req := exit.Request{
		TradeID:      t.ID,
		StrategyName: in.Strategy.Name,
		StrategyType: in.Strategy.Type,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Timeframe:    t.Timeframe,
		EntryPrice:   t.EntryPrice,
		FillPrice:    in.FillPrice,
		StopLoss:     t.StopLoss,
		TakeProfit:   t.TakeProfit,
		FilledAt:     in.FilledAt,
		Candles:      in.Candles,
	}
	if spread, ok := in.Strategy.Meta.(SpreadMeta); ok && spread.usable() {
		pairFill := spread.PairEntryPrice
		if t.PairFillPrice != nil {
			pairFill = *t.PairFillPrice
		}
		req.Pair = &exit.PairLeg{
			Symbol:     spread.PairSymbol,
			EntryPrice: spread.PairEntryPrice,
			FillPrice:  pairFill,
			Beta:       spread.Beta,
			SpreadMean: spread.SpreadMean,
			SpreadStd:  spread.SpreadStd,
		}
		req.PairCandles = in.PairCandles
	}
	return req
}

// candleIndexAt returns the last candle starting at or before ts, or -1.
func candleIndexAt(candles []market.Candle, ts int64) int {
	idx := -1
	for i, c := range candles {
		if c.OpenTime > ts {
			break
		}
		idx = i
	}
	return idx
}

// pairPriceAt picks the pair close at idx, falling back to the last available pair close.
func pairPriceAt(in ExitInput, idx int) float64 {
	if len(in.PairCandles) == 0 {
		return 0
	}
	if idx >= 0 && idx < len(in.PairCandles) {
		return in.PairCandles[idx].Close
	}
	return in.PairCandles[len(in.PairCandles)-1].Close
}

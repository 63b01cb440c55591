package autoclose

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"autoclose/internal/logger"
	"autoclose/internal/market"
	"autoclose/internal/store"
)

// Action is the per-trade outcome of one reconciliation.
type Action string

const (
	ActionPending   Action = "pending"
	ActionFilled    Action = "filled"
	ActionOpen      Action = "open"
	ActionClosed    Action = "closed"
	ActionCancelled Action = "cancelled"
	// ActionChecked 中性结果：出错、并发冲突或无需处理。
	ActionChecked Action = "checked"
)

// TradeResult is the observable outcome for one trade in a pass.
type TradeResult struct {
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	Strategy    string `json:"strategy,omitempty"`
	Action      Action `json:"action"`
	FilledNow   bool   `json:"filled_now,omitempty"`
	NoData      bool   `json:"no_data,omitempty"`
	ExitReason  string `json:"exit_reason,omitempty"`
	BarsElapsed int    `json:"bars_elapsed"`
	BarLimit    int    `json:"bar_limit,omitempty"`

	// CurrentPrice is the mark used for unrealized PnL on open positions.
	CurrentPrice *float64 `json:"current_price,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	PnLPercent   *float64 `json:"pnl_percent,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type ReconcilerConfig struct {
	Repo               Repository
	Candles            CandleProvider
	Exits              *ExitEvaluator
	Limits             BarLimits
	SpreadToleranceStd float64
	Now                func() time.Time
}

// Reconciler 推进单笔模拟单的生命周期：成交 → 退出 / 超时撤销。
// 所有写入都带状态守卫，重复执行不会重复计入 Run。
type Reconciler struct {
	repo      Repository
	candles   CandleProvider
	exits     *ExitEvaluator
	limits    BarLimits
	tolerance float64
	nowFn     func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("reconciler requires a repository")
	}
	if cfg.Candles == nil {
		return nil, fmt.Errorf("reconciler requires a candle provider")
	}
	r := &Reconciler{
		repo:      cfg.Repo,
		candles:   cfg.Candles,
		exits:     cfg.Exits,
		limits:    cfg.Limits,
		tolerance: cfg.SpreadToleranceStd,
		nowFn:     cfg.Now,
	}
	if r.exits == nil {
		r.exits = NewExitEvaluator(nil, 0)
	}
	if r.limits == nil {
		r.limits = noLimits{}
	}
	if r.tolerance <= 0 {
		r.tolerance = DefaultSpreadToleranceStd
	}
	if r.nowFn == nil {
		r.nowFn = time.Now
	}
	return r, nil
}

// withCandles returns a shallow copy reading candles from p.
func (r *Reconciler) withCandles(p CandleProvider) *Reconciler {
	cp := *r
	cp.candles = p
	return &cp
}

// Reconcile never fails: errors and panics become a neutral result carrying the message.
func (r *Reconciler) Reconcile(ctx context.Context, ot OpenTrade) (res TradeResult) {
	log := logger.With("trade_id", ot.ID, "symbol", ot.Symbol)
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("[autoclose] reconcile panic: %v\n%s", p, debug.Stack())
			res = errorResult(ot, fmt.Errorf("panic: %v", p))
		}
	}()
	out, err := r.reconcile(ctx, ot, log)
	switch {
	case err == nil:
		return out
	case errors.Is(err, store.ErrTradeStale):
		log.Infof("[autoclose] trade changed concurrently, skipped")
		out.Action = ActionChecked
		return out
	default:
		log.Warnf("[autoclose] reconcile failed: %v", err)
		res = errorResult(ot, err)
		res.FilledNow = out.FilledNow
		return res
	}
}

func errorResult(ot OpenTrade, err error) TradeResult {
	return TradeResult{
		TradeID:  ot.ID,
		Symbol:   ot.Symbol,
		Strategy: ot.ResolveStrategy().Name,
		Action:   ActionChecked,
		Error:    err.Error(),
	}
}

// noData marks a trade skipped for lack of candles; bar ceilings are not applied without data.
func noData(res TradeResult, log logger.Fields) TradeResult {
	log.Debugf("[autoclose] no candle data, skipped")
	res.NoData = true
	if !res.FilledNow {
		res.Action = ActionChecked
	}
	return res
}

// position is the filled state the exit phase works from.
type position struct {
	filledAt  time.Time
	fillPrice float64
	pairFill  float64
	candles   []market.Candle
	pairBars  []market.Candle
}

func (r *Reconciler) reconcile(ctx context.Context, ot OpenTrade, log logger.Fields) (TradeResult, error) {
	now := r.nowFn().UTC()
	t := ot.Trade
	ref := ot.ResolveStrategy()
	res := TradeResult{TradeID: t.ID, Symbol: t.Symbol, Strategy: ref.Name, Action: ActionChecked}

	tf, err := market.ParseTimeframe(t.Timeframe)
	if err != nil {
		return res, err
	}
	side, ok := ParseSide(string(t.Side))
	if !ok {
		return res, fmt.Errorf("unsupported side %q", t.Side)
	}
	t.Side = side
	spread, isSpread := ref.Meta.(SpreadMeta)
	isSpread = isSpread && ref.Type == StrategySpreadBased && spread.usable()

	var pos position
	switch {
	case t.Status.Pending():
		anchor := ot.Anchor()
		anchorMs := anchor.UnixMilli()
		candles := r.candles.GetCandles(ctx, t.Symbol, tf.Key, anchorMs)
		if len(candles) == 0 {
			return noData(res, log), nil
		}
		var pairBars []market.Candle
		var fill Fill
		var filled bool
		if ref.Type == StrategySpreadBased {
			if isSpread {
				pairBars = r.candles.GetCandles(ctx, spread.PairSymbol, tf.Key, anchorMs)
				fill, filled = DetectSpreadFill(candles, pairBars, anchorMs, t.EntryPrice, spread, r.tolerance)
			}
		} else {
			fill, filled = DetectPriceFill(candles, anchorMs, t.EntryPrice)
		}
		if !filled {
			res.BarsElapsed = tf.BarsBetween(anchorMs, now.UnixMilli())
			res.BarLimit = r.limits.BeforeFill(ref.Type, tf.Key)
			if res.BarLimit > 0 && res.BarsElapsed >= res.BarLimit {
				return r.cancelUnfilled(ctx, t, res, now, log)
			}
			res.Action = ActionPending
			return res, nil
		}
		filledAt := time.UnixMilli(fill.Time).UTC()
		if err := ValidateTimeline(t.CreatedAt, &filledAt, nil); err != nil {
			return res, err
		}
		tr := Transition{
			TradeID:   t.ID,
			RunID:     t.RunID,
			From:      PendingStatuses,
			To:        StatusFilled,
			FilledAt:  &filledAt,
			FillPrice: floatPtr(fill.Price),
		}
		if isSpread {
			tr.PairFillPrice = floatPtr(fill.PairPrice)
		}
		if err := r.repo.ApplyTransition(ctx, tr); err != nil {
			return res, err
		}
		log.Infof("[autoclose] filled @%v at %s", fill.Price, filledAt.Format(time.RFC3339))
		res.Action = ActionFilled
		res.FilledNow = true
		t.Status = StatusFilled
		t.FilledAt = &filledAt
		t.FillPrice = tr.FillPrice
		t.PairFillPrice = tr.PairFillPrice
		pos = position{filledAt: filledAt, fillPrice: fill.Price, pairFill: fill.PairPrice, candles: candles[fill.Index:]}
		if isSpread && fill.Index < len(pairBars) {
			pos.pairBars = pairBars[fill.Index:]
		}
	case t.Status == StatusFilled:
		if t.FilledAt == nil {
			return res, fmt.Errorf("%w: status filled without filled_at", ErrTimelineViolation)
		}
		pos.filledAt = t.FilledAt.UTC()
		pos.fillPrice = t.EntryPrice
		if t.FillPrice != nil {
			pos.fillPrice = *t.FillPrice
		}
		filledMs := pos.filledAt.UnixMilli()
		pos.candles = r.candles.GetCandles(ctx, t.Symbol, tf.Key, filledMs)
		if len(pos.candles) == 0 {
			return noData(res, log), nil
		}
		if isSpread {
			pos.pairFill = spread.PairEntryPrice
			if t.PairFillPrice != nil {
				pos.pairFill = *t.PairFillPrice
			}
			pos.pairBars = r.candles.GetCandles(ctx, spread.PairSymbol, tf.Key, filledMs)
		}
	default:
		return res, fmt.Errorf("trade in terminal status %q listed as open", t.Status)
	}

	if ref.Name == "" && ref.Type == "" {
		return res, ErrMissingStrategy
	}
	return r.evaluateOpen(ctx, t, ref, spread, isSpread, tf, pos, res, now, log)
}

func (r *Reconciler) evaluateOpen(ctx context.Context, t Trade, ref StrategyRef, spread SpreadMeta, isSpread bool,
	tf market.Timeframe, pos position, res TradeResult, now time.Time, log logger.Fields) (TradeResult, error) {
	if len(pos.candles) == 0 {
		return noData(res, log), nil
	}
	filledMs := pos.filledAt.UnixMilli()
	legs := Legs{Side: t.Side, Quantity: t.Quantity, FillPrice: pos.fillPrice}
	if isSpread {
		legs.PairQuantity = spread.PairQuantity
		legs.PairFillPrice = pos.pairFill
	}

	sig, exited := r.exits.Evaluate(ctx, ExitInput{
		Trade:       t,
		Strategy:    ref,
		FillPrice:   pos.fillPrice,
		FilledAt:    filledMs,
		Now:         now.UnixMilli(),
		Candles:     pos.candles,
		PairCandles: pos.pairBars,
	})
	if exited {
		closedAt := time.UnixMilli(sig.Time).UTC()
		legs.ExitPrice = sig.Price
		legs.PairExitPrice = pairExitOrFlat(isSpread, sig.PairPrice, pos.pairFill)
		pnl, pct := ComputePnL(legs)
		if err := ValidateTimeline(t.CreatedAt, &pos.filledAt, &closedAt); err != nil {
			return res, err
		}
		tr := Transition{
			TradeID:    t.ID,
			RunID:      t.RunID,
			From:       []Status{StatusFilled},
			To:         StatusClosed,
			ClosedAt:   &closedAt,
			ExitPrice:  floatPtr(sig.Price),
			ExitReason: sig.Reason,
			PnL:        floatPtr(pnl),
			PnLPercent: floatPtr(pct),
		}
		if isSpread {
			tr.PairExitPrice = floatPtr(legs.PairExitPrice)
		}
		if err := r.repo.ApplyTransition(ctx, tr); err != nil {
			return res, err
		}
		log.Infof("[autoclose] closed %s @%v pnl=%v (%.4f%%)", sig.Reason, sig.Price, pnl, pct)
		res.Action = ActionClosed
		res.ExitReason = sig.Reason
		res.PnL, res.PnLPercent = tr.PnL, tr.PnLPercent
		return res, nil
	}

	legs.ExitPrice = pos.candles[len(pos.candles)-1].Close
	if sig.CurrentPrice > 0 {
		legs.ExitPrice = sig.CurrentPrice
	}
	res.CurrentPrice = floatPtr(legs.ExitPrice)
	pairCurrent := 0.0
	if n := len(pos.pairBars); n > 0 {
		pairCurrent = pos.pairBars[n-1].Close
	}
	legs.PairExitPrice = pairExitOrFlat(isSpread, pairCurrent, pos.pairFill)
	pnl, pct := ComputePnL(legs)
	res.PnL, res.PnLPercent = floatPtr(pnl), floatPtr(pct)
	res.BarsElapsed = tf.BarsBetween(filledMs, now.UnixMilli())
	res.BarLimit = r.limits.AfterFill(ref.Type, tf.Key)
	if res.BarLimit <= 0 || res.BarsElapsed < res.BarLimit {
		if !res.FilledNow {
			res.Action = ActionOpen
		}
		return res, nil
	}

	if err := ValidateTimeline(t.CreatedAt, &pos.filledAt, &now); err != nil {
		return res, err
	}
	tr := Transition{
		TradeID:     t.ID,
		RunID:       t.RunID,
		From:        []Status{StatusFilled},
		To:          StatusCancelled,
		CancelledAt: &now,
		ExitPrice:   floatPtr(legs.ExitPrice),
		ExitReason:  ReasonMaxBars,
		PnL:         floatPtr(pnl),
		PnLPercent:  floatPtr(pct),
	}
	if isSpread {
		tr.PairExitPrice = floatPtr(legs.PairExitPrice)
	}
	if err := r.repo.ApplyTransition(ctx, tr); err != nil {
		return res, err
	}
	log.Infof("[autoclose] cancelled after %d/%d bars open @%v pnl=%v", res.BarsElapsed, res.BarLimit, legs.ExitPrice, pnl)
	res.Action = ActionCancelled
	res.ExitReason = ReasonMaxBars
	return res, nil
}

// cancelUnfilled 未成交超时：只写状态、原因和撤销时间，不写价格与 PnL，不影响 Run。
func (r *Reconciler) cancelUnfilled(ctx context.Context, t Trade, res TradeResult, now time.Time, log logger.Fields) (TradeResult, error) {
	if err := validateCancel(t.CreatedAt, now); err != nil {
		return res, err
	}
	tr := Transition{
		TradeID:     t.ID,
		RunID:       t.RunID,
		From:        PendingStatuses,
		To:          StatusCancelled,
		CancelledAt: &now,
		ExitReason:  ReasonMaxBars,
	}
	if err := r.repo.ApplyTransition(ctx, tr); err != nil {
		return res, err
	}
	log.Infof("[autoclose] never filled within %d bars, cancelled", res.BarLimit)
	res.Action = ActionCancelled
	res.ExitReason = ReasonMaxBars
	return res, nil
}

func pairExitOrFlat(isSpread bool, price, pairFill float64) float64 {
	if !isSpread {
		return 0
	}
	if price > 0 {
		return price
	}
	return pairFill
}

type noLimits struct{}

func (noLimits) BeforeFill(string, string) int { return 0 }
func (noLimits) AfterFill(string, string) int  { return 0 }

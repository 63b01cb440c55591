package autoclose

import (
	"context"
	"time"

	"autoclose/internal/market"
)

// CandleProvider serves complete candles with OpenTime ≥ startMs, ascending. It never fails.
type CandleProvider interface {
	GetCandles(ctx context.Context, symbol, timeframe string, startMs int64) []market.Candle
}

// Transition 描述一次状态迁移。仓储必须在同一事务里：
// 按 From 状态且 pnl IS NULL 条件更新交易，并在 AffectsRun 时累加 Run 统计。
// 条件不匹配时返回 store.ErrTradeStale。
type Transition struct {
	TradeID string
	RunID   string
	From    []Status
	To      Status

	FilledAt      *time.Time
	FillPrice     *float64
	PairFillPrice *float64

	ClosedAt      *time.Time
	CancelledAt   *time.Time
	ExitPrice     *float64
	PairExitPrice *float64
	ExitReason    string

	PnL        *float64
	PnLPercent *float64
}

// AffectsRun reports whether the transition realises PnL into the run aggregates.
func (t Transition) AffectsRun() bool {
	return t.PnL != nil && t.To.Terminal() && t.RunID != ""
}

// Win reports pnl > 0; everything else counts as a loss.
func (t Transition) Win() bool {
	return t.PnL != nil && *t.PnL > 0
}

// MonitorStatus is the single persisted record describing the latest pass.
type MonitorStatus struct {
	Running    bool
	PassID     string
	StartedAt  time.Time
	FinishedAt *time.Time
	LastError  string
	Summary    *Summary
}

// Repository is the relational store as seen by the reconciler and batch driver.
type Repository interface {
	ListOpenTrades(ctx context.Context) ([]OpenTrade, error)
	ApplyTransition(ctx context.Context, t Transition) error
	SaveMonitorStatus(ctx context.Context, status MonitorStatus) error
}

// BarLimits resolves max-open-bars ceilings; 0 disables.
type BarLimits interface {
	BeforeFill(strategyType, timeframe string) int
	AfterFill(strategyType, timeframe string) int
}

// Observer receives pass and per-trade outcomes for metrics.
type Observer interface {
	ObservePass(outcome string, elapsed time.Duration)
	ObserveTrade(action Action)
}

package exit

import (
	"context"
	"errors"

	"autoclose/internal/market"
)

var (
	// ErrNoEvaluator 表示该策略类型没有注册任何退出判定。
	ErrNoEvaluator = errors.New("no exit evaluator for strategy type")
	// ErrInsufficientData 表示输入不足以给出判定（缺少配对行情、参数非法等）。
	ErrInsufficientData = errors.New("insufficient data for exit evaluation")
	// ErrMalformedResult 表示外部判定返回了无法识别的结果。
	ErrMalformedResult = errors.New("malformed exit result")
)

// PairLeg carries the second leg of a spread trade.
type PairLeg struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	FillPrice  float64 `json:"fill_price"`
	Beta       float64 `json:"beta"`
	SpreadMean float64 `json:"spread_mean"`
	SpreadStd  float64 `json:"spread_std"`
}

// Request 描述一笔已成交模拟单，Candles 从成交 K 线开始（含成交 K 线）。
type Request struct {
	TradeID      string          `json:"trade_id"`
	StrategyName string          `json:"strategy_name"`
	StrategyType string          `json:"strategy_type"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Timeframe    string          `json:"timeframe"`
	EntryPrice   float64         `json:"entry_price"`
	FillPrice    float64         `json:"fill_price"`
	StopLoss     float64         `json:"stop_loss,omitempty"`
	TakeProfit   float64         `json:"take_profit,omitempty"`
	FilledAt     int64           `json:"filled_at"`
	Pair         *PairLeg        `json:"pair,omitempty"`
	Candles      []market.Candle `json:"candles"`
	PairCandles  []market.Candle `json:"pair_candles,omitempty"`
}

// Result is an exit decision. A nil *Result, or one with ShouldExit unset, keeps the position
// open; CurrentPrice may then carry the evaluator's view of the mark price.
type Result struct {
	ShouldExit    bool    `json:"should_exit"`
	Reason        string  `json:"reason,omitempty"`
	ExitTime      int64   `json:"exit_time,omitempty"`
	ExitPrice     float64 `json:"exit_price,omitempty"`
	PairExitPrice float64 `json:"pair_exit_price,omitempty"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
}

// Evaluator 是外部策略退出能力的同步接口；调用方负责超时与降级。
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// EvaluatorFunc adapts a plain function to Evaluator.
type EvaluatorFunc func(ctx context.Context, req Request) (*Result, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

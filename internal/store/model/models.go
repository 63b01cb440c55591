package model

import (
	"time"

	"gorm.io/datatypes"
)

// TradeModel 是 paper_trades 表；可空列用指针。
type TradeModel struct {
	ID               string  `gorm:"column:id;primaryKey"`
	RunID            string  `gorm:"column:run_id;index"`
	CycleID          *string `gorm:"column:cycle_id"`
	RecommendationID *string `gorm:"column:recommendation_id;index"`

	Symbol       string  `gorm:"column:symbol"`
	Side         string  `gorm:"column:side"`
	StrategyType string  `gorm:"column:strategy_type"`
	StrategyName string  `gorm:"column:strategy_name"`
	Timeframe    string  `gorm:"column:timeframe"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	StopLoss     float64 `gorm:"column:stop_loss"`
	TakeProfit   float64 `gorm:"column:take_profit"`
	Quantity     float64 `gorm:"column:quantity"`

	PairSymbol     *string  `gorm:"column:pair_symbol"`
	PairEntryPrice *float64 `gorm:"column:pair_entry_price"`
	PairQuantity   *float64 `gorm:"column:pair_quantity"`
	Beta           *float64 `gorm:"column:beta"`
	SpreadMean     *float64 `gorm:"column:spread_mean"`
	SpreadStd      *float64 `gorm:"column:spread_std"`

	CreatedAt   time.Time  `gorm:"column:created_at"`
	FilledAt    *time.Time `gorm:"column:filled_at"`
	ClosedAt    *time.Time `gorm:"column:closed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	FillPrice     *float64 `gorm:"column:fill_price"`
	PairFillPrice *float64 `gorm:"column:pair_fill_price"`
	ExitPrice     *float64 `gorm:"column:exit_price"`
	PairExitPrice *float64 `gorm:"column:pair_exit_price"`
	ExitReason    *string  `gorm:"column:exit_reason"`

	Status     string    `gorm:"column:status;index"`
	PnL        *float64  `gorm:"column:pnl"`
	PnLPercent *float64  `gorm:"column:pnl_percent"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "paper_trades" }

// RunModel 聚合统计只做增量更新，从不重算。
type RunModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	InstanceID string    `gorm:"column:instance_id;index"`
	TotalPnL   float64   `gorm:"column:total_pnl"`
	WinCount   int       `gorm:"column:win_count"`
	LossCount  int       `gorm:"column:loss_count"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (RunModel) TableName() string { return "runs" }

type RecommendationModel struct {
	ID               string         `gorm:"column:id;primaryKey"`
	Symbol           string         `gorm:"column:symbol"`
	StrategyName     string         `gorm:"column:strategy_name"`
	StrategyType     string         `gorm:"column:strategy_type"`
	AnalyzedAt       *time.Time     `gorm:"column:analyzed_at"`
	StrategyMetadata datatypes.JSON `gorm:"column:strategy_metadata;type:TEXT"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
}

func (RecommendationModel) TableName() string { return "recommendations" }

type InstanceModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name"`
	StrategyName string    `gorm:"column:strategy_name"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (InstanceModel) TableName() string { return "instances" }

// MonitorStatusModel 单行表（id 固定为 1），记录最近一轮对账。
type MonitorStatusModel struct {
	ID         int            `gorm:"column:id;primaryKey;autoIncrement:false"`
	Running    bool           `gorm:"column:running"`
	PassID     string         `gorm:"column:pass_id"`
	StartedAt  time.Time      `gorm:"column:started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at"`
	LastError  string         `gorm:"column:last_error"`
	Summary    datatypes.JSON `gorm:"column:summary_json;type:TEXT"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (MonitorStatusModel) TableName() string { return "auto_close_status" }

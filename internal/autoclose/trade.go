package autoclose

import (
	"strings"
	"time"
)

// Status is the persisted lifecycle state of a paper trade.
type Status string

const (
	StatusPendingFill Status = "pending_fill"
	// StatusPaperTrade 是旧版本写入的待成交状态，语义等同 pending_fill。
	StatusPaperTrade Status = "paper_trade"
	StatusFilled     Status = "filled"
	StatusClosed     Status = "closed"
	StatusCancelled  Status = "cancelled"
)

// PendingStatuses lists the states a trade may be in before it fills.
var PendingStatuses = []Status{StatusPendingFill, StatusPaperTrade}

// OpenStatuses lists every non-terminal state.
var OpenStatuses = []Status{StatusPendingFill, StatusPaperTrade, StatusFilled}

func (s Status) Pending() bool { return s == StatusPendingFill || s == StatusPaperTrade }

func (s Status) Terminal() bool { return s == StatusClosed || s == StatusCancelled }

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts long/short and the buy/sell aliases.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

func (s Side) opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

const (
	StrategyPriceBased  = "price_based"
	StrategySpreadBased = "spread_based"
)

// Exit reasons written to trades.exit_reason.
const (
	ReasonStopLoss   = "sl_hit"
	ReasonTakeProfit = "tp_hit"
	ReasonMaxBars    = "max_bars_exceeded"
)

// Trade 是一笔模拟单的持久化视图。可选字段用指针表示 NULL。
type Trade struct {
	ID               string
	RunID            string
	CycleID          string
	RecommendationID string

	Symbol       string
	Side         Side
	StrategyType string
	StrategyName string
	Timeframe    string
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	Quantity     float64
	Meta         StrategyMeta

	CreatedAt   time.Time
	FilledAt    *time.Time
	ClosedAt    *time.Time
	CancelledAt *time.Time

	FillPrice     *float64
	PairFillPrice *float64
	ExitPrice     *float64
	PairExitPrice *float64
	ExitReason    string

	Status     Status
	PnL        *float64
	PnLPercent *float64
}

// OpenTrade is a non-terminal trade joined with the context the reconciler needs.
type OpenTrade struct {
	Trade

	// SignalTime 取自推荐记录的 analyzed_at；为空时使用 CreatedAt。
	SignalTime                 *time.Time
	RecommendationStrategyName string
	RecommendationStrategyType string
	RecommendationMeta         []byte
	InstanceStrategyName       string
}

// StrategyRef is the resolved strategy identity of a trade.
type StrategyRef struct {
	Name string
	Type string
	Meta StrategyMeta
}

// ResolveStrategy merges the trade's own strategy fields with its recommendation and instance.
// The trade wins; the recommendation fills gaps; the instance only supplies a name.
func (o OpenTrade) ResolveStrategy() StrategyRef {
	name := firstNonEmpty(o.StrategyName, o.RecommendationStrategyName, o.InstanceStrategyName)
	typ := strings.ToLower(firstNonEmpty(o.StrategyType, o.RecommendationStrategyType))
	if typ == "" && name != "" {
		typ = StrategyPriceBased
	}
	meta := o.Meta
	if typ == StrategySpreadBased {
		if spread, ok := meta.(SpreadMeta); !ok || !spread.usable() {
			if parsed, ok := ParseMeta(typ, o.RecommendationMeta).(SpreadMeta); ok && parsed.usable() {
				meta = parsed
			}
		}
	}
	if meta == nil {
		meta = ParseMeta(typ, o.RecommendationMeta)
	}
	return StrategyRef{Name: name, Type: typ, Meta: meta}
}

// Anchor returns the time bars are counted from while the trade is pending.
func (o OpenTrade) Anchor() time.Time {
	if o.SignalTime != nil && !o.SignalTime.IsZero() {
		return *o.SignalTime
	}
	return o.CreatedAt
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

package autoclose

import (
	"github.com/shopspring/decimal"
)

// Legs holds the prices needed to value a position. Pair fields are zero for single-leg trades.
type Legs struct {
	Side          Side
	Quantity      float64
	FillPrice     float64
	ExitPrice     float64
	PairQuantity  float64
	PairFillPrice float64
	PairExitPrice float64
}

// ComputePnL 单腿：(exit−fill)×qty，空头取反；百分比相对成交价。
// 价差：主腿按方向、配对腿按反方向，两腿相加；百分比相对两腿名义价值之和。
func ComputePnL(l Legs) (pnl, pct float64) {
	primary := legPnL(l.Side, l.FillPrice, l.ExitPrice, l.Quantity)
	if l.PairFillPrice <= 0 || l.PairExitPrice <= 0 {
		if l.FillPrice <= 0 {
			return decToFloat(primary), 0
		}
		move := signedMove(l.Side, l.FillPrice, l.ExitPrice)
		percent := move.Div(decFromFloat(l.FillPrice)).Mul(decHundred)
		return decToFloat(primary), decToFloat(percent.Round(8))
	}
	pair := legPnL(l.Side.opposite(), l.PairFillPrice, l.PairExitPrice, l.PairQuantity)
	total := primary.Add(pair)
	notional := decFromFloat(l.FillPrice).Mul(decFromFloat(l.Quantity)).
		Add(decFromFloat(l.PairFillPrice).Mul(decFromFloat(l.PairQuantity)))
	if !notional.IsPositive() {
		return decToFloat(total), 0
	}
	return decToFloat(total), decToFloat(total.Div(notional).Mul(decHundred).Round(8))
}

func legPnL(side Side, fill, exit, qty float64) decimal.Decimal {
	return signedMove(side, fill, exit).Mul(decFromFloat(qty))
}

func signedMove(side Side, fill, exit float64) decimal.Decimal {
	move := decFromFloat(exit).Sub(decFromFloat(fill))
	if side == SideShort {
		return move.Neg()
	}
	return move
}

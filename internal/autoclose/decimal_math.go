package autoclose

import (
	"math"

	"github.com/shopspring/decimal"
)

var decHundred = decimal.NewFromInt(100)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// touches reports low ≤ price ≤ high using decimal comparison.
func touches(low, high, price float64) bool {
	return decimalLTE(low, price) && decimalGTE(high, price)
}

func absDiff(a, b float64) decimal.Decimal {
	return decFromFloat(a).Sub(decFromFloat(b)).Abs()
}

func floatPtr(v float64) *float64 { return &v }

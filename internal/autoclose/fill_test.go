package autoclose

import (
	"testing"

	"autoclose/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPriceFillFirstTouchAfterSignal(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 101, 99, 100), // touches but before signal
		bar(1, 103, 104, 102, 103),
		bar(2, 102, 102, 99.5, 101),
		bar(3, 100, 100.5, 99, 100),
	}
	signal := at(1).UnixMilli()

	fill, ok := DetectPriceFill(candles, signal, 100)
	require.True(t, ok)
	assert.Equal(t, 2, fill.Index)
	assert.Equal(t, at(2).UnixMilli(), fill.Time)
	assert.Equal(t, 100.0, fill.Price)

	again, ok := DetectPriceFill(candles, signal, 100)
	require.True(t, ok)
	assert.Equal(t, fill, again, "fill detection must be deterministic")
}

func TestDetectPriceFillBoundaryAndMiss(t *testing.T) {
	_, ok := DetectPriceFill([]market.Candle{bar(0, 101, 102, 100, 101)}, 0, 100)
	assert.True(t, ok, "low == entry counts as a touch")

	_, ok = DetectPriceFill(flatBars(0, 5, 101, 103), 0, 100)
	assert.False(t, ok)

	_, ok = DetectPriceFill(nil, 0, 100)
	assert.False(t, ok)
}

func spreadMeta() SpreadMeta {
	return SpreadMeta{PairSymbol: "ETHUSDT", PairEntryPrice: 200, PairQuantity: 1, Beta: 2, SpreadStd: 1}
}

func TestDetectSpreadFillWithinTolerance(t *testing.T) {
	primary := []market.Candle{bar(0, 100, 101, 99, 100)}
	pair := []market.Candle{bar(0, 200, 203, 199, 201)} // spread 1 = 1.0σ

	fill, ok := DetectSpreadFill(primary, pair, 0, 100, spreadMeta(), 1.5)
	require.True(t, ok)
	assert.Equal(t, 0, fill.Index)
	assert.Equal(t, 100.0, fill.Price)
	assert.Equal(t, 200.0, fill.PairPrice)
}

func TestDetectSpreadFillRejectsTwoSigma(t *testing.T) {
	primary := []market.Candle{bar(0, 100, 101, 99, 100)}
	pair := []market.Candle{bar(0, 200, 203, 199, 202)} // spread 2 = 2.0σ

	_, ok := DetectSpreadFill(primary, pair, 0, 100, spreadMeta(), 1.5)
	assert.False(t, ok)
}

func TestDetectSpreadFillRequiresBothLegs(t *testing.T) {
	primary := []market.Candle{bar(0, 100, 101, 99, 100), bar(1, 100, 101, 99, 100)}
	pair := []market.Candle{
		bar(0, 205, 206, 204, 205), // pair entry not touched
		bar(1, 200, 201, 199, 200),
	}
	fill, ok := DetectSpreadFill(primary, pair, 0, 100, spreadMeta(), 1.5)
	require.True(t, ok)
	assert.Equal(t, 1, fill.Index)
}

func TestDetectSpreadFillWithoutPairDataOrStd(t *testing.T) {
	primary := []market.Candle{bar(0, 100, 101, 99, 100)}
	_, ok := DetectSpreadFill(primary, nil, 0, 100, spreadMeta(), 1.5)
	assert.False(t, ok)

	meta := spreadMeta()
	meta.SpreadStd = 0
	pair := []market.Candle{bar(0, 200, 201, 199, 200)}
	_, ok = DetectSpreadFill(primary, pair, 0, 100, meta, 1.5)
	assert.False(t, ok, "zero std fails closed")
}

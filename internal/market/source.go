package market

import "context"

// Source fetches the most recent bars from a remote market-data API.
// Implementations return bars in ascending OpenTime order regardless of the wire order,
// and accept exchange-native symbols (no perpetual suffix).
type Source interface {
	FetchRecent(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)
	Name() string
}

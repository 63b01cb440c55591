package autoclose

import (
	"strings"

	"github.com/tidwall/gjson"
)

// StrategyMeta is the closed set of strategy parameter shapes.
// Concrete types: PriceMeta, SpreadMeta, UnknownMeta.
type StrategyMeta interface {
	Kind() string
}

// PriceMeta carries no parameters; levels live on the trade itself.
type PriceMeta struct{}

func (PriceMeta) Kind() string { return StrategyPriceBased }

// SpreadMeta describes the pair leg of a spread trade.
type SpreadMeta struct {
	PairSymbol     string
	PairEntryPrice float64
	PairQuantity   float64
	Beta           float64
	SpreadMean     float64
	SpreadStd      float64
}

func (SpreadMeta) Kind() string { return StrategySpreadBased }

func (m SpreadMeta) usable() bool {
	return strings.TrimSpace(m.PairSymbol) != "" && m.PairEntryPrice > 0
}

// UnknownMeta keeps the raw document of strategy types this build does not model.
type UnknownMeta struct {
	Type string
	Raw  []byte
}

func (m UnknownMeta) Kind() string { return m.Type }

// ParseMeta decodes recommendation metadata JSON into the variant matching strategyType.
func ParseMeta(strategyType string, raw []byte) StrategyMeta {
	switch strings.ToLower(strings.TrimSpace(strategyType)) {
	case StrategyPriceBased:
		return PriceMeta{}
	case StrategySpreadBased:
		if len(raw) == 0 || !gjson.ValidBytes(raw) {
			return SpreadMeta{}
		}
		doc := gjson.ParseBytes(raw)
		pick := func(paths ...string) gjson.Result {
			for _, p := range paths {
				if v := doc.Get(p); v.Exists() {
					return v
				}
			}
			return gjson.Result{}
		}
		return SpreadMeta{
			PairSymbol:     strings.TrimSpace(pick("pair_symbol", "pair.symbol").String()),
			PairEntryPrice: pick("pair_entry_price", "pair.entry_price").Float(),
			PairQuantity:   pick("pair_quantity", "pair.quantity").Float(),
			Beta:           pick("beta", "hedge_ratio").Float(),
			SpreadMean:     pick("spread_mean").Float(),
			SpreadStd:      pick("spread_std").Float(),
		}
	default:
		return UnknownMeta{Type: strategyType, Raw: append([]byte(nil), raw...)}
	}
}

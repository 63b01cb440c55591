package symbol

import (
	"strings"
)

// perpSuffixes are the perpetual-contract markers trades may carry (TradingView style ".P",
// ccxt style ":USDT", and the "-PERP"/"PERP" forms some feeds use).
var perpSuffixes = []string{".P", "-PERP", "PERP"}

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
	Perp  bool
}

// Internal renders BASE/QUOTE.
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Exchange renders the REST query form, BASEQUOTE, without any perpetual marker.
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

func Parse(s string) Symbol {
	s, perp := StripPerpSuffix(s)
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
			Perp:  perp,
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote, Perp: perp}
		}
	}
	return Symbol{}
}

// StripPerpSuffix upper-cases s and removes a perpetual marker, reporting whether one was present.
// "BTCUSDT.P" -> "BTCUSDT", "BTC/USDT:USDT" -> "BTC/USDT".
func StripPerpSuffix(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	perp := false
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
		perp = true
	}
	for _, suffix := range perpSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			perp = true
			break
		}
	}
	return s, perp
}

// ToExchange converts any accepted trade symbol form into the exchange query symbol.
// Unknown quote currencies fall back to the stripped, slash-free input.
func ToExchange(s string) string {
	if ex := Parse(s).Exchange(); ex != "" {
		return ex
	}
	stripped, _ := StripPerpSuffix(s)
	return strings.ReplaceAll(stripped, "/", "")
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

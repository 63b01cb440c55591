package market

// Candle is a single OHLC bar. Times are Unix milliseconds; OpenTime is the bar start.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover"`
}

// Touches reports whether price lies inside the bar's [low, high] range.
func (c Candle) Touches(price float64) bool {
	return c.Low <= price && price <= c.High
}

// SortAscending orders candles by OpenTime in place and drops duplicate start times,
// keeping the last occurrence.
func SortAscending(candles []Candle) []Candle {
	if len(candles) < 2 {
		return candles
	}
	sorted := true
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			sorted = false
			break
		}
	}
	if !sorted {
		insertionSort(candles)
	}
	out := candles[:1]
	for _, c := range candles[1:] {
		last := &out[len(out)-1]
		if c.OpenTime == last.OpenTime {
			*last = c
			continue
		}
		out = append(out, c)
	}
	return out
}

func insertionSort(candles []Candle) {
	for i := 1; i < len(candles); i++ {
		cur := candles[i]
		j := i - 1
		for j >= 0 && candles[j].OpenTime > cur.OpenTime {
			candles[j+1] = candles[j]
			j--
		}
		candles[j+1] = cur
	}
}

// Reverse flips a newest-first sequence into chronological order in place.
func Reverse(candles []Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}

// Since returns the suffix of an ascending sequence whose bars start at or after startMs.
func Since(candles []Candle, startMs int64) []Candle {
	for i, c := range candles {
		if c.OpenTime >= startMs {
			return candles[i:]
		}
	}
	return nil
}

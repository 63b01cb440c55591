package autoclose

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"autoclose/internal/market"
	"autoclose/internal/store"
)

const hourMs = int64(3_600_000)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hours int, minutes ...int) time.Time {
	ts := t0.Add(time.Duration(hours) * time.Hour)
	for _, m := range minutes {
		ts = ts.Add(time.Duration(m) * time.Minute)
	}
	return ts
}

func bar(hour int, open, high, low, close float64) market.Candle {
	start := t0.UnixMilli() + int64(hour)*hourMs
	return market.Candle{OpenTime: start, CloseTime: start + hourMs - 1, Open: open, High: high, Low: low, Close: close}
}

// flatBars returns n hourly bars from hour `from`, all with the same range.
func flatBars(from, n int, low, high float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	mid := (low + high) / 2
	for i := 0; i < n; i++ {
		out = append(out, bar(from+i, mid, high, low, mid))
	}
	return out
}

type fakeCandles struct {
	mu     sync.Mutex
	series map[string][]market.Candle
	calls  int
}

func newFakeCandles() *fakeCandles {
	return &fakeCandles{series: make(map[string][]market.Candle)}
}

func (f *fakeCandles) set(symbol string, candles []market.Candle) *fakeCandles {
	f.series[symbol] = candles
	return f
}

func (f *fakeCandles) GetCandles(_ context.Context, symbol, _ string, startMs int64) []market.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if symbol == "PANIC" {
		panic("provider exploded")
	}
	return market.Since(f.series[symbol], startMs)
}

type runAgg struct {
	Total  float64
	Wins   int
	Losses int
}

// memRepo is an in-memory Repository with the same guard semantics as the sql store.
type memRepo struct {
	mu       sync.Mutex
	order    []string
	trades   map[string]*OpenTrade
	runs     map[string]*runAgg
	statuses []MonitorStatus
	listErr  error
	applied  int
}

func newMemRepo(trades ...OpenTrade) *memRepo {
	r := &memRepo{trades: make(map[string]*OpenTrade), runs: make(map[string]*runAgg)}
	for _, t := range trades {
		r.add(t)
	}
	return r
}

func (r *memRepo) add(t OpenTrade) {
	cp := t
	r.order = append(r.order, t.ID)
	r.trades[t.ID] = &cp
}

func (r *memRepo) get(id string) Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trades[id].Trade
}

func (r *memRepo) run(id string) runAgg {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agg, ok := r.runs[id]; ok {
		return *agg
	}
	return runAgg{}
}

func (r *memRepo) lastStatus() MonitorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[len(r.statuses)-1]
}

func (r *memRepo) ListOpenTrades(context.Context) ([]OpenTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []OpenTrade
	for _, id := range r.order {
		t := r.trades[id]
		if !t.Status.Terminal() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memRepo) ApplyTransition(_ context.Context, tr Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[tr.TradeID]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(tr.From, t.Status) || t.PnL != nil {
		return store.ErrTradeStale
	}
	t.Status = tr.To
	if tr.FilledAt != nil {
		t.FilledAt, t.FillPrice, t.PairFillPrice = tr.FilledAt, tr.FillPrice, tr.PairFillPrice
	}
	if tr.ClosedAt != nil {
		t.ClosedAt = tr.ClosedAt
	}
	if tr.CancelledAt != nil {
		t.CancelledAt = tr.CancelledAt
	}
	if tr.ExitPrice != nil {
		t.ExitPrice = tr.ExitPrice
	}
	if tr.PairExitPrice != nil {
		t.PairExitPrice = tr.PairExitPrice
	}
	if tr.ExitReason != "" {
		t.ExitReason = tr.ExitReason
	}
	t.PnL, t.PnLPercent = tr.PnL, tr.PnLPercent
	if tr.AffectsRun() {
		agg := r.runs[tr.RunID]
		if agg == nil {
			agg = &runAgg{}
			r.runs[tr.RunID] = agg
		}
		agg.Total += *tr.PnL
		if tr.Win() {
			agg.Wins++
		} else {
			agg.Losses++
		}
	}
	r.applied++
	return nil
}

func (r *memRepo) SaveMonitorStatus(_ context.Context, st MonitorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

type fakeLimits struct {
	before map[string]int
	after  map[string]int
}

func (f fakeLimits) BeforeFill(_, tf string) int { return f.before[tf] }
func (f fakeLimits) AfterFill(_, tf string) int  { return f.after[tf] }

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func priceTrade(id string) OpenTrade {
	return OpenTrade{Trade: Trade{
		ID:           id,
		RunID:        "run-1",
		Symbol:       "BTCUSDT",
		Side:         SideLong,
		StrategyType: StrategyPriceBased,
		StrategyName: "breakout",
		Timeframe:    "1h",
		EntryPrice:   100,
		StopLoss:     95,
		TakeProfit:   105,
		Quantity:     1,
		CreatedAt:    t0,
		Status:       StatusPendingFill,
	}}
}

var errBoom = errors.New("boom")

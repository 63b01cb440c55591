package autoclose

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"autoclose/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	actions  map[Action]int
}

func (o *recordingObserver) ObservePass(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveTrade(a Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.actions == nil {
		o.actions = make(map[Action]int)
	}
	o.actions[a]++
}

func newTestDriver(t *testing.T, repo *memRepo, candles CandleProvider, limits BarLimits, now time.Time, obs Observer) *Driver {
	t.Helper()
	rec := newTestReconciler(t, repo, candles, limits, now)
	d, err := NewDriver(DriverConfig{
		Repo:                repo,
		Reconciler:          rec,
		Candles:             candles,
		Observer:            obs,
		PrefetchConcurrency: 2,
		Now:                 fixedClock(now),
		NewPassID:           func() string { return "pass-1" },
	})
	require.NoError(t, err)
	return d
}

func TestRunPassIsolatesFailingTrade(t *testing.T) {
	good := priceTrade("good")
	bad := priceTrade("bad")
	bad.Symbol = "PANIC"
	waiting := priceTrade("waiting")
	waiting.Symbol = "ETHUSDT"
	repo := newMemRepo(good, bad, waiting)
	candles := newFakeCandles().
		set("BTCUSDT", []market.Candle{bar(0, 102, 103, 99.5, 101), bar(1, 103, 106, 102, 105.5)}).
		set("ETHUSDT", flatBars(0, 2, 101, 103))
	obs := &recordingObserver{}
	d := newTestDriver(t, repo, candles, nil, at(2, 30), obs)

	sum, err := d.RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "pass-1", sum.PassID)
	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, 1, sum.Filled)
	assert.Equal(t, 1, sum.Closed)
	assert.Equal(t, 0, sum.Cancelled)
	assert.Equal(t, 1, sum.Errors)
	require.Len(t, sum.Results, 3)
	assert.Equal(t, ActionClosed, sum.Results[0].Action)
	assert.NotEmpty(t, sum.Results[1].Error)
	assert.Equal(t, ActionPending, sum.Results[2].Action)
	assert.Equal(t, StatusClosed, repo.get("good").Status)
	assert.Equal(t, []string{"partial"}, obs.outcomes)
	assert.Equal(t, 2, obs.actions[ActionChecked]+obs.actions[ActionPending])
}

func TestRunPassSecondPassIsIdempotent(t *testing.T) {
	trade := priceTrade("t1")
	cancelled := priceTrade("t2")
	cancelled.Symbol = "ETHUSDT"
	repo := newMemRepo(trade, cancelled)
	candles := newFakeCandles().
		set("BTCUSDT", []market.Candle{bar(0, 102, 103, 99.5, 101), bar(1, 103, 106, 102, 105.5)}).
		set("ETHUSDT", flatBars(0, 24, 101, 103))
	limits := fakeLimits{before: map[string]int{"1h": 24}}
	d := newTestDriver(t, repo, candles, limits, at(24, 5), nil)

	first, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Closed)
	assert.Equal(t, 1, first.Cancelled)
	runAfterFirst := repo.run("run-1")
	appliedAfterFirst := repo.applied

	second, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Checked)
	assert.Equal(t, runAfterFirst, repo.run("run-1"))
	assert.Equal(t, appliedAfterFirst, repo.applied)
	assert.Equal(t, runAgg{Total: 5, Wins: 1}, runAfterFirst)
}

func TestRunPassFailsWhenStoreUnavailable(t *testing.T) {
	repo := newMemRepo()
	repo.listErr = errBoom
	obs := &recordingObserver{}
	d := newTestDriver(t, repo, newFakeCandles(), nil, at(1), obs)

	_, err := d.RunPass(context.Background())

	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errBoom)
	status := repo.lastStatus()
	assert.False(t, status.Running)
	assert.Contains(t, status.LastError, "boom")
	assert.Equal(t, []string{"error"}, obs.outcomes)
}

func TestRunPassPersistsMonitorStatus(t *testing.T) {
	repo := newMemRepo(priceTrade("t1"))
	d := newTestDriver(t, repo, newFakeCandles(), nil, at(1), nil)

	_, err := d.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.statuses, 2)
	assert.True(t, repo.statuses[0].Running)
	final := repo.lastStatus()
	assert.False(t, final.Running)
	require.NotNil(t, final.FinishedAt)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 1, final.Summary.Checked)
	assert.Empty(t, final.LastError)
}

func TestRunPassBoundsResults(t *testing.T) {
	var trades []OpenTrade
	for i := 0; i < 5; i++ {
		trades = append(trades, priceTrade(fmt.Sprintf("t%d", i)))
	}
	repo := newMemRepo(trades...)
	rec := newTestReconciler(t, repo, newFakeCandles(), nil, at(1))
	d, err := NewDriver(DriverConfig{Repo: repo, Reconciler: rec, MaxResults: 2, Now: fixedClock(at(1))})
	require.NoError(t, err)

	sum, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Checked)
	assert.Len(t, sum.Results, 2)
	assert.Equal(t, 3, sum.Truncated)
}

func TestRunPassPrefetchesEachSeriesOnce(t *testing.T) {
	a, b := priceTrade("a"), priceTrade("b")
	repo := newMemRepo(a, b)
	candles := newFakeCandles().set("BTCUSDT", flatBars(0, 3, 101, 103))
	d := newTestDriver(t, repo, candles, nil, at(3), nil)

	_, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, candles.calls)
}

func TestRunPassStopsOnCancelledContext(t *testing.T) {
	repo := newMemRepo(priceTrade("t1"))
	d := newTestDriver(t, repo, newFakeCandles(), nil, at(1), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := d.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Checked)
	assert.Contains(t, repo.lastStatus().LastError, "canceled")
}

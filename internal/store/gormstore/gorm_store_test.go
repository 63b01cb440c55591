package gormstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var dbSeq atomic.Int64

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:gormstore_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := NewGormStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fptr(v float64) *float64 { return &v }

func tptr(v time.Time) *time.Time { return &v }

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seedRun(t *testing.T, s *GormStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateInstance(ctx, "inst-1", "paper", "trend_follow"))
	require.NoError(t, s.CreateRun(ctx, "run-1", "inst-1"))
}

func seedTrade(t *testing.T, s *GormStore, id string, status autoclose.Status) {
	t.Helper()
	require.NoError(t, s.CreateTrade(context.Background(), autoclose.Trade{
		ID:         id,
		RunID:      "run-1",
		Symbol:     "BTCUSDT",
		Side:       autoclose.SideLong,
		Timeframe:  "1h",
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 105,
		Quantity:   2,
		CreatedAt:  created,
		Status:     status,
	}))
}

func closeTransition(id string, pnl float64) autoclose.Transition {
	return autoclose.Transition{
		TradeID:    id,
		RunID:      "run-1",
		From:       []autoclose.Status{autoclose.StatusFilled},
		To:         autoclose.StatusClosed,
		ClosedAt:   tptr(created.Add(3 * time.Hour)),
		ExitPrice:  fptr(105),
		ExitReason: autoclose.ReasonTakeProfit,
		PnL:        fptr(pnl),
		PnLPercent: fptr(5),
	}
}

func TestListOpenTradesJoinsContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	analyzed := created.Add(-30 * time.Minute)
	require.NoError(t, s.CreateRecommendation(ctx, "rec-1", "BTCUSDT", "pairs", "spread_based", &analyzed,
		[]byte(`{"pair_symbol":"ETHUSDT","beta":1.2}`)))

	require.NoError(t, s.CreateTrade(ctx, autoclose.Trade{
		ID: "t-1", RunID: "run-1", RecommendationID: "rec-1", Symbol: "BTCUSDT",
		Side: autoclose.SideLong, Timeframe: "1h", EntryPrice: 100, Quantity: 1, CreatedAt: created,
	}))
	seedTrade(t, s, "t-2", autoclose.StatusFilled)
	seedTrade(t, s, "t-3", autoclose.StatusClosed)
	seedTrade(t, s, "t-4", autoclose.StatusPaperTrade)

	trades, err := s.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)

	byID := map[string]autoclose.OpenTrade{}
	for _, tr := range trades {
		byID[tr.ID] = tr
	}
	assert.NotContains(t, byID, "t-3")

	first := byID["t-1"]
	assert.Equal(t, autoclose.StatusPendingFill, first.Status)
	require.NotNil(t, first.SignalTime)
	assert.True(t, first.SignalTime.Equal(analyzed))
	assert.Equal(t, "pairs", first.RecommendationStrategyName)
	assert.Equal(t, "spread_based", first.RecommendationStrategyType)
	assert.JSONEq(t, `{"pair_symbol":"ETHUSDT","beta":1.2}`, string(first.RecommendationMeta))
	assert.Equal(t, "trend_follow", first.InstanceStrategyName)

	ref := first.ResolveStrategy()
	assert.Equal(t, "pairs", ref.Name)
	assert.Equal(t, autoclose.StrategySpreadBased, ref.Type)

	assert.Nil(t, byID["t-2"].SignalTime)
	assert.Equal(t, "trend_follow", byID["t-2"].ResolveStrategy().Name)
}

func TestListOpenTradesSkipsSettledRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	seedTrade(t, s, "open", autoclose.StatusFilled)
	require.NoError(t, s.CreateTrade(ctx, autoclose.Trade{
		ID:         "settled",
		RunID:      "run-1",
		Symbol:     "BTCUSDT",
		Side:       autoclose.SideLong,
		Timeframe:  "1h",
		EntryPrice: 100,
		Quantity:   1,
		CreatedAt:  created,
		FilledAt:   tptr(created.Add(time.Hour)),
		Status:     autoclose.StatusFilled,
		PnL:        fptr(4),
	}))

	open, err := s.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open", open[0].ID)
}

func TestMemoryStoreServesConcurrentReads(t *testing.T) {
	s, err := NewGormStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seedRun(t, s)
	seedTrade(t, s, "t1", autoclose.StatusPendingFill)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			trades, err := s.ListOpenTrades(context.Background())
			if err == nil && len(trades) != 1 {
				err = fmt.Errorf("got %d trades", len(trades))
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func TestListOpenTradesRestoresSpreadColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	require.NoError(t, s.CreateTrade(ctx, autoclose.Trade{
		ID: "sp-1", RunID: "run-1", Symbol: "BTCUSDT", Side: autoclose.SideShort,
		StrategyType: autoclose.StrategySpreadBased, StrategyName: "pairs", Timeframe: "1h",
		EntryPrice: 100, Quantity: 1, CreatedAt: created,
		Meta: autoclose.SpreadMeta{PairSymbol: "ETHUSDT", PairEntryPrice: 50, PairQuantity: 2, Beta: 1, SpreadMean: 50, SpreadStd: 2},
	}))

	trades, err := s.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	spread, ok := trades[0].Meta.(autoclose.SpreadMeta)
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", spread.PairSymbol)
	assert.Equal(t, 50.0, spread.PairEntryPrice)
	assert.Equal(t, 2.0, spread.SpreadStd)
}

func TestApplyTransitionCloseUpdatesRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	seedTrade(t, s, "t-1", autoclose.StatusFilled)
	seedTrade(t, s, "t-2", autoclose.StatusFilled)

	require.NoError(t, s.ApplyTransition(ctx, closeTransition("t-1", 10)))
	require.NoError(t, s.ApplyTransition(ctx, closeTransition("t-2", -4)))

	trade, err := s.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, autoclose.StatusClosed, trade.Status)
	assert.Equal(t, autoclose.ReasonTakeProfit, trade.ExitReason)
	require.NotNil(t, trade.PnL)
	assert.Equal(t, 10.0, *trade.PnL)
	require.NotNil(t, trade.ClosedAt)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, run.TotalPnL, 1e-9)
	assert.Equal(t, 1, run.WinCount)
	assert.Equal(t, 1, run.LossCount)
}

func TestApplyTransitionIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	seedTrade(t, s, "t-1", autoclose.StatusFilled)

	require.NoError(t, s.ApplyTransition(ctx, closeTransition("t-1", 10)))
	err := s.ApplyTransition(ctx, closeTransition("t-1", 10))
	assert.ErrorIs(t, err, store.ErrTradeStale)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, run.TotalPnL)
	assert.Equal(t, 1, run.WinCount)
}

func TestApplyTransitionFillKeepsRunUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRun(t, s)
	seedTrade(t, s, "t-1", autoclose.StatusPaperTrade)

	err := s.ApplyTransition(ctx, autoclose.Transition{
		TradeID:   "t-1",
		RunID:     "run-1",
		From:      autoclose.PendingStatuses,
		To:        autoclose.StatusFilled,
		FilledAt:  tptr(created.Add(time.Hour)),
		FillPrice: fptr(100),
	})
	require.NoError(t, err)

	trade, err := s.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, autoclose.StatusFilled, trade.Status)
	require.NotNil(t, trade.FillPrice)
	assert.Equal(t, 100.0, *trade.FillPrice)
	assert.Nil(t, trade.PnL)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Zero(t, run.WinCount+run.LossCount)

	// a pending-only guard no longer matches once filled
	err = s.ApplyTransition(ctx, autoclose.Transition{
		TradeID:     "t-1",
		From:        autoclose.PendingStatuses,
		To:          autoclose.StatusCancelled,
		CancelledAt: tptr(created.Add(2 * time.Hour)),
	})
	assert.ErrorIs(t, err, store.ErrTradeStale)
}

func TestApplyTransitionMissingRunRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrade(t, s, "t-1", autoclose.StatusFilled)

	err := s.ApplyTransition(ctx, closeTransition("t-1", 3))
	assert.ErrorIs(t, err, store.ErrNotFound)

	trade, err := s.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, autoclose.StatusFilled, trade.Status)
	assert.Nil(t, trade.PnL)
}

func TestMonitorStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadMonitorStatus(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	started := created.Add(time.Hour)
	require.NoError(t, s.SaveMonitorStatus(ctx, autoclose.MonitorStatus{Running: true, PassID: "p-1", StartedAt: started}))
	finished := started.Add(time.Second)
	require.NoError(t, s.SaveMonitorStatus(ctx, autoclose.MonitorStatus{
		PassID:     "p-1",
		StartedAt:  started,
		FinishedAt: &finished,
		LastError:  "1 trade(s) failed",
		Summary:    &autoclose.Summary{PassID: "p-1", Checked: 3, Closed: 1, Errors: 1},
	}))

	st, ok, err := s.LoadMonitorStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, st.Running)
	assert.Equal(t, "p-1", st.PassID)
	require.NotNil(t, st.FinishedAt)
	assert.True(t, st.FinishedAt.Equal(finished))
	require.NotNil(t, st.Summary)
	assert.Equal(t, 3, st.Summary.Checked)
	assert.Equal(t, 1, st.Summary.Errors)
	assert.Equal(t, "1 trade(s) failed", st.LastError)
}

func TestGetTradeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

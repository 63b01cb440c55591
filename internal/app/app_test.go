package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/config"
	"autoclose/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type staticSource struct {
	bars []market.Candle
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) FetchRecent(_ context.Context, _ string, _ market.Timeframe, _ int) ([]market.Candle, error) {
	return append([]market.Candle(nil), s.bars...), nil
}

func hourBar(h int, open, high, low, close float64) market.Candle {
	start := t0.Add(time.Duration(h) * time.Hour).UnixMilli()
	return market.Candle{OpenTime: start, CloseTime: start + time.Hour.Milliseconds() - 1, Open: open, High: high, Low: low, Close: close}
}

func writeConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`app:
  log_level: warn
  http_addr: 127.0.0.1:0
database:
  path: %s
candles:
  cache_path: %s
auto_close:
  interval_seconds: 60
  max_open_bars:
    before_fill:
      1h: 24
`, filepath.Join(dir, "trades.db"), filepath.Join(dir, "klines.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, path
}

func TestAppRunPassClosesTradeEndToEnd(t *testing.T) {
	cfg, _ := writeConfig(t)
	src := staticSource{bars: []market.Candle{
		hourBar(0, 100, 101, 99, 100.5),
		hourBar(1, 100.5, 106, 100, 105.5),
		hourBar(2, 105.5, 107, 104, 106),
		hourBar(3, 106, 107, 105, 106),
		hourBar(4, 106, 107, 105, 106),
	}}
	a, err := NewApp(cfg, "", WithSource(src), WithClock(func() time.Time { return t0.Add(5*time.Hour + 30*time.Minute) }))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	st := a.Store()
	require.NoError(t, st.CreateInstance(ctx, "inst-1", "paper", "breakout"))
	require.NoError(t, st.CreateRun(ctx, "run-1", "inst-1"))
	require.NoError(t, st.CreateTrade(ctx, autoclose.Trade{
		ID: "t-1", RunID: "run-1", Symbol: "BTCUSDT", Side: autoclose.SideLong,
		StrategyType: autoclose.StrategyPriceBased, Timeframe: "1h",
		EntryPrice: 100, StopLoss: 95, TakeProfit: 105, Quantity: 2, CreatedAt: t0,
	}))

	sum, err := a.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Filled)
	assert.Equal(t, 1, sum.Closed)

	trade, err := st.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, autoclose.StatusClosed, trade.Status)
	assert.Equal(t, autoclose.ReasonTakeProfit, trade.ExitReason)
	require.NotNil(t, trade.PnL)
	assert.InDelta(t, 10.0, *trade.PnL, 1e-9)

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.WinCount)

	again, err := a.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Checked)

	status, ok, err := st.LoadMonitorStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, status.Running)
	assert.Equal(t, again.PassID, status.PassID)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg, _ := writeConfig(t)
	a, err := NewApp(cfg, "", WithSource(staticSource{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestAppReloadSwapsBarLimits(t *testing.T) {
	cfg, _ := writeConfig(t)
	a, err := NewApp(cfg, "", WithSource(staticSource{}))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 24, a.bars.BeforeFill(autoclose.StrategyPriceBased, "1h"))

	next := *cfg
	next.AutoClose.MaxOpenBars = config.MaxOpenBarsConfig{BeforeFill: map[string]int{"1h": 6}}
	a.applyReload(&next)
	assert.Equal(t, 6, a.bars.BeforeFill(autoclose.StrategyPriceBased, "1h"))
}

func TestBuildStrategyExits(t *testing.T) {
	reg, err := buildStrategyExits(config.StrategyExitConfig{ZScoreExit: 0.5, ZScoreStop: 3.5})
	require.NoError(t, err)
	assert.Equal(t, []string{autoclose.StrategySpreadBased}, reg.Types())

	reg, err = buildStrategyExits(config.StrategyExitConfig{Command: []string{"python3", "exit.py"}, TimeoutSeconds: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{autoclose.StrategySpreadBased, "*"}, reg.Types())
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil, "")
	assert.Error(t, err)
}

package exit

import (
	"context"
	"errors"
	"testing"
	"time"

	"autoclose/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellEvaluator(t *testing.T, script string, timeout time.Duration) *ProcessEvaluator {
	t.Helper()
	p, err := NewProcessEvaluator([]string{"sh", "-c", script}, timeout)
	require.NoError(t, err)
	return p
}

func TestProcessEvaluatorParsesExit(t *testing.T) {
	p := shellEvaluator(t, `cat >/dev/null; echo "loading model"; echo '{"should_exit":true,"reason":"signal_flip","exit_time":7200000,"exit_price":101.5}'`, time.Second)

	res, err := p.Evaluate(context.Background(), Request{TradeID: "t1", StrategyName: "flip"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.ShouldExit)
	assert.Equal(t, "signal_flip", res.Reason)
	assert.Equal(t, int64(7200000), res.ExitTime)
	assert.Equal(t, 101.5, res.ExitPrice)
}

func TestProcessEvaluatorReceivesRequestOnStdin(t *testing.T) {
	p := shellEvaluator(t, `grep -q '"trade_id":"abc"' && echo '{"should_exit":false}'`, time.Second)

	res, err := p.Evaluate(context.Background(), Request{TradeID: "abc"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestProcessEvaluatorReportsCurrentPrice(t *testing.T) {
	p := shellEvaluator(t, `cat >/dev/null; echo '{"should_exit":false,"current_price":101.25}'`, time.Second)

	res, err := p.Evaluate(context.Background(), Request{TradeID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.ShouldExit)
	assert.Equal(t, 101.25, res.CurrentPrice)
}

func TestProcessEvaluatorRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `echo nope`,
		"missing price":   `echo '{"should_exit":true,"exit_time":1}'`,
		"negative price":  `echo '{"should_exit":true,"exit_time":1,"exit_price":-3}'`,
		"wrong flag type": `echo '{"should_exit":"yes"}'`,
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			p := shellEvaluator(t, script, time.Second)
			_, err := p.Evaluate(context.Background(), Request{})
			assert.ErrorIs(t, err, ErrMalformedResult)
		})
	}
}

func TestProcessEvaluatorTimeout(t *testing.T) {
	p := shellEvaluator(t, `exec sleep 5`, 100*time.Millisecond)

	start := time.Now()
	_, err := p.Evaluate(context.Background(), Request{StrategyName: "slow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewProcessEvaluatorRequiresCommand(t *testing.T) {
	_, err := NewProcessEvaluator(nil, time.Second)
	assert.Error(t, err)
}

func pairCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{OpenTime: int64(i) * 3_600_000, Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func spreadRequest(primary, pair []float64) Request {
	return Request{
		TradeID:      "s1",
		StrategyType: "spread_based",
		Symbol:       "ETHUSDT",
		Pair:         &PairLeg{Symbol: "BTCUSDT", Beta: 1, SpreadMean: 0, SpreadStd: 10},
		Candles:      pairCandles(primary...),
		PairCandles:  pairCandles(pair...),
	}
}

func TestSpreadEvaluatorRevertsToMean(t *testing.T) {
	s := NewSpreadEvaluator(0.5, 3.5, 0)
	// spreads: 20 (z=2), 12 (z=1.2), 4 (z=0.4)
	res, err := s.Evaluate(context.Background(), spreadRequest([]float64{100, 100, 100}, []float64{120, 112, 104}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ReasonSpreadReverted, res.Reason)
	assert.Equal(t, int64(2*3_600_000), res.ExitTime)
	assert.Equal(t, 100.0, res.ExitPrice)
	assert.Equal(t, 104.0, res.PairExitPrice)
}

func TestSpreadEvaluatorStopsOnDivergence(t *testing.T) {
	s := NewSpreadEvaluator(0.5, 3.5, 0)
	res, err := s.Evaluate(context.Background(), spreadRequest([]float64{100, 100}, []float64{120, 140}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ReasonSpreadStop, res.Reason)
	assert.Equal(t, int64(3_600_000), res.ExitTime)
}

func TestSpreadEvaluatorStaysOpen(t *testing.T) {
	s := NewSpreadEvaluator(0.5, 3.5, 0)
	res, err := s.Evaluate(context.Background(), spreadRequest([]float64{100, 100}, []float64{120, 125}))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSpreadEvaluatorRollingWindow(t *testing.T) {
	s := NewSpreadEvaluator(0.5, 3.5, 3)
	// the stored std is unusable; once the window fills, rolling stats apply.
	req := spreadRequest([]float64{100, 100, 100, 100}, []float64{110, 120, 130, 125})
	req.Pair.SpreadStd = 0
	res, err := s.Evaluate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	// window [20,30,25]: mean 25, spread 25 -> z=0
	assert.Equal(t, ReasonSpreadReverted, res.Reason)
	assert.Equal(t, int64(3*3_600_000), res.ExitTime)
}

func TestSpreadEvaluatorNeedsPairData(t *testing.T) {
	s := NewSpreadEvaluator(0.5, 3.5, 0)
	req := spreadRequest([]float64{100}, nil)
	_, err := s.Evaluate(context.Background(), req)
	assert.ErrorIs(t, err, ErrInsufficientData)

	req.Pair = nil
	_, err = s.Evaluate(context.Background(), req)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRegistryRoutesByStrategyType(t *testing.T) {
	r := NewRegistry()
	r.Register("Spread_Based", EvaluatorFunc(func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Reason: "spread"}, nil
	}))

	res, err := r.Evaluate(context.Background(), Request{StrategyType: "spread_based"})
	require.NoError(t, err)
	assert.Equal(t, "spread", res.Reason)

	_, err = r.Evaluate(context.Background(), Request{StrategyType: "ml_signal"})
	assert.True(t, errors.Is(err, ErrNoEvaluator))

	r.SetDefault(EvaluatorFunc(func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Reason: "default"}, nil
	}))
	res, err = r.Evaluate(context.Background(), Request{StrategyType: "ml_signal"})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Reason)
	assert.Equal(t, []string{"spread_based", "*"}, r.Types())
}

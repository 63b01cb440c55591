package candles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoclose/internal/logger"
	"autoclose/internal/market"
	"autoclose/internal/pkg/circuit"
	symbolpkg "autoclose/internal/pkg/symbol"

	"golang.org/x/time/rate"
)

const (
	defaultFetchTimeout  = 5 * time.Second
	defaultCoverageRatio = 0.8
	defaultFetchLimit    = 200
)

// Cache is the persistent kline cache consulted before the remote API.
type Cache interface {
	InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error)
	LatestStart(ctx context.Context, symbol, timeframe string) (int64, bool, error)
	RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// FetchObserver receives one event per remote attempt (result: ok, error, skipped).
type FetchObserver interface {
	ObserveCandleFetch(source, result string)
}

type FetcherConfig struct {
	Cache           Cache
	Source          market.Source
	Breaker         *circuit.Breaker
	Observer        FetchObserver
	FetchTimeout    time.Duration
	CoverageRatio   float64
	FetchLimit      int
	RateLimitPerMin int
	Now             func() time.Time
}

// Fetcher serves gap-tolerant candle sequences for a symbol+timeframe from startMs to now.
// It never fails: remote trouble degrades to whatever the cache holds.
type Fetcher struct {
	cache    Cache
	source   market.Source
	breaker  *circuit.Breaker
	observer FetchObserver
	limiter  *rate.Limiter
	timeout  time.Duration
	coverage float64
	limit    int
	nowFn    func() time.Time
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("candle cache cannot be nil")
	}
	f := &Fetcher{
		cache:    cfg.Cache,
		source:   cfg.Source,
		breaker:  cfg.Breaker,
		observer: cfg.Observer,
		timeout:  cfg.FetchTimeout,
		coverage: cfg.CoverageRatio,
		limit:    cfg.FetchLimit,
		nowFn:    cfg.Now,
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	if f.coverage <= 0 || f.coverage > 1 {
		f.coverage = defaultCoverageRatio
	}
	if f.limit <= 0 {
		f.limit = defaultFetchLimit
	}
	if f.nowFn == nil {
		f.nowFn = time.Now
	}
	if f.breaker == nil {
		name := "market"
		if f.source != nil {
			name = f.source.Name()
		}
		f.breaker = circuit.New(name, 5, time.Minute)
	}
	if cfg.RateLimitPerMin > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMin)/60.0), max(1, cfg.RateLimitPerMin/60))
	}
	return f, nil
}

// GetCandles returns complete bars with OpenTime >= startMs in ascending order.
func (f *Fetcher) GetCandles(ctx context.Context, symbol, timeframe string, startMs int64) []market.Candle {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		logger.Warnf("[candles] %s: %v", symbol, err)
		return nil
	}
	key := symbolpkg.ToExchange(symbol)
	if key == "" {
		logger.Warnf("[candles] empty symbol for timeframe %s", tf.Key)
		return nil
	}
	nowMs := f.nowFn().UnixMilli()
	boundary := tf.LastCompleteStart(nowMs)

	var fresh []market.Candle
	attempted, fetched := false, false
	latest, ok, err := f.cache.LatestStart(ctx, key, tf.Key)
	if err != nil {
		logger.Warnf("[candles] %s %s latest lookup failed: %v", key, tf.Key, err)
	}
	if err != nil || !ok || latest < boundary {
		attempted = true
		fresh, fetched = f.refill(ctx, key, tf, nowMs)
	}

	cached, err := f.cache.RangeCandles(ctx, key, tf.Key, startMs, boundary)
	if err != nil {
		logger.Warnf("[candles] %s %s cache read failed: %v", key, tf.Key, err)
		cached = nil
	}
	expected := tf.ExpectedCandles(startMs, boundary)
	if expected <= 0 || float64(len(cached)) >= f.coverage*float64(expected) {
		return cached
	}

	if !attempted {
		fresh, fetched = f.refill(ctx, key, tf, nowMs)
	}
	if !fetched {
		return cached
	}
	window := market.Since(fresh, startMs)
	if len(window) == 0 {
		return cached
	}
	return merge(cached, window)
}

// refill pulls the latest bars, keeps the complete ones and upserts them into the cache.
func (f *Fetcher) refill(ctx context.Context, key string, tf market.Timeframe, nowMs int64) ([]market.Candle, bool) {
	data, err := f.fetchRemote(ctx, key, tf)
	if err != nil {
		if !errors.Is(err, circuit.ErrOpen) {
			logger.Warnf("[candles] %s %s remote fetch failed, using cache: %v", key, tf.Key, err)
		}
		return nil, false
	}
	data = tf.CompleteOnly(market.SortAscending(data), nowMs)
	if len(data) == 0 {
		return nil, true
	}
	inserted, err := f.cache.InsertCandles(ctx, key, tf.Key, data)
	if err != nil {
		logger.Warnf("[candles] %s %s cache write failed: %v", key, tf.Key, err)
	} else {
		logger.Debugf("[candles] %s %s refilled %d/%d bars", key, tf.Key, inserted, len(data))
	}
	return data, true
}

func (f *Fetcher) fetchRemote(ctx context.Context, key string, tf market.Timeframe) ([]market.Candle, error) {
	if f.source == nil {
		return nil, fmt.Errorf("no remote market source configured")
	}
	var out []market.Candle
	err := f.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if f.limiter != nil {
			if err := f.limiter.Wait(callCtx); err != nil {
				return err
			}
		}
		data, err := f.source.FetchRecent(callCtx, key, tf, f.limit)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	f.observe(err)
	return out, err
}

func (f *Fetcher) observe(err error) {
	if f.observer == nil || f.source == nil {
		return
	}
	switch {
	case err == nil:
		f.observer.ObserveCandleFetch(f.source.Name(), "ok")
	case errors.Is(err, circuit.ErrOpen):
		f.observer.ObserveCandleFetch(f.source.Name(), "skipped")
	default:
		f.observer.ObserveCandleFetch(f.source.Name(), "error")
	}
}

// merge unions two ascending sequences; on equal start times the remote bar wins.
func merge(cached, remote []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(cached)+len(remote))
	out = append(out, cached...)
	out = append(out, remote...)
	return market.SortAscending(out)
}

package autoclose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoclose/internal/logger"
	"autoclose/internal/market"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultMaxResults = 50

// Summary is the outcome of one pass over all open trades.
type Summary struct {
	PassID     string        `json:"pass_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Checked    int           `json:"checked"`
	Filled     int           `json:"filled"`
	Closed     int           `json:"closed"`
	Cancelled  int           `json:"cancelled"`
	Errors     int           `json:"errors"`
	Results    []TradeResult `json:"results"`
	Truncated  int           `json:"truncated,omitempty"`
}

func (s *Summary) add(res TradeResult, maxResults int) {
	s.Checked++
	if res.FilledNow {
		s.Filled++
	}
	switch res.Action {
	case ActionClosed:
		s.Closed++
	case ActionCancelled:
		s.Cancelled++
	}
	if res.Error != "" {
		s.Errors++
	}
	if len(s.Results) < maxResults {
		s.Results = append(s.Results, res)
	} else {
		s.Truncated++
	}
}

type DriverConfig struct {
	Repo                Repository
	Reconciler          *Reconciler
	Candles             CandleProvider
	Observer            Observer
	MaxResults          int
	PrefetchConcurrency int
	Now                 func() time.Time
	NewPassID           func() string
}

// Driver 执行一轮对账：加载未结单、预取 K 线、逐笔推进、持久化监控状态。
// 并发调用不在此去重，由上层（调度器 + HTTP 触发共享的互斥锁）保证串行。
type Driver struct {
	repo       Repository
	reconciler *Reconciler
	candles    CandleProvider
	observer   Observer
	maxResults int
	prefetchN  int
	nowFn      func() time.Time
	newID      func() string
}

func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Repo == nil || cfg.Reconciler == nil {
		return nil, fmt.Errorf("driver requires repository and reconciler")
	}
	d := &Driver{
		repo:       cfg.Repo,
		reconciler: cfg.Reconciler,
		candles:    cfg.Candles,
		observer:   cfg.Observer,
		maxResults: cfg.MaxResults,
		prefetchN:  cfg.PrefetchConcurrency,
		nowFn:      cfg.Now,
		newID:      cfg.NewPassID,
	}
	if d.candles == nil {
		d.candles = cfg.Reconciler.candles
	}
	if d.maxResults <= 0 {
		d.maxResults = defaultMaxResults
	}
	if d.nowFn == nil {
		d.nowFn = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d, nil
}

// RunPass reconciles every open trade once. Only a failure to list trades fails the pass.
func (d *Driver) RunPass(ctx context.Context) (Summary, error) {
	sum := Summary{PassID: d.newID(), StartedAt: d.nowFn().UTC(), Results: []TradeResult{}}
	log := logger.With("pass_id", sum.PassID)
	d.saveStatus(ctx, MonitorStatus{Running: true, PassID: sum.PassID, StartedAt: sum.StartedAt})

	trades, err := d.repo.ListOpenTrades(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		log.Errorf("[autoclose] pass aborted: %v", err)
		d.finish(ctx, &sum, err)
		return sum, err
	}

	memo := newMemoCandles(d.candles)
	d.prefetch(ctx, memo, trades)
	rec := d.reconciler.withCandles(memo)
	for _, ot := range trades {
		if err := ctx.Err(); err != nil {
			log.Warnf("[autoclose] pass interrupted after %d/%d trades: %v", sum.Checked, len(trades), err)
			d.finish(ctx, &sum, err)
			return sum, err
		}
		res := rec.Reconcile(ctx, ot)
		sum.add(res, d.maxResults)
		if d.observer != nil {
			d.observer.ObserveTrade(res.Action)
		}
	}
	d.finish(ctx, &sum, nil)
	log.Infof("[autoclose] pass done: checked=%d filled=%d closed=%d cancelled=%d errors=%d in %s",
		sum.Checked, sum.Filled, sum.Closed, sum.Cancelled, sum.Errors, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	return sum, nil
}

func (d *Driver) finish(ctx context.Context, sum *Summary, passErr error) {
	sum.FinishedAt = d.nowFn().UTC()
	status := MonitorStatus{
		PassID:     sum.PassID,
		StartedAt:  sum.StartedAt,
		FinishedAt: &sum.FinishedAt,
		Summary:    sum,
	}
	outcome := "ok"
	if passErr != nil {
		status.LastError = passErr.Error()
		outcome = "error"
	} else if sum.Errors > 0 {
		outcome = "partial"
	}
	// 状态写入不受本轮 ctx 取消影响。
	d.saveStatus(context.WithoutCancel(ctx), status)
	if d.observer != nil {
		d.observer.ObservePass(outcome, sum.FinishedAt.Sub(sum.StartedAt))
	}
}

func (d *Driver) saveStatus(ctx context.Context, status MonitorStatus) {
	if err := d.repo.SaveMonitorStatus(ctx, status); err != nil {
		logger.Warnf("[autoclose] save monitor status failed: %v", err)
	}
}

// prefetch loads every candle series the pass will need, concurrently.
func (d *Driver) prefetch(ctx context.Context, memo *memoCandles, trades []OpenTrade) {
	if d.prefetchN <= 0 || len(trades) == 0 {
		return
	}
	keys := make(map[candleKey]struct{})
	for _, ot := range trades {
		tf, err := market.ParseTimeframe(ot.Timeframe)
		if err != nil {
			continue
		}
		var start int64
		switch {
		case ot.Status.Pending():
			start = ot.Anchor().UnixMilli()
		case ot.Status == StatusFilled && ot.FilledAt != nil:
			start = ot.FilledAt.UnixMilli()
		default:
			continue
		}
		keys[candleKey{symbol: ot.Symbol, timeframe: tf.Key, start: start}] = struct{}{}
		ref := ot.ResolveStrategy()
		if spread, ok := ref.Meta.(SpreadMeta); ok && ref.Type == StrategySpreadBased && spread.usable() {
			keys[candleKey{symbol: spread.PairSymbol, timeframe: tf.Key, start: start}] = struct{}{}
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.prefetchN)
	for k := range keys {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logger.Warnf("[autoclose] prefetch %s %s panicked: %v", k.symbol, k.timeframe, p)
				}
			}()
			memo.GetCandles(gctx, k.symbol, k.timeframe, k.start)
			return nil
		})
	}
	_ = g.Wait()
}

type candleKey struct {
	symbol    string
	timeframe string
	start     int64
}

// memoCandles caches provider answers for the duration of one pass.
type memoCandles struct {
	base CandleProvider
	mu   sync.Mutex
	data map[candleKey][]market.Candle
}

func newMemoCandles(base CandleProvider) *memoCandles {
	return &memoCandles{base: base, data: make(map[candleKey][]market.Candle)}
}

func (m *memoCandles) GetCandles(ctx context.Context, symbol, timeframe string, startMs int64) []market.Candle {
	k := candleKey{symbol: symbol, timeframe: timeframe, start: startMs}
	m.mu.Lock()
	if c, ok := m.data[k]; ok {
		m.mu.Unlock()
		return c
	}
	m.mu.Unlock()
	c := m.base.GetCandles(ctx, symbol, timeframe, startMs)
	m.mu.Lock()
	m.data[k] = c
	m.mu.Unlock()
	return c
}

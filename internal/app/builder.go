package app

import (
	"context"
	"fmt"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/candles"
	"autoclose/internal/config"
	"autoclose/internal/logger"
	"autoclose/internal/market"
	"autoclose/internal/observability"
	"autoclose/internal/scheduler"
	"autoclose/internal/store/gormstore"
	"autoclose/internal/strategy/exit"
	autoclosehttp "autoclose/internal/transport/http/autoclose"
)

// ConfigPath is the main config file, watched for max-open-bars reloads. Empty disables watching.
type ConfigPath string

type AppBuilder struct {
	cfg  *config.Config
	path ConfigPath

	sourceFn func(*config.Config) (market.Source, error)
	nowFn    func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithSource replaces the remote market source, mainly for tests.
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(*config.Config) (market.Source, error) { return src, nil }
	}
}

// WithClock overrides the wall clock used by the fetcher and reconciler.
func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if now != nil {
			b.nowFn = now
		}
	}
}

func NewAppBuilder(cfg *config.Config, path ConfigPath, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		path:     path,
		sourceFn: buildMarketSource,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := gormstore.NewGormStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	cache, err := candles.OpenSQLiteCache(cfg.Candles.CachePath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open candle cache: %w", err)
	}
	defer func() {
		if err != nil {
			_ = cache.Close()
			_ = st.Close()
		}
	}()

	src, err := b.sourceFn(cfg)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("market source is nil")
	}
	metrics := observability.NewMetrics()
	fetcher, err := buildFetcher(cfg.Candles, cache, src, metrics, b.nowFn)
	if err != nil {
		return nil, err
	}
	strategies, err := buildStrategyExits(cfg.StrategyExit)
	if err != nil {
		return nil, err
	}
	bars := config.NewLiveBars(cfg.AutoClose.MaxOpenBars)

	reconciler, err := autoclose.NewReconciler(autoclose.ReconcilerConfig{
		Repo:               st,
		Candles:            fetcher,
		Exits:              autoclose.NewExitEvaluator(strategies, time.Duration(cfg.StrategyExit.TimeoutSeconds)*time.Second),
		Limits:             bars,
		SpreadToleranceStd: cfg.AutoClose.SpreadToleranceStd,
		Now:                b.nowFn,
	})
	if err != nil {
		return nil, err
	}
	driver, err := autoclose.NewDriver(autoclose.DriverConfig{
		Repo:                st,
		Reconciler:          reconciler,
		Candles:             fetcher,
		Observer:            metrics,
		MaxResults:          cfg.AutoClose.MaxResults,
		PrefetchConcurrency: cfg.AutoClose.PrefetchConcurrency,
		Now:                 b.nowFn,
	})
	if err != nil {
		return nil, err
	}
	runner := autoclose.NewSerialRunner(driver)

	server, err := autoclosehttp.NewServer(autoclosehttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Trigger: runner,
		Status:  st,
		Metrics: metrics.Handler(),
		Health: func(ctx context.Context) error {
			db, err := st.SQLDB()
			if err != nil {
				return err
			}
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("trade store: %w", err)
			}
			if err := cache.Ping(ctx); err != nil {
				return fmt.Errorf("candle cache: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	interval := time.Duration(cfg.AutoClose.IntervalSeconds) * time.Second
	return &App{
		cfg:        cfg,
		configPath: string(b.path),
		store:      st,
		cache:      cache,
		runner:     runner,
		bars:       bars,
		http:       server,
		scheduler:  scheduler.NewIntervalScheduler("auto-close", interval, cfg.AutoClose.RunImmediately),
		Summary:    newStartupSummary(cfg, src.Name(), strategies.Types()),
	}, nil
}

// buildStrategyExits 注册内置价差评估器；配置了外部命令时，命令作为其余策略类型的默认评估器。
func buildStrategyExits(cfg config.StrategyExitConfig) (*exit.Registry, error) {
	reg := exit.NewRegistry()
	reg.Register(autoclose.StrategySpreadBased, exit.NewSpreadEvaluator(cfg.ZScoreExit, cfg.ZScoreStop, cfg.Lookback))
	if len(cfg.Command) > 0 {
		proc, err := exit.NewProcessEvaluator(cfg.Command, time.Duration(cfg.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("strategy exit command: %w", err)
		}
		reg.SetDefault(proc)
	}
	return reg, nil
}

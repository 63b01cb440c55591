package app

import (
	"context"
	"errors"
	"fmt"

	"autoclose/internal/autoclose"
	"autoclose/internal/candles"
	"autoclose/internal/config"
	"autoclose/internal/logger"
	"autoclose/internal/scheduler"
	"autoclose/internal/store/gormstore"
	autoclosehttp "autoclose/internal/transport/http/autoclose"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：定时对账、HTTP 服务与配置热更新。
type App struct {
	cfg        *config.Config
	configPath string

	store     *gormstore.GormStore
	cache     *candles.SQLiteCache
	runner    *autoclose.SerialRunner
	bars      *config.LiveBars
	http      *autoclosehttp.Server
	scheduler *scheduler.IntervalScheduler

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。path 为空时不监听配置变更。
func NewApp(cfg *config.Config, path string, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if len(opts) > 0 {
		return NewAppBuilder(cfg, ConfigPath(path), opts...).Build(context.Background())
	}
	return buildAppWithWire(context.Background(), cfg, ConfigPath(path))
}

// Run 启动定时器与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.configPath != "" {
		if err := config.Watch(a.configPath, a.applyReload); err != nil {
			logger.Warnf("[config] watch disabled: %v", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			logger.Infof("✓ HTTP 服务监听 %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		a.scheduler.Start(ctx, a.runScheduledPass)
		return nil
	})
	return group.Wait()
}

func (a *App) runScheduledPass(ctx context.Context) {
	sum, err := a.runner.TryRunPass(ctx)
	switch {
	case errors.Is(err, autoclose.ErrPassInProgress):
		logger.Infof("[autoclose] previous pass still running, skip this tick")
	case err != nil:
		logger.Errorf("[autoclose] scheduled pass %s failed: %v", sum.PassID, err)
	}
}

func (a *App) applyReload(cfg *config.Config) {
	a.bars.Store(cfg.AutoClose.MaxOpenBars)
	logger.Infof("[config] max_open_bars reloaded")
}

// RunPass runs one pass outside the scheduler, honouring the shared lock.
func (a *App) RunPass(ctx context.Context) (autoclose.Summary, error) {
	if a == nil || a.runner == nil {
		return autoclose.Summary{}, fmt.Errorf("app not initialized")
	}
	return a.runner.TryRunPass(ctx)
}

// Store exposes the trade store (for seeding and replay harnesses).
func (a *App) Store() *gormstore.GormStore {
	if a == nil {
		return nil
	}
	return a.store
}

// Close releases the databases. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warnf("close candle cache: %v", err)
		}
		a.cache = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close trade store: %v", err)
		}
		a.store = nil
	}
}

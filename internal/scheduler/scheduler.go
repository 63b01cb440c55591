package scheduler

import (
	"context"
	"time"

	"autoclose/internal/logger"
)

// IntervalScheduler 以固定间隔执行任务；任务执行期间到期的 tick 会被合并。
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewIntervalScheduler(name string, interval time.Duration, runImmediately bool) *IntervalScheduler {
	return &IntervalScheduler{
		Name:           name,
		Interval:       interval,
		RunImmediately: runImmediately,
		nowFn:          time.Now,
	}
}

// Start blocks until ctx is done.
func (s *IntervalScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	prefix := "IntervalScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("%s: ctx done, exit | uptime=%s", prefix, s.nowFn().UTC().Sub(startAt).Truncate(time.Second))
			return
		case <-ticker.C:
		}
		logger.Debugf("%s: tick, next run at %s", prefix, s.nowFn().UTC().Add(s.Interval).Format(time.RFC3339))
		task(ctx)
	}
}

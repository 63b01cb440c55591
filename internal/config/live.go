package config

import "sync/atomic"

// LiveBars holds the max-open-bars table; Store swaps it atomically on config reload.
type LiveBars struct {
	p atomic.Pointer[MaxOpenBarsConfig]
}

func NewLiveBars(initial MaxOpenBarsConfig) *LiveBars {
	l := &LiveBars{}
	l.Store(initial)
	return l
}

func (l *LiveBars) Store(m MaxOpenBarsConfig) {
	m = m.normalized()
	l.p.Store(&m)
}

func (l *LiveBars) Load() MaxOpenBarsConfig {
	if m := l.p.Load(); m != nil {
		return *m
	}
	return MaxOpenBarsConfig{}
}

func (l *LiveBars) BeforeFill(strategyType, timeframe string) int {
	return l.Load().Lookup(strategyType, timeframe, PhaseBeforeFill)
}

func (l *LiveBars) AfterFill(strategyType, timeframe string) int {
	return l.Load().Lookup(strategyType, timeframe, PhaseAfterFill)
}

package autoclose

import (
	"context"
	"errors"
	"sync"
)

// ErrPassInProgress is returned when a pass is requested while another one is still running.
var ErrPassInProgress = errors.New("auto-close pass already running")

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	RunPass(ctx context.Context) (Summary, error)
}

// SerialRunner 让定时器与手动触发共享同一把锁；忙时直接拒绝而不是排队。
type SerialRunner struct {
	runner PassRunner
	mu     sync.Mutex
}

func NewSerialRunner(runner PassRunner) *SerialRunner {
	return &SerialRunner{runner: runner}
}

// TryRunPass runs a pass unless one is already in flight, in which case it returns ErrPassInProgress.
func (s *SerialRunner) TryRunPass(ctx context.Context) (Summary, error) {
	if !s.mu.TryLock() {
		return Summary{}, ErrPassInProgress
	}
	defer s.mu.Unlock()
	return s.runner.RunPass(ctx)
}

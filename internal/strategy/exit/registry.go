package exit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 按策略类型分发退出判定；未命中时使用默认 evaluator（若有）。
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	fallback   Evaluator
}

// NewRegistry 构造空 registry。
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register 绑定策略类型，重复注册会覆盖。
func (r *Registry) Register(strategyType string, e Evaluator) {
	if r == nil || e == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(strategyType))
	if key == "" {
		panic("exit evaluator 注册失败: strategy type 不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[key] = e
}

// SetDefault sets the evaluator used for strategy types with no explicit binding.
func (r *Registry) SetDefault(e Evaluator) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

func (r *Registry) lookup(strategyType string) (Evaluator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.evaluators[strings.ToLower(strings.TrimSpace(strategyType))]; ok {
		return e, true
	}
	return r.fallback, r.fallback != nil
}

// Types lists the bound strategy types in order; "*" marks a default evaluator.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.evaluators)+1)
	for k := range r.evaluators {
		out = append(out, k)
	}
	sort.Strings(out)
	if r.fallback != nil {
		out = append(out, "*")
	}
	return out
}

// Evaluate implements Evaluator.
func (r *Registry) Evaluate(ctx context.Context, req Request) (*Result, error) {
	e, ok := r.lookup(req.StrategyType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoEvaluator, req.StrategyType)
	}
	return e.Evaluate(ctx, req)
}

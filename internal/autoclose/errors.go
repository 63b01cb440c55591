package autoclose

import "errors"

var (
	// ErrTimelineViolation 表示写入会破坏 created_at ≤ filled_at ≤ closed_at，拒绝写入。
	ErrTimelineViolation = errors.New("timeline violation")
	// ErrMissingStrategy 表示无法解析出策略名称和类型。
	ErrMissingStrategy = errors.New("strategy not resolvable")
	// ErrStoreUnavailable wraps failures to list open trades; the pass cannot proceed.
	ErrStoreUnavailable = errors.New("trade store unavailable")
)

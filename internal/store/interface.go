package store

import "errors"

var (
	// ErrTradeStale 表示带状态守卫的更新没有命中任何行（已被其他流程推进或已结算）。
	ErrTradeStale = errors.New("trade state changed concurrently")
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("record not found")
)

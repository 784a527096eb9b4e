package participant

import (
	"context"
	"sync"
)

// Watch 单值广播单元：写入覆盖旧值并递增版本号，读者只关心最新值
type Watch[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
}

// NewWatch 以初始值创建
func NewWatch[T any](initial T) *Watch[T] {
	return &Watch[T]{value: initial, changed: make(chan struct{})}
}

// Get 当前值
func (w *Watch[T]) Get() T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value
}

// Load 当前值、版本号以及下一次写入时关闭的通道
func (w *Watch[T]) Load() (T, uint64, <-chan struct{}) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value, w.version, w.changed
}

// Version 当前版本号
func (w *Watch[T]) Version() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Changed 下一次写入时关闭的通道
func (w *Watch[T]) Changed() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changed
}

// Set 覆盖写入并唤醒所有等待者
func (w *Watch[T]) Set(v T) {
	w.Update(func(cur *T) { *cur = v })
}

// Update 原地修改后广播
func (w *Watch[T]) Update(fn func(*T)) {
	w.mu.Lock()
	fn(&w.value)
	w.version++
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

// WaitFor 阻塞直到值满足条件或 ctx 结束
func (w *Watch[T]) WaitFor(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		v, _, ch := w.Load()
		if pred(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

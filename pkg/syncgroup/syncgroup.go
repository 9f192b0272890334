package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化后台 goroutine 的生命周期管理。
// 自动管理 Add() 和 Done()；关闭后不再接受新任务，避免 Add 与 Wait 并发。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Go 启动一个 goroutine；已关闭时不执行并返回 false
func (w *SyncGroup) Go(fn func()) bool {
	if fn == nil {
		return false
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.wg.Add(1)
	w.running++
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running--
			w.mu.Unlock()
			w.wg.Done()
		}()
		fn()
	}()
	return true
}

// Running 当前运行中的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CloseAndWait 拒绝新任务并等待已启动的 goroutine 全部完成，可重复调用
func (w *SyncGroup) CloseAndWait() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

// Wait 等待所有 goroutine 完成（不关闭）
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

package services

import "sync/atomic"

// Epoch 会话代号：登录/注册/登出/恢复会话时单调递增。
// 请求发出时记录代号，结果落地前在缓存写锁内比对，不一致即丢弃。
type Epoch struct {
	v atomic.Uint64
}

func (e *Epoch) Current() uint64 { return e.v.Load() }

// Bump 递增并返回新代号
func (e *Epoch) Bump() uint64 { return e.v.Add(1) }

package services

import (
	"sync"
	"time"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/pkg/sigchan"
)

// 操作键
const (
	OpUserOrders = "user_orders"
	OpProfile    = "profile"
)

func OpPlaceOrder(symbol domain.Symbol) string { return "place_order:" + string(symbol.Normalize()) }
func OpCancelOrder(orderID string) string { return "cancel_order:" + orderID }
func OpOrderBook(symbol domain.Symbol) string { return "orderbook:" + string(symbol.Normalize()) }

// OpState 单个操作的加载/错误状态
type OpState struct {
	Loading    bool
	Err        error
	InFlight   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// OpTracker 按操作键记录加载/错误状态，互不覆盖。
// 同一键并发执行时 Loading 持续到最后一个完成，Err 取最后完成者的结果。
type OpTracker struct {
	mu      sync.RWMutex
	ops     map[string]*OpState
	updated *sigchan.Chan
	now     func() time.Time
}

func NewOpTracker() *OpTracker {
	return &OpTracker{
		ops:     make(map[string]*OpState),
		updated: sigchan.New(1),
		now:     time.Now,
	}
}

// Begin 标记操作开始，清空上次错误
func (t *OpTracker) Begin(key string) {
	t.mu.Lock()
	st, ok := t.ops[key]
	if !ok {
		st = &OpState{}
		t.ops[key] = st
	}
	st.InFlight++
	st.Loading = true
	st.Err = nil
	st.StartedAt = t.now()
	t.mu.Unlock()
	t.updated.Emit()
}

// End 标记操作结束
func (t *OpTracker) End(key string, err error) {
	t.mu.Lock()
	st, ok := t.ops[key]
	if !ok {
		st = &OpState{}
		t.ops[key] = st
	}
	if st.InFlight > 0 {
		st.InFlight--
	}
	st.Loading = st.InFlight > 0
	st.Err = err
	st.FinishedAt = t.now()
	t.mu.Unlock()
	t.updated.Emit()
}

// Track 包装一次操作
func (t *OpTracker) Track(key string, fn func() error) error {
	t.Begin(key)
	err := fn()
	t.End(key, err)
	return err
}

// State 返回操作状态副本；未出现过的键返回零值
func (t *OpTracker) State(key string) OpState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.ops[key]; ok {
		return *st
	}
	return OpState{}
}

func (t *OpTracker) Loading(key string) bool { return t.State(key).Loading }

func (t *OpTracker) Err(key string) error { return t.State(key).Err }

// Snapshot 返回所有操作状态
func (t *OpTracker) Snapshot() map[string]OpState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]OpState, len(t.ops))
	for k, st := range t.ops {
		out[k] = *st
	}
	return out
}

// Reset 清除已结束操作的状态（进行中的保留计数，避免 End 时计数错乱）
func (t *OpTracker) Reset() {
	t.mu.Lock()
	for k, st := range t.ops {
		if st.InFlight == 0 {
			delete(t.ops, k)
			continue
		}
		st.Err = nil
	}
	t.mu.Unlock()
	t.updated.Emit()
}

// Updated 状态变化通知
func (t *OpTracker) Updated() <-chan struct{} { return t.updated.C() }

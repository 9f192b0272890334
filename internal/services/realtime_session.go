package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/internal/stream"
)

// RealtimeState 实时频道状态
type RealtimeState int32

const (
	StateDisconnected RealtimeState = iota
	StateConnecting
	StateConnected
)

func (s RealtimeState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// ErrSubscriptionEnded 订阅在未被主动关闭的情况下结束
var ErrSubscriptionEnded = errors.New("realtime subscription ended unexpectedly")

// RealtimeSession 持有唯一一个已鉴权的频道订阅。
//
// 每次 Start 都先完整拆除旧订阅再建立新订阅，任意时刻最多一个存活订阅。
// 事件处理器注册在重连之间保持有效；旧订阅（已拆除的代）投递的事件直接丢弃。
type RealtimeSession struct {
	channel  ports.RealtimeChannel
	handlers *stream.HandlerList

	// mu 串行化 Start/Stop，并保护 sub/attached/watchStop/channelName
	mu          sync.Mutex
	sub         ports.Subscription
	attached    map[string]bool
	watchStop   chan struct{}
	channelName string

	state atomic.Int32
	gen   atomic.Uint64

	degradedMu       sync.RWMutex
	degraded         error
	degradedHandlers []func(error)
}

func NewRealtimeSession(channel ports.RealtimeChannel) *RealtimeSession {
	return &RealtimeSession{
		channel:  channel,
		handlers: stream.NewHandlerList(),
	}
}

// State 当前状态
func (r *RealtimeSession) State() RealtimeState {
	return RealtimeState(r.state.Load())
}

// ChannelName 当前（或最近一次）订阅的频道名
func (r *RealtimeSession) ChannelName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelName
}

// Degraded 最近一次传输错误；新订阅成功后清空
func (r *RealtimeSession) Degraded() error {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	return r.degraded
}

// OnDegraded 注册降级回调
func (r *RealtimeSession) OnDegraded(fn func(error)) {
	if fn == nil {
		return
	}
	r.degradedMu.Lock()
	r.degradedHandlers = append(r.degradedHandlers, fn)
	r.degradedMu.Unlock()
}

// OnEvent 注册事件处理器；已连接时立即挂到当前订阅
func (r *RealtimeSession) OnEvent(eventName string, handler ports.EventHandler) {
	if handler == nil {
		return
	}
	r.handlers.Add(eventName, handler)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil && r.State() == StateConnected {
		r.attachLocked(eventName)
	}
}

// Start 用 token 订阅 channelName；已有订阅时先完整拆除。
// 订阅失败只标记降级并返回错误，不影响缓存的显式拉取。
func (r *RealtimeSession) Start(ctx context.Context, channelName, token string) error {
	r.mu.Lock()
	r.teardownLocked()

	if token == "" {
		r.mu.Unlock()
		return ErrNotAuthenticated
	}

	gen := r.gen.Add(1)
	r.channelName = channelName
	r.state.Store(int32(StateConnecting))
	entry := log.WithFields(logrus.Fields{"channel": channelName, "gen": gen})
	entry.Info("🔌 订阅实时频道...")

	sub, err := r.channel.Subscribe(ctx, channelName, token)
	if err != nil {
		r.state.Store(int32(StateDisconnected))
		r.mu.Unlock()
		entry.Warnf("⚠️ 实时频道订阅失败: %v", err)
		r.markDegraded(gen, err)
		return err
	}

	r.sub = sub
	r.attached = make(map[string]bool)
	for _, name := range r.handlers.Events() {
		r.attachLocked(name)
	}
	stop := make(chan struct{})
	r.watchStop = stop
	r.state.Store(int32(StateConnected))
	r.mu.Unlock()

	r.degradedMu.Lock()
	r.degraded = nil
	r.degradedMu.Unlock()

	go r.watch(gen, sub.Errors(), stop)
	entry.Info("✅ 实时频道已连接")
	return nil
}

// Stop 拆除当前订阅；未连接时为空操作
func (r *RealtimeSession) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
}

func (r *RealtimeSession) teardownLocked() {
	// 先换代，旧订阅此后投递的事件都会被丢弃
	r.gen.Add(1)
	if r.watchStop != nil {
		close(r.watchStop)
		r.watchStop = nil
	}
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Warnf("退订失败（忽略）: %v", err)
		}
		r.sub = nil
		log.WithField("channel", r.channelName).Info("实时频道已拆除")
	}
	r.attached = nil
	r.state.Store(int32(StateDisconnected))
}

func (r *RealtimeSession) attachLocked(eventName string) {
	if r.attached[eventName] {
		return
	}
	r.attached[eventName] = true
	r.sub.On(eventName, r.dispatcher(r.gen.Load(), eventName))
}

func (r *RealtimeSession) dispatcher(gen uint64, eventName string) ports.EventHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		if r.gen.Load() != gen {
			log.WithFields(logrus.Fields{"event": eventName, "gen": gen}).Debug("丢弃已拆除订阅的事件")
			return nil
		}
		r.handlers.Emit(ctx, eventName, payload)
		return nil
	}
}

// watch 监听订阅的异步错误，直到订阅结束或被拆除
func (r *RealtimeSession) watch(gen uint64, errs <-chan error, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case err, ok := <-errs:
			if !ok {
				if r.gen.Load() == gen {
					r.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected))
					r.markDegraded(gen, ErrSubscriptionEnded)
				}
				return
			}
			if err != nil {
				r.markDegraded(gen, err)
			}
		}
	}
}

func (r *RealtimeSession) markDegraded(gen uint64, err error) {
	if r.gen.Load() != gen {
		return
	}
	r.degradedMu.Lock()
	r.degraded = err
	handlers := append([]func(error){}, r.degradedHandlers...)
	r.degradedMu.Unlock()

	log.WithField("gen", gen).Warnf("⚠️ 实时频道降级: %v", err)
	for _, fn := range handlers {
		fn(err)
	}
}

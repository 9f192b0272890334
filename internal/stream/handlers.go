package stream

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/ports"
)

var log = logrus.WithField("component", "stream")

// HandlerList 按事件名存储推送处理器；注册在重连之间保持有效
type HandlerList struct {
	handlers map[string][]ports.EventHandler
	mu       sync.RWMutex
}

// NewHandlerList 创建新的处理器列表
func NewHandlerList() *HandlerList {
	return &HandlerList{
		handlers: make(map[string][]ports.EventHandler),
	}
}

// Add 添加处理器；返回该事件名是否第一次出现
func (h *HandlerList) Add(eventName string, handler ports.EventHandler) bool {
	if handler == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, seen := h.handlers[eventName]
	h.handlers[eventName] = append(h.handlers[eventName], handler)
	return !seen
}

// Snapshot 返回某事件处理器快照（用于在无锁状态下遍历，避免长时间持锁）
func (h *HandlerList) Snapshot(eventName string) []ports.EventHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ports.EventHandler, len(h.handlers[eventName]))
	copy(out, h.handlers[eventName])
	return out
}

// Events 返回已注册的事件名（排序，便于确定性地挂载）
func (h *HandlerList) Events() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Emit 串行触发某事件的所有处理器（确定性优先）；单个处理器失败或 panic 不影响其它处理器
func (h *HandlerList) Emit(ctx context.Context, eventName string, payload json.RawMessage) {
	handlers := h.Snapshot(eventName)
	if len(handlers) == 0 {
		log.Debugf("[Emit] 事件 %s 没有处理器", eventName)
		return
	}

	for i, handler := range handlers {
		func(idx int, fn ports.EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("事件 %s 处理器 %d panic: %v", eventName, idx, r)
				}
			}()
			if err := fn(ctx, payload); err != nil {
				log.Errorf("事件 %s 处理器 %d 执行失败: %v", eventName, idx, err)
			}
		}(i, handler)
	}
}

// Count 返回处理器总数（用于调试）
func (h *HandlerList) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.handlers {
		n += len(list)
	}
	return n
}

package sigchan

import "sync"

// Chan 是一个非阻塞的信号广播器
// 用于通知“状态已变化”，但不传递数据；每个订阅者拥有独立的缓冲 channel
type Chan struct {
	mu         sync.Mutex
	subs       []chan struct{}
	bufferSize int
}

// New 创建新的信号广播器
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{bufferSize: bufferSize}
}

// Emit 向所有订阅者发送信号（非阻塞，满了就合并）
func (c *Chan) Emit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// C 注册一个新的订阅者并返回其 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	ch := make(chan struct{}, c.bufferSize)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

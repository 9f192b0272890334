package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数；完成后必须调用 wg.Done()
type Handler func(ctx context.Context, wg *sync.WaitGroup)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调，阻塞到全部完成或 ctx 超时。
// 只执行一次，返回未在期限内完成的回调名。
func (m *Manager) Shutdown(ctx context.Context) []string {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		log.Info("没有注册的关闭回调")
		return nil
	}

	log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		wg      sync.WaitGroup
		pending sync.Map
	)
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		pending.Store(cb.name, true)
		go func(h namedHandler) {
			var inner sync.WaitGroup
			inner.Add(1)
			h.fn(ctx, &inner)
			inner.Wait()
			pending.Delete(h.name)
			wg.Done()
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✅ 所有关闭回调已完成")
		return nil
	case <-ctx.Done():
		var stuck []string
		pending.Range(func(k, _ any) bool {
			stuck = append(stuck, k.(string))
			return true
		})
		log.WithField("pending", stuck).Warnf("关闭超时: %v", ctx.Err())
		return stuck
	}
}

// WaitForSignal 阻塞直到收到 SIGINT/SIGTERM 或 ctx 结束
func WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("收到信号 %s", sig)
		return sig
	case <-ctx.Done():
		return nil
	}
}

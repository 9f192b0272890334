package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsAllCallbacks(t *testing.T) {
	m := NewManager()
	var n atomic.Int32
	for _, name := range []string{"realtime", "store"} {
		m.OnShutdown(name, func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			n.Add(1)
		})
	}

	pending := m.Shutdown(context.Background())
	assert.Empty(t, pending)
	assert.Equal(t, int32(2), n.Load())

	// 第二次调用不再执行
	m.Shutdown(context.Background())
	assert.Equal(t, int32(2), n.Load())
}

func TestManager_TimeoutReportsPending(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)

	m.OnShutdown("fast", func(ctx context.Context, wg *sync.WaitGroup) { wg.Done() })
	m.OnShutdown("stuck", func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	pending := m.Shutdown(ctx)
	assert.Equal(t, []string{"stuck"}, pending)
}

func TestManager_NoCallbacks(t *testing.T) {
	assert.Nil(t, NewManager().Shutdown(context.Background()))
}

func TestWaitForSignal_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, WaitForSignal(ctx))
}

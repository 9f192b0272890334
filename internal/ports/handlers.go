package ports

import (
	"context"

	"github.com/betbot/tradesync/internal/domain"
)

// SessionListener 会话变化监听器（同步调用，在触发操作返回前完成）
//
// NOTE: 定义在中立包中，避免 services 与 app 之间的循环依赖。
type SessionListener interface {
	OnSessionEstablished(ctx context.Context, session domain.Session)
	OnSessionEnded(ctx context.Context)
}

// OrderStatusApplier 处理订单状态推送
type OrderStatusApplier interface {
	ApplyStatusEvent(orderID string, status domain.OrderStatus) bool
}

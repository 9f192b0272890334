package ports

import (
	"context"
	"encoding/json"

	"github.com/betbot/tradesync/internal/domain"
)

// 核心依赖的外部能力（HTTP / 实时频道 / 本地存储）都以窄接口的形式注入，
// 核心层不感知具体实现。

// APIClient REST 传输能力。
//
// 响应统一为 {success, data, message} 信封；success=false 与非 2xx 同样返回 error。
// out 为 nil 时忽略 data。
type APIClient interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}

// EventHandler 推送事件处理函数
type EventHandler func(ctx context.Context, payload json.RawMessage) error

// RealtimeChannel 实时频道传输能力
type RealtimeChannel interface {
	// Subscribe 使用 authToken 完成鉴权并订阅 channelName
	Subscribe(ctx context.Context, channelName, authToken string) (Subscription, error)
}

// Subscription 一个已鉴权的频道订阅，绑定单个 token
type Subscription interface {
	On(eventName string, handler EventHandler)
	Unsubscribe() error
	// Errors 订阅存活期间的异步传输错误；订阅结束后关闭
	Errors() <-chan error
}

// KeyValueStore 本地持久化能力。Get 在 key 不存在时返回 ("", false, nil)。
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// UserUpdater 整体替换当前用户（由 SessionStore 实现，注入给 ProfileCache）
type UserUpdater interface {
	UpdateUser(user *domain.User) error
	// UpdateUserAt 仅当会话代号仍为 epoch 时才替换；applied=false 表示会话已切换，结果被丢弃
	UpdateUserAt(epoch uint64, user *domain.User) (applied bool, err error)
}

// EpochSource 会话代号：每次登录/登出单调递增，用于丢弃跨会话的过期响应
type EpochSource interface {
	Epoch() uint64
}

package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/pkg/sigchan"
)

// UserOrderCache 当前用户的订单集合（按 ID 唯一）
type UserOrderCache struct {
	api    ports.APIClient
	epochs ports.EpochSource

	mu     sync.RWMutex
	orders []domain.Order
	index  map[string]int

	updated *sigchan.Chan
	discard DiscardObserver
}

func NewUserOrderCache(api ports.APIClient, epochs ports.EpochSource) *UserOrderCache {
	return &UserOrderCache{
		api:     api,
		epochs:  epochs,
		index:   make(map[string]int),
		updated: sigchan.New(1),
	}
}

func (c *UserOrderCache) SetDiscardObserver(obs DiscardObserver) {
	c.mu.Lock()
	c.discard = obs
	c.mu.Unlock()
}

// Fetch 拉取并整体替换订单集合（最后完成的响应生效）。
// 返回 (nil, nil) 表示响应因会话切换被丢弃。
func (c *UserOrderCache) Fetch(ctx context.Context) ([]domain.Order, error) {
	issued := c.epochs.Epoch()
	var resp domain.OrdersResponse
	if err := c.api.Get(ctx, "/orders/me", &resp); err != nil {
		return nil, err
	}
	orders, index := dedupeOrders(resp.Orders)

	c.mu.Lock()
	if cur := c.epochs.Epoch(); cur != issued {
		obs := c.discard
		c.mu.Unlock()
		reportDiscard(obs, Discard{Op: OpUserOrders, Reason: DiscardSessionChanged, IssuedEpoch: issued, CurrentEpoch: cur})
		return nil, nil
	}
	c.orders = orders
	c.index = index
	c.mu.Unlock()

	c.updated.Emit()
	if dropped := len(resp.Orders) - len(orders); dropped > 0 {
		log.Warnf("⚠️ 订单列表包含 %d 个重复 ID，已保留首次出现的订单", dropped)
	}
	log.WithField("count", len(orders)).Debug("用户订单已更新")
	return domain.CloneOrders(orders), nil
}

// dedupeOrders 按 ID 去重（保留首次出现）
func dedupeOrders(in []domain.Order) ([]domain.Order, map[string]int) {
	out := make([]domain.Order, 0, len(in))
	index := make(map[string]int, len(in))
	for _, o := range in {
		if _, dup := index[o.ID]; dup {
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out, index
}

// ApplyStatusEvent 更新本地已有订单的状态。
// 未知订单直接忽略（不排队、不重试）；不做单调性校验，终态也会被覆盖。
func (c *UserOrderCache) ApplyStatusEvent(orderID string, status domain.OrderStatus) bool {
	c.mu.Lock()
	i, ok := c.index[orderID]
	if !ok {
		c.mu.Unlock()
		log.WithField("order_id", orderID).Debug("状态推送对应的订单不在本地，忽略")
		return false
	}
	prev := c.orders[i].Status
	c.orders[i].Status = status
	c.mu.Unlock()

	c.updated.Emit()
	entry := log.WithFields(logrus.Fields{"order_id": orderID, "from": prev, "to": status})
	if prev.IsFinal() && prev != status {
		entry.Warn("⚠️ 终态订单状态被推送覆盖")
	} else {
		entry.Debug("订单状态已更新")
	}
	return true
}

// Orders 订单集合副本
func (c *UserOrderCache) Orders() []domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.CloneOrders(c.orders)
}

// Order 按 ID 查询
func (c *UserOrderCache) Order(orderID string) (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return c.orders[i], true
}

// Reset 清空
func (c *UserOrderCache) Reset() {
	c.mu.Lock()
	c.orders = nil
	c.index = make(map[string]int)
	c.mu.Unlock()
	c.updated.Emit()
}

func (c *UserOrderCache) Updated() <-chan struct{} { return c.updated.C() }

package services

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/pkg/sigchan"
)

// OrderBookCache 按 symbol 保存买卖盘，每次拉取整体替换该 symbol 的数据。
//
// 同一 symbol 的并发拉取不做请求号隔离：最后完成的响应决定最终状态。
type OrderBookCache struct {
	api    ports.APIClient
	epochs ports.EpochSource

	mu    sync.RWMutex
	books map[domain.Symbol]domain.OrderBook

	updated *sigchan.Chan
	discard DiscardObserver
	now     func() time.Time
}

func NewOrderBookCache(api ports.APIClient, epochs ports.EpochSource) *OrderBookCache {
	return &OrderBookCache{
		api:     api,
		epochs:  epochs,
		books:   make(map[domain.Symbol]domain.OrderBook),
		updated: sigchan.New(1),
		now:     time.Now,
	}
}

// SetDiscardObserver 设置过期响应观测钩子
func (c *OrderBookCache) SetDiscardObserver(obs DiscardObserver) {
	c.mu.Lock()
	c.discard = obs
	c.mu.Unlock()
}

// Fetch 拉取并整体替换 symbol 的买卖盘。
// 返回 (nil, nil) 表示响应因会话切换被丢弃。
func (c *OrderBookCache) Fetch(ctx context.Context, symbol domain.Symbol) (*domain.OrderBook, error) {
	symbol = symbol.Normalize()
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}

	issued := c.epochs.Epoch()
	var resp domain.OrderBookResponse
	if err := c.api.Get(ctx, "/orders?symbol="+url.QueryEscape(string(symbol)), &resp); err != nil {
		return nil, err
	}

	book := domain.OrderBook{
		Symbol:    symbol,
		Buy:       domain.CloneOrders(resp.BuyOrders),
		Sell:      domain.CloneOrders(resp.SellOrders),
		FetchedAt: c.now(),
	}

	c.mu.Lock()
	if cur := c.epochs.Epoch(); cur != issued {
		obs := c.discard
		c.mu.Unlock()
		reportDiscard(obs, Discard{Op: OpOrderBook(symbol), Reason: DiscardSessionChanged, IssuedEpoch: issued, CurrentEpoch: cur})
		return nil, nil
	}
	c.books[symbol] = book
	c.mu.Unlock()

	c.updated.Emit()
	log.WithFields(logrus.Fields{"symbol": symbol, "buy": len(book.Buy), "sell": len(book.Sell)}).Debug("订单簿已更新")

	out := book.Clone()
	return &out, nil
}

// Book 返回 symbol 的买卖盘副本
func (c *OrderBookCache) Book(symbol domain.Symbol) (domain.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[symbol.Normalize()]
	if !ok {
		return domain.OrderBook{}, false
	}
	return b.Clone(), true
}

// Has 是否持有 symbol 的买卖盘
func (c *OrderBookCache) Has(symbol domain.Symbol) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.books[symbol.Normalize()]
	return ok
}

// Symbols 已持有的 symbol（排序）
func (c *OrderBookCache) Symbols() []domain.Symbol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(c.books))
	for s := range c.books {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset 清空所有买卖盘
func (c *OrderBookCache) Reset() {
	c.mu.Lock()
	c.books = make(map[domain.Symbol]domain.OrderBook)
	c.mu.Unlock()
	c.updated.Emit()
}

// Updated 数据变化通知
func (c *OrderBookCache) Updated() <-chan struct{} { return c.updated.C() }

package services

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
)

// TradingFacade 编排复合操作：下单/撤单成功后依次刷新用户订单与订单簿。
//
// 刷新失败只记录在各自的操作状态里，不回滚也不影响已成功的变更。
type TradingFacade struct {
	api     ports.APIClient
	orders  ports.UserOrdersFetcher
	books   ports.OrderBookFetcher
	profile ports.ProfileFetcher
	ops     *OpTracker
}

func NewTradingFacade(
	api ports.APIClient,
	orders ports.UserOrdersFetcher,
	books ports.OrderBookFetcher,
	profile ports.ProfileFetcher,
	ops *OpTracker,
) *TradingFacade {
	if ops == nil {
		ops = NewOpTracker()
	}
	return &TradingFacade{api: api, orders: orders, books: books, profile: profile, ops: ops}
}

// Ops 操作状态
func (f *TradingFacade) Ops() *OpTracker { return f.ops }

// PlaceOrder 下单；价格/数量原样提交，由服务端校验
func (f *TradingFacade) PlaceOrder(ctx context.Context, symbol domain.Symbol, side domain.Side, price, amount decimal.Decimal) (*domain.Order, error) {
	symbol = symbol.Normalize()
	key := OpPlaceOrder(symbol)
	f.ops.Begin(key)

	var resp domain.OrderResponse
	err := f.api.Post(ctx, "/orders", domain.PlaceOrderRequest{
		Symbol: symbol,
		Side:   side,
		Price:  price,
		Amount: amount,
	}, &resp)
	if err != nil {
		f.ops.End(key, err)
		log.WithFields(logrus.Fields{"symbol": symbol, "side": side}).Warnf("下单失败: %v", err)
		return nil, err
	}

	log.WithFields(logrus.Fields{"symbol": symbol, "side": side, "order_id": resp.Order.ID}).Info("📝 下单成功")
	f.refresh(ctx, symbol)
	f.ops.End(key, nil)

	order := resp.Order
	return &order, nil
}

// CancelOrder 撤单，成功后执行与下单相同的刷新序列
func (f *TradingFacade) CancelOrder(ctx context.Context, orderID string, symbol domain.Symbol) (*domain.Order, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	symbol = symbol.Normalize()
	key := OpCancelOrder(orderID)
	f.ops.Begin(key)

	var resp domain.OrderResponse
	if err := f.api.Post(ctx, "/orders/"+url.PathEscape(orderID)+"/cancel", nil, &resp); err != nil {
		f.ops.End(key, err)
		log.WithField("order_id", orderID).Warnf("撤单失败: %v", err)
		return nil, err
	}

	log.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID}).Info("撤单成功")
	f.refresh(ctx, symbol)
	f.ops.End(key, nil)

	order := resp.Order
	return &order, nil
}

// refresh 严格按顺序：先用户订单，再订单簿
func (f *TradingFacade) refresh(ctx context.Context, symbol domain.Symbol) {
	if _, err := f.FetchUserOrders(ctx); err != nil {
		log.Warnf("刷新用户订单失败: %v", err)
	}
	if symbol == "" {
		return
	}
	if _, err := f.FetchOrderBook(ctx, symbol); err != nil {
		log.WithField("symbol", symbol).Warnf("刷新订单簿失败: %v", err)
	}
}

// FetchOrderBook 拉取订单簿（记录 orderbook:<symbol> 状态）
func (f *TradingFacade) FetchOrderBook(ctx context.Context, symbol domain.Symbol) (*domain.OrderBook, error) {
	var book *domain.OrderBook
	err := f.ops.Track(OpOrderBook(symbol), func() (err error) {
		book, err = f.books.Fetch(ctx, symbol)
		return err
	})
	return book, err
}

// FetchUserOrders 拉取用户订单（记录 user_orders 状态）
func (f *TradingFacade) FetchUserOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := f.ops.Track(OpUserOrders, func() (err error) {
		orders, err = f.orders.Fetch(ctx)
		return err
	})
	return orders, err
}

// FetchProfile 拉取资产与用户信息（记录 profile 状态）
func (f *TradingFacade) FetchProfile(ctx context.Context) (*domain.Profile, error) {
	if f.profile == nil {
		return nil, errors.New("profile fetcher is not configured")
	}
	var profile *domain.Profile
	err := f.ops.Track(OpProfile, func() (err error) {
		profile, err = f.profile.Fetch(ctx)
		return err
	})
	return profile, err
}

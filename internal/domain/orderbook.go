package domain

import "time"

// OrderBook 单个 symbol 的买卖盘视图
//
// Buy/Sell 的顺序由服务端决定（价格/时间优先），客户端不重新排序。
type OrderBook struct {
	Symbol    Symbol    `json:"symbol"`
	Buy       []Order   `json:"buy_orders"`
	Sell      []Order   `json:"sell_orders"`
	FetchedAt time.Time `json:"-"`
}

// Clone 返回副本
func (b OrderBook) Clone() OrderBook {
	return OrderBook{
		Symbol:    b.Symbol,
		Buy:       CloneOrders(b.Buy),
		Sell:      CloneOrders(b.Sell),
		FetchedAt: b.FetchedAt,
	}
}

// OrderBookResponse GET /orders?symbol= 的数据体
type OrderBookResponse struct {
	BuyOrders  []Order `json:"buy_orders"`
	SellOrders []Order `json:"sell_orders"`
}

// OrdersResponse GET /orders/me 的数据体
type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// OrderResponse POST /orders 与 /orders/{id}/cancel 的数据体
type OrderResponse struct {
	Order Order `json:"order"`
}

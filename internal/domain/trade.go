package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 推送事件名称
const (
	EventOrderMatched = "order.matched"
	EventOrderStatus  = "order.status"
)

// UserChannelName 返回用户私有频道名
func UserChannelName(userID string) string {
	return "private-user." + userID
}

// OrderMatchedEvent 撮合成交推送
type OrderMatchedEvent struct {
	TradeID    string          `json:"trade_id"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	Symbol     Symbol          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Total      decimal.Decimal `json:"total"`
	Commission decimal.Decimal `json:"commission"`
	MatchedAt  time.Time       `json:"matched_at"`
}

// Involves 用户是否为该笔成交的一方
func (e *OrderMatchedEvent) Involves(userID string) bool {
	return userID != "" && (e.BuyerID == userID || e.SellerID == userID)
}

// OrderStatusEvent 订单状态变更推送
type OrderStatusEvent struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

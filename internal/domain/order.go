package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol 交易对符号（例如 BTC / ETH）
type Symbol string

const (
	SymbolBTC Symbol = "BTC"
	SymbolETH Symbol = "ETH"
)

// Normalize 统一为大写并去掉空白
func (s Symbol) Normalize() Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(string(s))))
}

func (s Symbol) String() string { return string(s) }

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 检查方向是否合法
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus 订单状态（线上编码：1=OPEN 2=FILLED 3=CANCELLED）
type OrderStatus int

const (
	OrderStatusUnknown   OrderStatus = 0
	OrderStatusOpen      OrderStatus = 1
	OrderStatusFilled    OrderStatus = 2
	OrderStatusCancelled OrderStatus = 3
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Valid 是否为已知状态
func (s OrderStatus) Valid() bool {
	return s >= OrderStatusOpen && s <= OrderStatusCancelled
}

// IsFinal 是否为最终状态（filled/cancelled）
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// ParseOrderStatus 解析订单状态，支持数字编码和名称
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		st := OrderStatus(n)
		if !st.Valid() {
			return OrderStatusUnknown, fmt.Errorf("unknown order status code: %d", n)
		}
		return st, nil
	}
	switch strings.ToUpper(raw) {
	case "OPEN":
		return OrderStatusOpen, nil
	case "FILLED":
		return OrderStatusFilled, nil
	case "CANCELLED", "CANCELED":
		return OrderStatusCancelled, nil
	}
	return OrderStatusUnknown, fmt.Errorf("unknown order status: %q", raw)
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = OrderStatus(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("order status must be a number or string: %s", string(b))
	}
	st, err := ParseOrderStatus(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Order 订单领域模型
//
// 价格/数量/总额由服务端计算，客户端只做忠实保存，不做任何运算。
type Order struct {
	ID        string          `json:"id"`
	Symbol    Symbol          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsOpen 检查订单是否开放中
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// IsFinalStatus 检查订单是否为最终状态
func (o *Order) IsFinalStatus() bool {
	return o.Status.IsFinal()
}

// PlaceOrderRequest 下单请求体
type PlaceOrderRequest struct {
	Symbol Symbol          `json:"symbol"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// CloneOrders 复制订单切片（值拷贝），避免调用方修改缓存内部状态
func CloneOrders(in []Order) []Order {
	if in == nil {
		return nil
	}
	out := make([]Order, len(in))
	copy(out, in)
	return out
}

// Package venue abstracts the trading platforms the gateway submits
// orders to. Concrete adapters register into a name-keyed registry and
// are dispatched through the Adapter interface.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// OrderRequest is the venue-neutral order handed to an adapter. The ID
// is the server-minted order id and doubles as the client order id on
// venues that support one.
type OrderRequest struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      types.Side      `json:"side"`
	Type      types.OrderType `json:"type"`
	Quantity  float64         `json:"quantity"`
	Price     float64         `json:"price,omitempty"`
	StopPrice float64         `json:"stop_price,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderResult is what an adapter reports back after placing an order.
type OrderResult struct {
	OrderID        string
	Status         types.OrderStatus
	FilledQuantity float64
	AveragePrice   float64
	Commission     float64
	FilledAt       *time.Time
	PartialFills   []types.PartialFill
}

// TradingHours describes one open window of a venue.
type TradingHours struct {
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
	Timezone  string `json:"timezone"`
}

// ExchangeInfo carries a venue's trading rules for one symbol.
type ExchangeInfo struct {
	Name                string         `json:"name"`
	TickSize            float64        `json:"tick_size"`
	LotSize             float64        `json:"lot_size"`
	MinOrderSize        float64        `json:"min_order_size"`
	MaxOrderSize        float64        `json:"max_order_size"`
	MinPrice            float64        `json:"min_price"`
	MaxPrice            float64        `json:"max_price"`
	TradingHours        []TradingHours `json:"trading_hours"`
	SupportedOrderTypes []string       `json:"supported_order_types"`
}

// Position is an open position reported by a venue account.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarginUsed    float64 `json:"margin_used"`
}

// AccountInfo is a balance/position snapshot of the venue account.
type AccountInfo struct {
	AccountID        string     `json:"account_id"`
	TotalBalance     float64    `json:"total_balance"`
	AvailableBalance float64    `json:"available_balance"`
	MarginUsed       float64    `json:"margin_used"`
	MarginAvailable  float64    `json:"margin_available"`
	Positions        []Position `json:"positions"`
}

// Adapter is the contract every venue implementation satisfies. Calls
// are network I/O and honor context cancellation.
type Adapter interface {
	GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfo, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error)
	AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	ValidateOrder(ctx context.Context, req *OrderRequest) error
}

// RoundPrice snaps price to the venue tick size. Decimal arithmetic
// avoids the drift of dividing small float ticks.
func RoundPrice(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	f, _ := p.Div(tick).Round(0).Mul(tick).Float64()
	return f
}

// RoundQuantity floors quantity to the venue lot size.
func RoundQuantity(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	lot := decimal.NewFromFloat(lotSize)
	f, _ := q.Div(lot).Floor().Mul(lot).Float64()
	return f
}

package venue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// MockAdapter simulates a venue for tests and local runs. Knobs select
// failure, latency and partial-fill behavior; PlaceOrder invocations
// are counted so tests can assert retry bounds.
type MockAdapter struct {
	Info             ExchangeInfo
	FailWith         error
	Delay            time.Duration
	PartialFillRatio float64

	placeCalls  atomic.Int64
	cancelCalls atomic.Int64
}

// NewMockAdapter returns a mock that fills every order in full.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		Info: ExchangeInfo{
			Name:         "mock",
			TickSize:     0.01,
			LotSize:      0.001,
			MinOrderSize: 0.001,
			MaxOrderSize: 1000,
			MinPrice:     0.01,
			MaxPrice:     1000000,
			TradingHours: []TradingHours{
				{DayOfWeek: 1, OpenTime: "00:00:00", CloseTime: "23:59:59", Timezone: "UTC"},
			},
			SupportedOrderTypes: []string{
				types.OrderTypeMarket, types.OrderTypeLimit,
				types.OrderTypeStop, types.OrderTypeStopLimit,
			},
		},
	}
}

// WithFailure makes every call except ValidateOrder fail with err.
func (m *MockAdapter) WithFailure(err error) *MockAdapter {
	m.FailWith = err
	return m
}

// WithDelay adds artificial latency to every call except ValidateOrder.
// Calls failing through WithFailure return without the delay.
func (m *MockAdapter) WithDelay(d time.Duration) *MockAdapter {
	m.Delay = d
	return m
}

// WithPartialFills makes PlaceOrder fill only ratio of the quantity.
func (m *MockAdapter) WithPartialFills(ratio float64) *MockAdapter {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	m.PartialFillRatio = ratio
	return m
}

// PlaceCalls reports how many PlaceOrder invocations the mock has seen.
func (m *MockAdapter) PlaceCalls() int {
	return int(m.placeCalls.Load())
}

// CancelCalls reports how many CancelOrder invocations the mock has seen.
func (m *MockAdapter) CancelCalls() int {
	return int(m.cancelCalls.Load())
}

func (m *MockAdapter) sleep(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(m.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return types.NewNetworkError(ctx.Err())
	}
}

func (m *MockAdapter) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfo, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	info := m.Info
	return &info, nil
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m.placeCalls.Add(1)

	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	if err := m.ValidateOrder(ctx, &req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &OrderResult{
		OrderID:        req.ID,
		Status:         types.OrderStatusFilled,
		FilledQuantity: req.Quantity,
		AveragePrice:   req.Price,
		Commission:     req.Quantity * req.Price * 0.001,
		FilledAt:       &now,
	}

	if m.PartialFillRatio > 0 && m.PartialFillRatio < 1 {
		partialQty := req.Quantity * m.PartialFillRatio
		result.Status = types.OrderStatusPartiallyFilled
		result.FilledQuantity = partialQty
		result.Commission = partialQty * req.Price * 0.001
		result.PartialFills = []types.PartialFill{{
			FillID:     uuid.NewString(),
			Quantity:   partialQty,
			Price:      req.Price,
			Timestamp:  now,
			Commission: partialQty * req.Price * 0.001,
		}}
	}

	return result, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, orderID string) error {
	m.cancelCalls.Add(1)

	if m.FailWith != nil {
		return m.FailWith
	}
	return m.sleep(ctx)
}

func (m *MockAdapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	if m.FailWith != nil {
		return "", m.FailWith
	}
	if err := m.sleep(ctx); err != nil {
		return "", err
	}
	return types.OrderStatusFilled, nil
}

func (m *MockAdapter) AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return m.sleep(ctx)
}

func (m *MockAdapter) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	return &AccountInfo{
		AccountID:        "mock_account",
		TotalBalance:     100000,
		AvailableBalance: 90000,
		MarginUsed:       10000,
		MarginAvailable:  90000,
	}, nil
}

func (m *MockAdapter) ValidateOrder(ctx context.Context, req *OrderRequest) error {
	if req.Quantity < m.Info.MinOrderSize {
		return types.NewExecutionError("order size %g below minimum %g", req.Quantity, m.Info.MinOrderSize)
	}
	if req.Quantity > m.Info.MaxOrderSize {
		return types.NewExecutionError("order size %g above maximum %g", req.Quantity, m.Info.MaxOrderSize)
	}
	if req.Price != 0 {
		if req.Price < m.Info.MinPrice {
			return types.NewExecutionError("order price %g below minimum %g", req.Price, m.Info.MinPrice)
		}
		if req.Price > m.Info.MaxPrice {
			return types.NewExecutionError("order price %g above maximum %g", req.Price, m.Info.MaxPrice)
		}
	}
	return nil
}

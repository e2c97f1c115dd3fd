package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/execution-gateway/internal/breaker"
	"github.com/mExOms/execution-gateway/internal/lifecycle"
	"github.com/mExOms/execution-gateway/internal/venue"
	"github.com/mExOms/execution-gateway/pkg/types"
)

func testDecision(decisionID string) *types.OrderDecision {
	tp := 52000.0
	return &types.OrderDecision{
		DecisionID:           decisionID,
		SignalID:             "test_signal",
		Symbol:               "BTCUSD",
		Timestamp:            time.Now().UTC(),
		Direction:            types.DirectionLong,
		OrderType:            types.OrderTypeLimit,
		BaseQuantity:         0.1,
		RiskAdjustedQuantity: 0.1,
		MaxPositionValue:     10000,
		EntryPrice:           50000,
		StopLoss:             49000,
		TakeProfit:           &tp,
		RiskAmount:           100,
		RiskPercentage:       1.0,
		Leverage:             1.0,
		PortfolioValue:       10000,
		AvailableMargin:      5000,
		CurrentExposure:      0.1,
		ConfidenceScore:      0.8,
		ConfluenceScore:      75,
		RiskRewardRatio:      2.0,
		SlippageTolerance:    0.001,
	}
}

func newTestGateway(cfg Config, adapter venue.Adapter) *Gateway {
	g := New(cfg)
	g.RegisterVenue("default", adapter)
	return g
}

func TestPlaceOrderHappyPath(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	result, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.InDelta(t, 0.1, result.FilledQuantity, types.Epsilon)
	assert.InDelta(t, 50000.0, result.AveragePrice, types.Epsilon)
	assert.Equal(t, 0, result.RetryCount)
	assert.Equal(t, 1, g.ActiveOrders())

	ord, ok := g.GetOrder(result.OrderID)
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateFilled, ord.State)
	require.NotEmpty(t, ord.History)
	assert.Equal(t, ord.State, ord.History[len(ord.History)-1].To)
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	decisionID := uuid.NewString()

	first, err := g.PlaceOrder(context.Background(), testDecision(decisionID))
	require.NoError(t, err)

	second, err := g.PlaceOrder(context.Background(), testDecision(decisionID))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.Status, second.Status)
	assert.InDelta(t, first.FilledQuantity, second.FilledQuantity, types.Epsilon)

	// Exactly one external submission and one tracked order.
	assert.Equal(t, 1, mock.PlaceCalls())
	assert.Equal(t, 1, g.ActiveOrders())
}

func TestPlaceOrderConcurrentDuplicates(t *testing.T) {
	mock := venue.NewMockAdapter().WithDelay(20 * time.Millisecond)
	g := newTestGateway(DefaultConfig(), mock)

	decisionID := uuid.NewString()

	var wg sync.WaitGroup
	results := make([]*types.ExecutionResult, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.PlaceOrder(context.Background(), testDecision(decisionID))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].OrderID, results[i].OrderID)
		assert.Equal(t, types.OrderStatusFilled, results[i].Status)
	}
	assert.Equal(t, 1, mock.PlaceCalls())
	assert.Equal(t, 1, g.ActiveOrders())
}

func TestPlaceOrderDistinctDecisions(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	for i := 0; i < 5; i++ {
		_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, mock.PlaceCalls())
	assert.Equal(t, 5, g.ActiveOrders())
}

func TestPlaceOrderInvalidDecisionID(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	decision := testDecision("not-a-uuid")
	_, err := g.PlaceOrder(context.Background(), decision)
	require.Error(t, err)
	assert.Equal(t, types.ErrKindValidation, types.KindOf(err))
	assert.Equal(t, 0, g.ActiveOrders())
}

func TestPlaceOrderRetryExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.BaseRetryDelay = 10 * time.Millisecond
	cfg.MaxRetryDelay = 100 * time.Millisecond

	mock := venue.NewMockAdapter().WithFailure(types.NewExecutionError("timeout"))
	g := newTestGateway(cfg, mock)

	start := time.Now()
	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	elapsed := time.Since(start)

	require.Error(t, err)
	// Attempts k = 0, 1, 2 — exactly three venue calls.
	assert.Equal(t, 3, mock.PlaceCalls())
	// Backoff lower bounds: 0.75·10ms + 0.75·20ms.
	assert.GreaterOrEqual(t, elapsed, 22*time.Millisecond)

	orders := g.orders.ListByState(lifecycle.StateFailed)
	require.Len(t, orders, 1)
}

func TestPlaceOrderTerminalErrorNoRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3

	mock := venue.NewMockAdapter().WithFailure(types.NewExecutionError("insufficient funds"))
	g := newTestGateway(cfg, mock)

	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.Error(t, err)
	assert.Equal(t, 1, mock.PlaceCalls())
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailureThreshold = 2
	cfg.BreakerRecoveryTimeout = 50 * time.Millisecond

	failing := venue.NewMockAdapter().WithFailure(types.NewExecutionError("timeout"))
	g := newTestGateway(cfg, failing)

	// Two failing submissions open the breaker.
	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.Error(t, err)
	_, err = g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.Error(t, err)
	assert.Equal(t, breaker.Open, g.BreakerState("default"))

	// Admission within the recovery window is denied without touching
	// the venue.
	_, err = g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 2, failing.PlaceCalls())

	time.Sleep(60 * time.Millisecond)

	// Swap in a healthy adapter; the probe closes the breaker.
	g.RegisterVenue("default", venue.NewMockAdapter())
	result, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, breaker.Closed, g.BreakerState("default"))
}

func TestPartialFill(t *testing.T) {
	mock := venue.NewMockAdapter().WithPartialFills(0.5)
	g := newTestGateway(DefaultConfig(), mock)

	decision := testDecision(uuid.NewString())
	decision.BaseQuantity = 1.0
	decision.RiskAdjustedQuantity = 1.0

	result, err := g.PlaceOrder(context.Background(), decision)
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusPartiallyFilled, result.Status)
	assert.InDelta(t, 0.5, result.FilledQuantity, 1e-9)
	require.Len(t, result.PartialFills, 1)

	ord, ok := g.GetOrder(result.OrderID)
	require.True(t, ok)
	assert.Equal(t, lifecycle.StatePartiallyFilled, ord.State)
	require.Len(t, ord.Fills, 1)
	assert.InDelta(t, 0.5, ord.FilledQuantity, 1e-9)
	assert.LessOrEqual(t, ord.FilledQuantity, ord.RequestedQuantity+types.Epsilon)
}

func TestPlaceOrderRoutesToDecisionVenue(t *testing.T) {
	g := New(DefaultConfig())
	other := venue.NewMockAdapter()
	g.RegisterVenue("default", venue.NewMockAdapter().WithFailure(types.NewExecutionError("insufficient funds")))
	g.RegisterVenue("other", other)

	decision := testDecision(uuid.NewString())
	decision.Venue = "other"

	result, err := g.PlaceOrder(context.Background(), decision)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, 1, other.PlaceCalls())
}

func TestOrderTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OrderTimeout = 20 * time.Millisecond

	mock := venue.NewMockAdapter().WithDelay(100 * time.Millisecond)
	g := newTestGateway(cfg, mock)

	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.Error(t, err)

	failed := g.orders.ListByState(lifecycle.StateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "timeout", failed[0].History[len(failed[0].History)-1].Reason)
}

func TestCancelOrder(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	// Acknowledged orders are cancellable.
	_, err := g.orders.Create("ord-1", uuid.NewString(), "BTCUSD", "default", 1.0, 0)
	require.NoError(t, err)
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateValidated, "", nil))
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateSubmitted, "", nil))
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateAcknowledged, "", nil))

	require.NoError(t, g.CancelOrder(context.Background(), "ord-1"))
	assert.Equal(t, 1, mock.CancelCalls())

	ord, _ := g.GetOrder("ord-1")
	assert.Equal(t, lifecycle.StateCancelled, ord.State)
}

func TestCancelOrderNotFound(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	err := g.CancelOrder(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, types.AsError(err).NotFound())
}

func TestCancelOrderTerminalRejected(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	result, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	err = g.CancelOrder(context.Background(), result.OrderID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal state")
	assert.Equal(t, 0, mock.CancelCalls())
}

func TestCancelOrderVenueNotFoundStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3

	mock := venue.NewMockAdapter().WithFailure(types.NewExecutionError("order not found on venue"))
	g := newTestGateway(cfg, mock)

	_, err := g.orders.Create("ord-1", uuid.NewString(), "BTCUSD", "default", 1.0, 0)
	require.NoError(t, err)
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateValidated, "", nil))
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateSubmitted, "", nil))
	require.NoError(t, g.orders.Transition("ord-1", lifecycle.StateAcknowledged, "", nil))

	err = g.CancelOrder(context.Background(), "ord-1")
	require.Error(t, err)
	// A venue-side "not found" is terminal for cancellation.
	assert.Equal(t, 1, mock.CancelCalls())
}

func TestOrderStatusKnownOrder(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	result, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	state, err := g.OrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateFilled, state)
}

func TestOrderStatusFallsBackToVenue(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	// Unknown to the lifecycle; the default venue reports it filled.
	state, err := g.OrderStatus(context.Background(), "venue-only-order")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateFilled, state)
}

func TestReapRemovesDedupEntry(t *testing.T) {
	mock := venue.NewMockAdapter()
	g := newTestGateway(DefaultConfig(), mock)

	decisionID := uuid.NewString()
	_, err := g.PlaceOrder(context.Background(), testDecision(decisionID))
	require.NoError(t, err)
	require.Equal(t, 1, g.ActiveOrders())

	assert.Equal(t, 1, g.Reap(0))
	assert.Equal(t, 0, g.ActiveOrders())

	// The decision id is reusable after the retention window: a new
	// submission goes out to the venue again.
	_, err = g.PlaceOrder(context.Background(), testDecision(decisionID))
	require.NoError(t, err)
	assert.Equal(t, 2, mock.PlaceCalls())
}

func TestReapKeepsRecentTerminal(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	// Inside the retention window nothing is removed.
	assert.Equal(t, 0, g.Reap(24*time.Hour))
	assert.Equal(t, 1, g.ActiveOrders())
}

func TestJanitorLoop(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.StartJanitor(ctx, 10*time.Millisecond, 0)

	assert.Eventually(t, func() bool {
		return g.ActiveOrders() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStats(t *testing.T) {
	g := newTestGateway(DefaultConfig(), venue.NewMockAdapter())

	_, err := g.PlaceOrder(context.Background(), testDecision(uuid.NewString()))
	require.NoError(t, err)

	stats := g.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByState[lifecycle.StateFilled])
}

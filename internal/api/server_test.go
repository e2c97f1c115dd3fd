package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/execution-gateway/internal/gateway"
	"github.com/mExOms/execution-gateway/internal/venue"
	"github.com/mExOms/execution-gateway/pkg/types"
)

func testDecision(decisionID string) types.OrderDecision {
	tp := 52000.0
	return types.OrderDecision{
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

func newTestServer(adapter venue.Adapter) (*httptest.Server, *gateway.Gateway) {
	gw := gateway.New(gateway.DefaultConfig())
	gw.RegisterVenue("default", adapter)
	srv := httptest.NewServer(NewServer(gw).Router())
	return srv, gw
}

func postOrder(t *testing.T, srv *httptest.Server, decision types.OrderDecision) *http.Response {
	t.Helper()
	body, err := json.Marshal(PlaceOrderRequest{OrderDecision: decision})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/orders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.ActiveOrders)
	assert.False(t, health.Timestamp.IsZero())
}

func TestPlaceOrderHappyPath(t *testing.T) {
	srv, gw := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	resp := postOrder(t, srv, testDecision(uuid.NewString()))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var placed PlaceOrderResponse
	decode(t, resp, &placed)
	require.NotNil(t, placed.ExecutionResult)
	assert.Equal(t, types.OrderStatusFilled, placed.ExecutionResult.Status)
	assert.InDelta(t, 0.1, placed.ExecutionResult.FilledQuantity, types.Epsilon)
	assert.Equal(t, 1, gw.ActiveOrders())
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	srv, gw := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	decision := testDecision(uuid.NewString())

	first := postOrder(t, srv, decision)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	var r1 PlaceOrderResponse
	decode(t, first, &r1)

	second := postOrder(t, srv, decision)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	var r2 PlaceOrderResponse
	decode(t, second, &r2)

	assert.Equal(t, r1.ExecutionResult.OrderID, r2.ExecutionResult.OrderID)
	assert.Equal(t, 1, gw.ActiveOrders())
}

func TestPlaceOrderValidationError(t *testing.T) {
	srv, gw := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	decision := testDecision(uuid.NewString())
	decision.RiskAdjustedQuantity = -1.0

	resp := postOrder(t, srv, decision)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)

	// No lifecycle is created for a rejected payload.
	assert.Equal(t, 0, gw.ActiveOrders())
}

func TestPlaceOrderMalformedBody(t *testing.T) {
	srv, _ := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/orders", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "SERIALIZATION_ERROR", errResp.Code)
}

func TestPlaceOrderExecutionError(t *testing.T) {
	srv, _ := newTestServer(venue.NewMockAdapter().WithFailure(types.NewExecutionError("insufficient funds")))
	defer srv.Close()

	resp := postOrder(t, srv, testDecision(uuid.NewString()))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var errResp ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "EXECUTION_ERROR", errResp.Code)
}

func TestOrderStatusEndpoints(t *testing.T) {
	srv, _ := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	resp := postOrder(t, srv, testDecision(uuid.NewString()))
	var placed PlaceOrderResponse
	decode(t, resp, &placed)
	orderID := placed.ExecutionResult.OrderID

	for _, path := range []string{
		fmt.Sprintf("/v1/orders/%s", orderID),
		fmt.Sprintf("/v1/orders/%s/status", orderID),
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var status OrderStatusResponse
		decode(t, resp, &status)
		assert.Equal(t, orderID, status.OrderID)
		assert.Equal(t, "filled", status.Status)
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	failing := venue.NewMockAdapter().WithFailure(types.NewExecutionError("status lookup failed"))
	srv, _ := newTestServer(failing)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/orders/ghost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "ORDER_NOT_FOUND", errResp.Code)
}

func TestCancelOrderTerminal(t *testing.T) {
	srv, _ := newTestServer(venue.NewMockAdapter())
	defer srv.Close()

	resp := postOrder(t, srv, testDecision(uuid.NewString()))
	var placed PlaceOrderResponse
	decode(t, resp, &placed)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/orders/"+placed.ExecutionResult.OrderID, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, del.StatusCode)

	var errResp ErrorResponse
	decode(t, del, &errResp)
	assert.Equal(t, "CANCELLATION_ERROR", errResp.Code)
}

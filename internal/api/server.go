// Package api is the thin HTTP/JSON control surface over the
// execution gateway.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/internal/gateway"
	"github.com/mExOms/execution-gateway/pkg/types"
)

// PlaceOrderRequest is the POST /v1/orders body.
type PlaceOrderRequest struct {
	OrderDecision types.OrderDecision `json:"order_decision"`
}

// PlaceOrderResponse wraps a completed execution result.
type PlaceOrderResponse struct {
	ExecutionResult *types.ExecutionResult `json:"execution_result"`
}

// OrderStatusResponse reports an order's lifecycle state.
type OrderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// CancelOrderResponse confirms a cancellation.
type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status       string    `json:"status"`
	ActiveOrders int       `json:"active_orders"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorResponse is the uniform error envelope: a human message plus a
// stable machine code.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server exposes the control API.
type Server struct {
	gateway *gateway.Gateway
	logger  *logrus.Entry
}

func NewServer(gw *gateway.Gateway) *Server {
	return &Server{
		gateway: gw,
		logger:  logrus.WithField("component", "api"),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/orders", s.placeOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", s.orderStatus).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}/status", s.orderStatus).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.cancelOrder).Methods(http.MethodDelete)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		ActiveOrders: s.gateway.ActiveOrders(),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewSerializationError(err))
		return
	}

	decision := req.OrderDecision
	if err := decision.Validate(); err != nil {
		s.logger.Warnf("order validation failed: %v", err)
		s.writeError(w, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"decision_id": decision.DecisionID,
		"symbol":      decision.Symbol,
	}).Info("received place order request")

	result, err := s.gateway.PlaceOrder(r.Context(), &decision)
	if err != nil {
		s.logger.Errorf("failed to place order: %v", err)
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PlaceOrderResponse{ExecutionResult: result})
}

func (s *Server) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	state, err := s.gateway.OrderStatus(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "ORDER_NOT_FOUND",
		})
		return
	}

	writeJSON(w, http.StatusOK, OrderStatusResponse{OrderID: orderID, Status: string(state)})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	if err := s.gateway.CancelOrder(r.Context(), orderID); err != nil {
		s.logger.Errorf("failed to cancel order %s: %v", orderID, err)
		e := types.AsError(err)
		if e.NotFound() {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: e.Error(), Code: "ORDER_NOT_FOUND"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: e.Error(), Code: "CANCELLATION_ERROR"})
		return
	}

	writeJSON(w, http.StatusOK, CancelOrderResponse{OrderID: orderID, Cancelled: true})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := types.AsError(err)
	writeJSON(w, e.HTTPStatus(), ErrorResponse{Error: e.Error(), Code: e.Code()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

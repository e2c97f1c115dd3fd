package types

import (
	"time"

	"github.com/google/uuid"
)

// PartialFill is one execution event reported by a venue. Fills are
// immutable once recorded; duplicates are detected by FillID.
type PartialFill struct {
	FillID     string    `json:"fill_id"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
	Commission float64   `json:"commission"`
}

// ExecutionResult is the outcome of one order decision, returned to the
// caller and replayed verbatim for duplicate submissions.
type ExecutionResult struct {
	ExecutionID string `json:"execution_id"`
	DecisionID  string `json:"decision_id"`
	OrderID     string `json:"order_id"`

	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity"`
	AveragePrice   float64     `json:"average_price,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`

	Commission float64 `json:"commission"`
	Slippage   float64 `json:"slippage,omitempty"`

	ExecutionTimeMs int64         `json:"execution_time_ms"`
	PartialFills    []PartialFill `json:"partial_fills,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// NewExecutionResult creates a pending result bound to a decision and
// its server-minted order id.
func NewExecutionResult(decisionID, orderID string) *ExecutionResult {
	return &ExecutionResult{
		ExecutionID: uuid.NewString(),
		DecisionID:  decisionID,
		OrderID:     orderID,
		Status:      OrderStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

// FullyFilled reports whether the order completed in full.
func (r *ExecutionResult) FullyFilled() bool {
	return r.Status == OrderStatusFilled
}

// FillPercentage is the filled share of the original quantity.
func (r *ExecutionResult) FillPercentage(originalQty float64) float64 {
	if originalQty <= 0 {
		return 0
	}
	return r.FilledQuantity / originalQty * 100
}

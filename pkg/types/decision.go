package types

import (
	"math"
	"time"
)

// OrderDecision is the input the strategy layer hands to the gateway.
// Risk and context fields are carried through untouched; the gateway
// only re-checks structural invariants before submission.
type OrderDecision struct {
	DecisionID string    `json:"decision_id"`
	SignalID   string    `json:"signal_id"`
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`

	Direction Direction `json:"direction"`
	OrderType OrderType `json:"order_type"`

	// Position sizing
	BaseQuantity         float64 `json:"base_quantity"`
	RiskAdjustedQuantity float64 `json:"risk_adjusted_quantity"`
	MaxPositionValue     float64 `json:"max_position_value"`

	// Price levels
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	// Risk management
	RiskAmount     float64 `json:"risk_amount"`
	RiskPercentage float64 `json:"risk_percentage"`
	Leverage       float64 `json:"leverage"`

	// Portfolio context
	PortfolioValue  float64 `json:"portfolio_value"`
	AvailableMargin float64 `json:"available_margin"`
	CurrentExposure float64 `json:"current_exposure"`

	// Decision factors
	ConfidenceScore float64 `json:"confidence_score"`
	ConfluenceScore float64 `json:"confluence_score"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`

	// Execution parameters
	SlippageTolerance     float64 `json:"slippage_tolerance"`
	MaxExecutionTime      int     `json:"max_execution_time"`
	PartialFillAcceptable bool    `json:"partial_fill_acceptable"`

	// Target venue; empty means the configured default.
	Venue string `json:"venue,omitempty"`

	// Decision reasoning, opaque to the gateway.
	DecisionReason    string                 `json:"decision_reason,omitempty"`
	RiskFactors       []string               `json:"risk_factors,omitempty"`
	SupportingFactors []string               `json:"supporting_factors,omitempty"`
	MarketConditions  map[string]interface{} `json:"market_conditions,omitempty"`
}

// Validate checks the structural invariants of a decision. Domain risk
// policy runs upstream; everything here is a malformed-payload check
// and maps to a validation error on the API.
func (d *OrderDecision) Validate() error {
	if d.DecisionID == "" {
		return NewValidationError("decision id is required")
	}
	if d.Symbol == "" {
		return NewValidationError("symbol is required")
	}
	if d.Direction != DirectionLong && d.Direction != DirectionShort {
		return NewValidationError("direction must be long or short")
	}
	switch d.OrderType {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
	default:
		return NewValidationError("unsupported order type: %s", d.OrderType)
	}

	if d.BaseQuantity <= 0 {
		return NewValidationError("base quantity must be positive")
	}
	if d.RiskAdjustedQuantity <= 0 {
		return NewValidationError("risk adjusted quantity must be positive")
	}
	if d.MaxPositionValue <= 0 {
		return NewValidationError("max position value must be positive")
	}
	if d.EntryPrice <= 0 {
		return NewValidationError("entry price must be positive")
	}
	if d.StopLoss <= 0 {
		return NewValidationError("stop loss must be positive")
	}
	if d.TakeProfit != nil && *d.TakeProfit <= 0 {
		return NewValidationError("take profit must be positive")
	}
	if d.RiskAmount <= 0 {
		return NewValidationError("risk amount must be positive")
	}
	if d.PortfolioValue <= 0 {
		return NewValidationError("portfolio value must be positive")
	}

	if d.RiskPercentage < 0 || d.RiskPercentage > 10 {
		return NewValidationError("risk percentage must be between 0 and 10")
	}
	if d.Leverage <= 0 || d.Leverage > 10 {
		return NewValidationError("leverage must be between 0 (exclusive) and 10")
	}
	if d.CurrentExposure < 0 || d.CurrentExposure > 1 {
		return NewValidationError("current exposure must be between 0 and 1")
	}
	if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
		return NewValidationError("confidence score must be between 0 and 1")
	}
	if d.ConfluenceScore < 0 || d.ConfluenceScore > 100 {
		return NewValidationError("confluence score must be between 0 and 100")
	}
	if d.RiskRewardRatio <= 0 {
		return NewValidationError("risk reward ratio must be positive")
	}
	if d.SlippageTolerance < 0 || d.SlippageTolerance > 0.1 {
		return NewValidationError("slippage tolerance must be between 0 and 0.1")
	}

	if d.RiskAdjustedQuantity > d.BaseQuantity*2 {
		return NewValidationError("risk adjusted quantity cannot exceed 2x base quantity")
	}
	if d.RiskAdjustedQuantity < d.BaseQuantity*0.1 {
		return NewValidationError("risk adjusted quantity cannot be less than 10%% of base")
	}

	if d.RiskPercentage+d.CurrentExposure*100 > 20 {
		return NewValidationError("total portfolio risk would exceed 20%%")
	}
	if maxRisk := 5.0 / d.Leverage; d.RiskPercentage > maxRisk {
		return NewValidationError("risk percentage too high for leverage level")
	}

	// Stop loss must sit on the protective side of entry and within
	// 20% of it.
	switch d.Direction {
	case DirectionLong:
		if d.StopLoss >= d.EntryPrice {
			return NewValidationError("stop loss must be below entry price for long positions")
		}
	case DirectionShort:
		if d.StopLoss <= d.EntryPrice {
			return NewValidationError("stop loss must be above entry price for short positions")
		}
	}
	if math.Abs(d.StopLoss-d.EntryPrice)/d.EntryPrice > 0.2 {
		return NewValidationError("stop loss too far from entry (>20%%)")
	}

	if tp := d.TakeProfit; tp != nil {
		if d.Direction == DirectionLong && *tp <= d.EntryPrice {
			return NewValidationError("take profit must be above entry price for long positions")
		}
		if d.Direction == DirectionShort && *tp >= d.EntryPrice {
			return NewValidationError("take profit must be below entry price for short positions")
		}
	}

	return nil
}

// PositionValue is the notional value of the decision at entry,
// including leverage.
func (d *OrderDecision) PositionValue() float64 {
	return d.RiskAdjustedQuantity * d.EntryPrice * d.Leverage
}

// MarginRequired is the margin the position consumes at entry.
func (d *OrderDecision) MarginRequired() float64 {
	return d.PositionValue() / d.Leverage
}

// Package lifecycle tracks every submitted order from creation through
// terminal completion, including partial fills and expiry.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// State of an order lifecycle.
type State string

const (
	StateCreated         State = "created"
	StateValidated       State = "validated"
	StateSubmitted       State = "submitted"
	StateAcknowledged    State = "acknowledged"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateRejected        State = "rejected"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transition is legal from s.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed:
		return true
	}
	return false
}

// legalTransitions is the full transition table. Terminal states are
// absent: they transition nowhere.
var legalTransitions = map[State][]State{
	StateCreated:         {StateValidated, StateRejected, StateFailed},
	StateValidated:       {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted:       {StateAcknowledged, StateRejected, StateFailed, StateExpired},
	StateAcknowledged:    {StatePartiallyFilled, StateFilled, StateCancelled, StateRejected, StateFailed, StateExpired},
	StatePartiallyFilled: {StateFilled, StateCancelled, StateFailed, StateExpired},
}

func transitionAllowed(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FromOrderStatus projects a venue-reported order status onto the
// lifecycle state space.
func FromOrderStatus(status types.OrderStatus) State {
	switch status {
	case types.OrderStatusPartiallyFilled:
		return StatePartiallyFilled
	case types.OrderStatusFilled:
		return StateFilled
	case types.OrderStatusCancelled:
		return StateCancelled
	case types.OrderStatusRejected:
		return StateRejected
	case types.OrderStatusExpired:
		return StateExpired
	default:
		return StateSubmitted
	}
}

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Transition is one entry of the append-only state history.
type Transition struct {
	From      State                  `json:"from"`
	To        State                  `json:"to"`
	Timestamp time.Time              `json:"timestamp"`
	Reason    string                 `json:"reason"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Order is the lifecycle record of one submitted order. Snapshots
// returned by the manager are copies; mutation happens only through
// the manager under its lock.
type Order struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
	Symbol   string `json:"symbol"`
	Venue    string `json:"venue"`

	State   State        `json:"state"`
	History []Transition `json:"state_history"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	RequestedQuantity float64 `json:"requested_quantity"`
	FilledQuantity    float64 `json:"filled_quantity"`
	AveragePrice      float64 `json:"average_price,omitempty"`
	Commission        float64 `json:"commission"`

	Fills []types.PartialFill `json:"partial_fills,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (o *Order) clone() *Order {
	c := *o
	c.History = append([]Transition(nil), o.History...)
	c.Fills = append([]types.PartialFill(nil), o.Fills...)
	if o.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Stats is a per-state census of the table.
type Stats struct {
	Total   int           `json:"total"`
	ByState map[State]int `json:"by_state"`
}

// Reaped identifies one removed lifecycle so the caller can purge the
// matching dedup entry.
type Reaped struct {
	OrderID  string
	ClientID string
}

// Manager owns the lifecycle table. One RWMutex guards the whole map;
// transitions hold the write lock for their full duration so readers
// never observe a partial transition.
type Manager struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	byClient map[string]string // client id -> order id
	logger   *logrus.Entry
}

func NewManager() *Manager {
	return &Manager{
		orders:   make(map[string]*Order),
		byClient: make(map[string]string),
		logger:   logrus.WithField("component", "lifecycle"),
	}
}

// Create registers a new lifecycle in state Created, indexed by both
// order id and client id.
func (m *Manager) Create(orderID, clientID, symbol, venueName string, requestedQty float64, expiresIn time.Duration) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[orderID]; exists {
		return nil, fmt.Errorf("order %s already exists", orderID)
	}
	if existing, exists := m.byClient[clientID]; exists {
		return nil, fmt.Errorf("client id %s already bound to order %s", clientID, existing)
	}

	now := time.Now().UTC()
	order := &Order{
		OrderID:           orderID,
		ClientID:          clientID,
		Symbol:            symbol,
		Venue:             venueName,
		State:             StateCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
		RequestedQuantity: requestedQty,
	}
	if expiresIn > 0 {
		expiresAt := now.Add(expiresIn)
		order.ExpiresAt = &expiresAt
	}

	m.orders[orderID] = order
	m.byClient[clientID] = orderID

	return order.clone(), nil
}

// Transition moves an order to a new state, appending to its history.
// Illegal moves return ErrInvalidTransition and leave the order
// untouched.
func (m *Manager) Transition(orderID string, to State, reason string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	if !transitionAllowed(order.State, to) {
		return fmt.Errorf("%w from %s to %s for order %s", ErrInvalidTransition, order.State, to, orderID)
	}

	now := time.Now().UTC()
	order.History = append(order.History, Transition{
		From:      order.State,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Metadata:  metadata,
	})
	order.State = to
	order.UpdatedAt = now

	m.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     order.History[len(order.History)-1].From,
		"to":       to,
		"reason":   reason,
	}).Debug("order state transition")

	return nil
}

// RecordFills appends venue-reported fills and recomputes the
// cumulative totals. The average price is always recomputed from the
// full fill list rather than incrementally, so repeated merges cannot
// drift. Fills with an already-recorded id are dropped silently; fills
// that would push the total past the requested quantity are dropped
// with a warning.
func (m *Manager) RecordFills(orderID string, fills []types.PartialFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	seen := make(map[string]bool, len(order.Fills))
	for _, f := range order.Fills {
		seen[f.FillID] = true
	}

	appended := false
	for _, fill := range fills {
		if fill.Quantity <= 0 || fill.Price <= 0 {
			continue
		}
		if seen[fill.FillID] {
			continue
		}
		if order.FilledQuantity+fill.Quantity > order.RequestedQuantity+types.Epsilon {
			m.logger.WithFields(logrus.Fields{
				"order_id": orderID,
				"fill_id":  fill.FillID,
			}).Warn("fill exceeds requested quantity, dropped")
			continue
		}

		order.Fills = append(order.Fills, fill)
		order.FilledQuantity += fill.Quantity
		order.Commission += fill.Commission
		seen[fill.FillID] = true
		appended = true
	}

	if appended {
		var qty, notional float64
		for _, f := range order.Fills {
			qty += f.Quantity
			notional += f.Quantity * f.Price
		}
		order.FilledQuantity = qty
		if qty > 0 {
			order.AveragePrice = notional / qty
		}
		order.UpdatedAt = time.Now().UTC()
	}

	return nil
}

// Get returns a snapshot of the order.
func (m *Manager) Get(orderID string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	return order.clone(), true
}

// GetByClientID returns a snapshot of the order bound to a client id.
func (m *Manager) GetByClientID(clientID string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orderID, ok := m.byClient[clientID]
	if !ok {
		return nil, false
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	return order.clone(), true
}

// Exists reports whether a client id already has an order.
func (m *Manager) Exists(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byClient[clientID]
	return ok
}

// ListByState snapshots every order currently in state s.
func (m *Manager) ListByState(s State) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, order := range m.orders {
		if order.State == s {
			out = append(out, order.clone())
		}
	}
	return out
}

// ListExpired snapshots every non-terminal order whose expiry has
// passed. These need operational follow-up; the janitor never touches
// them.
func (m *Manager) ListExpired() []*Order {
	now := time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, order := range m.orders {
		if order.ExpiresAt != nil && order.ExpiresAt.Before(now) && !order.State.Terminal() {
			out = append(out, order.clone())
		}
	}
	return out
}

// UpdateMetadata sets one metadata key on the order.
func (m *Manager) UpdateMetadata(orderID, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	if order.Metadata == nil {
		order.Metadata = make(map[string]interface{})
	}
	order.Metadata[key] = value
	order.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of tracked lifecycles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Stats returns a per-state census.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.orders), ByState: make(map[State]int)}
	for _, order := range m.orders {
		stats.ByState[order.State]++
	}
	return stats
}

// ReapTerminal removes terminal lifecycles whose last update is older
// than maxAge and returns their identifiers so the caller can drop the
// matching dedup entries. Non-terminal lifecycles are never reaped.
func (m *Manager) ReapTerminal(maxAge time.Duration) []Reaped {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []Reaped
	for orderID, order := range m.orders {
		if !order.State.Terminal() || order.UpdatedAt.After(cutoff) {
			continue
		}
		reaped = append(reaped, Reaped{OrderID: orderID, ClientID: order.ClientID})
		delete(m.orders, orderID)
		delete(m.byClient, order.ClientID)
	}
	return reaped
}

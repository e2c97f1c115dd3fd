// Package events publishes execution outcomes on NATS so downstream
// consumers (accounting, monitoring, strategy feedback) can follow
// order flow without polling the gateway.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// Subject layout: orders.<event>.<venue>.<symbol>
const (
	EventSubmitted = "submitted"
	EventFilled    = "filled"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Subject builds the subject for one execution event.
func Subject(event, venueName, symbol string) string {
	if venueName == "" {
		venueName = "*"
	}
	if symbol == "" {
		symbol = "*"
	}
	return fmt.Sprintf("orders.%s.%s.%s", event, venueName, symbol)
}

// ExecutionEvent is the wire message published per outcome.
type ExecutionEvent struct {
	Event          string            `json:"event"`
	Venue          string            `json:"venue"`
	Symbol         string            `json:"symbol"`
	OrderID        string            `json:"order_id"`
	DecisionID     string            `json:"decision_id"`
	Status         types.OrderStatus `json:"status,omitempty"`
	FilledQuantity float64           `json:"filled_quantity,omitempty"`
	AveragePrice   float64           `json:"average_price,omitempty"`
	Commission     float64           `json:"commission,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Publisher emits execution events. A nil Publisher is valid and drops
// every event, so the gateway runs unchanged without a broker.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// Connect dials the broker. Reconnects are unbounded; a dropped broker
// must not take the gateway down with it.
func Connect(url string) (*Publisher, error) {
	logger := logrus.WithField("component", "events")

	conn, err := nats.Connect(url,
		nats.Name("execution-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Errorf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{conn: conn, logger: logger}, nil
}

// PublishResult emits the event matching a completed execution result.
func (p *Publisher) PublishResult(venueName string, symbol string, result *types.ExecutionResult) {
	if p == nil || result == nil {
		return
	}

	event := EventSubmitted
	switch result.Status {
	case types.OrderStatusFilled, types.OrderStatusPartiallyFilled:
		event = EventFilled
	case types.OrderStatusCancelled:
		event = EventCancelled
	case types.OrderStatusRejected:
		event = EventFailed
	}

	p.publish(Subject(event, venueName, symbol), ExecutionEvent{
		Event:          event,
		Venue:          venueName,
		Symbol:         symbol,
		OrderID:        result.OrderID,
		DecisionID:     result.DecisionID,
		Status:         result.Status,
		FilledQuantity: result.FilledQuantity,
		AveragePrice:   result.AveragePrice,
		Commission:     result.Commission,
		Timestamp:      time.Now().UTC(),
	})
}

// PublishFailure emits a failure event for a decision that produced no
// successful execution.
func (p *Publisher) PublishFailure(venueName, symbol, orderID, decisionID string, cause error) {
	if p == nil {
		return
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	p.publish(Subject(EventFailed, venueName, symbol), ExecutionEvent{
		Event:      EventFailed,
		Venue:      venueName,
		Symbol:     symbol,
		OrderID:    orderID,
		DecisionID: decisionID,
		Error:      msg,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, event ExecutionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Errorf("failed to encode event: %v", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Errorf("failed to publish %s: %v", subject, err)
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

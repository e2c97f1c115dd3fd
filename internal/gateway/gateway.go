// Package gateway orchestrates order execution: idempotent admission,
// circuit breaking, retries, and lifecycle bookkeeping around the
// venue adapters.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/internal/breaker"
	"github.com/mExOms/execution-gateway/internal/lifecycle"
	"github.com/mExOms/execution-gateway/internal/venue"
	"github.com/mExOms/execution-gateway/pkg/events"
	"github.com/mExOms/execution-gateway/pkg/retry"
	"github.com/mExOms/execution-gateway/pkg/types"
)

// Config controls the execution pipeline.
type Config struct {
	MaxRetries              int
	BaseRetryDelay          time.Duration
	MaxRetryDelay           time.Duration
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	OrderTimeout            time.Duration
	MaxConcurrentOrders     int
	EnablePartialFills      bool
	DefaultVenue            string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		BaseRetryDelay:          100 * time.Millisecond,
		MaxRetryDelay:           5 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  60 * time.Second,
		OrderTimeout:            30 * time.Second,
		MaxConcurrentOrders:     100,
		EnablePartialFills:      true,
		DefaultVenue:            "default",
	}
}

// RouteFunc resolves the target venue for a decision.
type RouteFunc func(*types.OrderDecision) string

// inflight is the single-flight record for one client decision id. The
// first caller runs the pipeline and closes done; duplicates wait on it
// and observe the same outcome.
type inflight struct {
	clientID string
	orderID  string
	done     chan struct{}
	result   *types.ExecutionResult
	err      error
}

// Gateway is the execution control plane.
type Gateway struct {
	cfg    Config
	orders *lifecycle.Manager
	venues *venue.Registry
	policy retry.Policy
	route  RouteFunc
	events *events.Publisher
	logger *logrus.Entry

	mu    sync.Mutex
	dedup map[string]*inflight

	breakerMu sync.RWMutex
	breakers  map[string]*breaker.Breaker

	sem chan struct{}
}

// New creates a gateway with no venues registered.
func New(cfg Config) *Gateway {
	if cfg.DefaultVenue == "" {
		cfg.DefaultVenue = "default"
	}
	if cfg.MaxConcurrentOrders <= 0 {
		cfg.MaxConcurrentOrders = 1
	}

	g := &Gateway{
		cfg:    cfg,
		orders: lifecycle.NewManager(),
		venues: venue.NewRegistry(),
		policy: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseRetryDelay,
			MaxDelay:   cfg.MaxRetryDelay,
		},
		logger:   logrus.WithField("component", "gateway"),
		dedup:    make(map[string]*inflight),
		breakers: make(map[string]*breaker.Breaker),
		sem:      make(chan struct{}, cfg.MaxConcurrentOrders),
	}
	g.route = func(d *types.OrderDecision) string {
		if d.Venue != "" {
			return d.Venue
		}
		return g.cfg.DefaultVenue
	}
	return g
}

// SetRouter replaces the venue resolution function.
func (g *Gateway) SetRouter(fn RouteFunc) {
	if fn != nil {
		g.route = fn
	}
}

// SetEventPublisher attaches an execution-event publisher.
func (g *Gateway) SetEventPublisher(p *events.Publisher) {
	g.events = p
}

// RegisterVenue binds an adapter to a venue name, replacing any
// previous adapter. The venue's breaker is created on first
// registration and deliberately survives adapter swaps so recovery
// probing continues across operator intervention.
func (g *Gateway) RegisterVenue(name string, adapter venue.Adapter) {
	g.venues.Register(name, adapter)
	g.breakerFor(name)
}

func (g *Gateway) breakerFor(name string) *breaker.Breaker {
	g.breakerMu.RLock()
	b, ok := g.breakers[name]
	g.breakerMu.RUnlock()
	if ok {
		return b
	}

	g.breakerMu.Lock()
	defer g.breakerMu.Unlock()
	if b, ok = g.breakers[name]; ok {
		return b
	}
	b = breaker.New(g.cfg.BreakerFailureThreshold, g.cfg.BreakerRecoveryTimeout)
	g.breakers[name] = b
	return b
}

// BreakerState exposes a venue breaker's mode for health reporting.
func (g *Gateway) BreakerState(name string) breaker.State {
	return g.breakerFor(name).State()
}

// PlaceOrder submits a decision. At most one external submission
// happens per client decision id: the first caller runs the pipeline,
// concurrent and later duplicates observe the first caller's outcome.
func (g *Gateway) PlaceOrder(ctx context.Context, decision *types.OrderDecision) (*types.ExecutionResult, error) {
	if _, err := uuid.Parse(decision.DecisionID); err != nil {
		return nil, types.NewValidationError("invalid decision id: %v", err)
	}
	clientID := decision.DecisionID

	g.mu.Lock()
	if h, ok := g.dedup[clientID]; ok {
		g.mu.Unlock()
		return g.await(ctx, h)
	}
	h := &inflight{clientID: clientID, done: make(chan struct{})}
	g.dedup[clientID] = h
	g.mu.Unlock()

	result, err := g.execute(ctx, decision, h)
	h.result, h.err = result, err
	close(h.done)
	return result, err
}

// await blocks a duplicate caller until the winning submission has
// completed, then replays its outcome.
func (g *Gateway) await(ctx context.Context, h *inflight) (*types.ExecutionResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, types.NewExecutionError("timeout waiting for in-flight submission of decision %s", h.clientID)
	}

	if h.err != nil {
		return nil, h.err
	}
	if h.result != nil {
		return h.result, nil
	}
	return g.replay(h.clientID)
}

// replay reconstructs the execution result from the lifecycle. The
// lifecycle keeps enough state for the reconstruction to be
// deterministic.
func (g *Gateway) replay(clientID string) (*types.ExecutionResult, error) {
	ord, ok := g.orders.GetByClientID(clientID)
	if !ok {
		return nil, types.NewExecutionError("order not found for decision %s", clientID)
	}
	if ord.State == lifecycle.StateFailed {
		reason := "submission failed"
		if n := len(ord.History); n > 0 {
			reason = ord.History[n-1].Reason
		}
		return nil, types.NewExecutionError("%s", reason)
	}

	result := types.NewExecutionResult(clientID, ord.OrderID)
	result.Status = statusForState(ord.State)
	result.FilledQuantity = ord.FilledQuantity
	result.AveragePrice = ord.AveragePrice
	result.Commission = ord.Commission
	result.PartialFills = ord.Fills
	result.SubmittedAt = ord.CreatedAt
	if ord.State == lifecycle.StateFilled && len(ord.Fills) > 0 {
		t := ord.Fills[len(ord.Fills)-1].Timestamp
		result.FilledAt = &t
	}
	return result, nil
}

func statusForState(s lifecycle.State) types.OrderStatus {
	switch s {
	case lifecycle.StateAcknowledged:
		return types.OrderStatusOpen
	case lifecycle.StatePartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case lifecycle.StateFilled:
		return types.OrderStatusFilled
	case lifecycle.StateCancelled:
		return types.OrderStatusCancelled
	case lifecycle.StateRejected:
		return types.OrderStatusRejected
	case lifecycle.StateExpired:
		return types.OrderStatusExpired
	default:
		return types.OrderStatusPending
	}
}

// execute runs the submission pipeline for the winning caller.
func (g *Gateway) execute(ctx context.Context, decision *types.OrderDecision, h *inflight) (*types.ExecutionResult, error) {
	venueName := g.route(decision)
	orderID := uuid.NewString()
	h.orderID = orderID

	expiresIn := time.Duration(decision.MaxExecutionTime) * time.Second
	if _, err := g.orders.Create(orderID, h.clientID, decision.Symbol, venueName, decision.RiskAdjustedQuantity, expiresIn); err != nil {
		return nil, types.NewExecutionError("failed to create order lifecycle: %v", err)
	}
	// Structural validation ran before the pipeline; record it.
	_ = g.orders.Transition(orderID, lifecycle.StateValidated, "structural checks passed", nil)

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		g.failOrder(orderID, "timeout")
		return nil, types.NewExecutionError("order timeout exceeded before submission")
	}
	defer func() { <-g.sem }()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.OrderTimeout)
	defer cancel()

	start := time.Now().UTC()
	bo := g.policy.NewBackOff()
	br := g.breakerFor(venueName)
	log := g.logger.WithFields(logrus.Fields{
		"order_id":    orderID,
		"decision_id": h.clientID,
		"symbol":      decision.Symbol,
		"venue":       venueName,
	})

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, bo.NextBackOff()); err != nil {
				g.failOrder(orderID, "timeout")
				lastErr = types.NewExecutionError("order timeout exceeded after %d attempts", attempt)
				break
			}
		}

		if !br.Allow() {
			g.failOrder(orderID, "breaker open")
			err := types.NewExecutionError("circuit breaker open for venue: %s", venueName)
			g.events.PublishFailure(venueName, decision.Symbol, orderID, h.clientID, err)
			return nil, err
		}

		res, err := g.attempt(ctx, decision, orderID, venueName)
		if err == nil {
			br.RecordSuccess()
			result := g.mergeSuccess(decision, orderID, res, start, attempt)
			g.events.PublishResult(venueName, decision.Symbol, result)
			log.WithFields(logrus.Fields{
				"status":  result.Status,
				"retries": attempt,
			}).Info("order executed")
			return result, nil
		}

		br.RecordFailure()
		lastErr = err
		log.WithField("attempt", attempt).Warnf("submission attempt failed: %v", err)

		if retry.Classify(err) == retry.NoRetry || !g.policy.ShouldRetry(attempt) {
			break
		}
	}

	g.failOrder(orderID, lastErr.Error())
	g.events.PublishFailure(venueName, decision.Symbol, orderID, h.clientID, lastErr)
	return nil, lastErr
}

// attempt performs one venue submission.
func (g *Gateway) attempt(ctx context.Context, decision *types.OrderDecision, orderID, venueName string) (*venue.OrderResult, error) {
	adapter, err := g.venues.Get(venueName)
	if err != nil {
		return nil, err
	}

	if ord, ok := g.orders.Get(orderID); ok && ord.State == lifecycle.StateValidated {
		_ = g.orders.Transition(orderID, lifecycle.StateSubmitted, "submitted to venue", nil)
	}

	req := buildRequest(decision, orderID)
	return adapter.PlaceOrder(ctx, req)
}

// buildRequest translates a decision into the venue-neutral request.
func buildRequest(decision *types.OrderDecision, orderID string) venue.OrderRequest {
	req := venue.OrderRequest{
		ID:        orderID,
		Symbol:    decision.Symbol,
		Side:      types.SideForDirection(decision.Direction),
		Type:      decision.OrderType,
		Quantity:  decision.RiskAdjustedQuantity,
		Price:     decision.EntryPrice,
		Timestamp: time.Now().UTC(),
	}
	if decision.OrderType == types.OrderTypeStop || decision.OrderType == types.OrderTypeStopLimit {
		req.StopPrice = decision.StopLoss
	}
	return req
}

// mergeSuccess folds a venue result into the lifecycle and builds the
// caller-facing execution result from the merged state.
func (g *Gateway) mergeSuccess(decision *types.OrderDecision, orderID string, res *venue.OrderResult, start time.Time, attempt int) *types.ExecutionResult {
	_ = g.orders.Transition(orderID, lifecycle.StateAcknowledged, "venue acknowledged", nil)
	if res.OrderID != "" && res.OrderID != orderID {
		_ = g.orders.UpdateMetadata(orderID, "venue_order_id", res.OrderID)
	}

	fills := res.PartialFills
	if g.cfg.EnablePartialFills && len(fills) > 0 {
		_ = g.orders.RecordFills(orderID, fills)
	} else if res.FilledQuantity > 0 {
		// Venues reporting only aggregates still feed the fill ledger;
		// the deterministic id dedupes the synthetic fill across
		// retries.
		ts := time.Now().UTC()
		if res.FilledAt != nil {
			ts = *res.FilledAt
		}
		_ = g.orders.RecordFills(orderID, []types.PartialFill{{
			FillID:     orderID + "-aggregate",
			Quantity:   res.FilledQuantity,
			Price:      res.AveragePrice,
			Timestamp:  ts,
			Commission: res.Commission,
		}})
	}

	switch res.Status {
	case types.OrderStatusFilled:
		_ = g.orders.Transition(orderID, lifecycle.StateFilled, "filled", nil)
	case types.OrderStatusPartiallyFilled:
		_ = g.orders.Transition(orderID, lifecycle.StatePartiallyFilled, "partially filled", nil)
	case types.OrderStatusCancelled:
		_ = g.orders.Transition(orderID, lifecycle.StateCancelled, "cancelled by venue", nil)
	case types.OrderStatusRejected:
		_ = g.orders.Transition(orderID, lifecycle.StateRejected, "rejected by venue", nil)
	}

	ord, _ := g.orders.Get(orderID)

	result := types.NewExecutionResult(decision.DecisionID, orderID)
	result.Status = res.Status
	result.SubmittedAt = start
	result.FilledAt = res.FilledAt
	result.RetryCount = attempt
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if ord != nil {
		result.FilledQuantity = ord.FilledQuantity
		result.AveragePrice = ord.AveragePrice
		result.Commission = ord.Commission
		result.PartialFills = ord.Fills
	}
	if result.AveragePrice > 0 && decision.EntryPrice > 0 {
		if decision.Direction == types.DirectionShort {
			result.Slippage = (decision.EntryPrice - result.AveragePrice) / decision.EntryPrice
		} else {
			result.Slippage = (result.AveragePrice - decision.EntryPrice) / decision.EntryPrice
		}
	}
	return result
}

// failOrder drives the lifecycle to Failed unless it already reached a
// terminal state.
func (g *Gateway) failOrder(orderID, reason string) {
	ord, ok := g.orders.Get(orderID)
	if !ok || ord.State.Terminal() {
		return
	}
	if err := g.orders.Transition(orderID, lifecycle.StateFailed, reason, nil); err != nil {
		g.logger.WithField("order_id", orderID).Errorf("failed to mark order failed: %v", err)
	}
}

// CancelOrder cancels a tracked order on its venue. Venue errors retry
// under the same policy as submission; terminal vocabulary (including
// "not found") stops immediately.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	ord, ok := g.orders.Get(orderID)
	if !ok {
		return types.NewExecutionError("order not found: %s", orderID)
	}
	if ord.State.Terminal() {
		return types.NewExecutionError("order %s already in terminal state %s", orderID, ord.State)
	}

	br := g.breakerFor(ord.Venue)
	bo := g.policy.NewBackOff()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, bo.NextBackOff()); err != nil {
				return types.NewExecutionError("cancellation timeout for order %s", orderID)
			}
		}

		if !br.Allow() {
			return types.NewExecutionError("circuit breaker open for venue: %s", ord.Venue)
		}

		adapter, err := g.venues.Get(ord.Venue)
		if err != nil {
			return err
		}

		if err := adapter.CancelOrder(ctx, orderID); err != nil {
			br.RecordFailure()
			lastErr = err
			// A venue that no longer knows the order will not learn it
			// from another attempt.
			if types.AsError(err).NotFound() {
				return lastErr
			}
			if retry.Classify(err) == retry.NoRetry || !g.policy.ShouldRetry(attempt) {
				return lastErr
			}
			continue
		}

		br.RecordSuccess()
		if terr := g.orders.Transition(orderID, lifecycle.StateCancelled, "cancelled by request", nil); terr != nil {
			return types.NewExecutionError("venue cancelled order %s but state update failed: %v", orderID, terr)
		}
		if cancelled, ok := g.orders.Get(orderID); ok {
			result := types.NewExecutionResult(cancelled.ClientID, orderID)
			result.Status = types.OrderStatusCancelled
			g.events.PublishResult(ord.Venue, ord.Symbol, result)
		}
		return nil
	}
}

// OrderStatus resolves an order's state. The lifecycle is the source of
// truth for known orders; unknown ids fall through to the default
// venue.
func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (lifecycle.State, error) {
	if ord, ok := g.orders.Get(orderID); ok {
		return ord.State, nil
	}

	adapter, err := g.venues.Get(g.cfg.DefaultVenue)
	if err != nil {
		return "", types.NewExecutionError("order not found: %s", orderID)
	}
	status, err := adapter.GetOrderStatus(ctx, orderID)
	if err != nil {
		return "", types.NewExecutionError("order not found: %s", orderID)
	}
	return lifecycle.FromOrderStatus(status), nil
}

// GetOrder returns the lifecycle snapshot for an order.
func (g *Gateway) GetOrder(orderID string) (*lifecycle.Order, bool) {
	return g.orders.Get(orderID)
}

// ActiveOrders is the number of tracked lifecycles.
func (g *Gateway) ActiveOrders() int {
	return g.orders.Count()
}

// Stats returns the lifecycle census.
func (g *Gateway) Stats() lifecycle.Stats {
	return g.orders.Stats()
}

// ListExpired surfaces non-terminal orders past their expiry for
// operational follow-up.
func (g *Gateway) ListExpired() []*lifecycle.Order {
	return g.orders.ListExpired()
}

// Reap removes terminal lifecycles older than maxAge together with
// their dedup entries, and returns how many were removed.
func (g *Gateway) Reap(maxAge time.Duration) int {
	reaped := g.orders.ReapTerminal(maxAge)
	if len(reaped) == 0 {
		return 0
	}

	g.mu.Lock()
	for _, r := range reaped {
		delete(g.dedup, r.ClientID)
	}
	g.mu.Unlock()
	return len(reaped)
}

// StartJanitor runs the periodic terminal-order sweep until ctx is
// cancelled.
func (g *Gateway) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.Reap(maxAge); n > 0 {
					g.logger.Infof("janitor removed %d completed orders", n)
				}
			}
		}
	}()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

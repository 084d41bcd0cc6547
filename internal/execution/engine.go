// Package execution implements the Execution Engine: the orchestrator
// of the request path validate -> risk -> rate-limit -> adapter
// dispatch, plus fill ingestion and the per-market position ledger.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/ratelimit"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/venue"
)

// Config toggles the engine's pipeline stages.
type Config struct {
	EnableRiskChecks bool
	EnableValidation bool
	EnableMetrics    bool
	AdapterTimeout   time.Duration
}

// DefaultConfig returns the engine's default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		EnableRiskChecks: true,
		EnableValidation: true,
		EnableMetrics:    true,
		AdapterTimeout:   30 * time.Second,
	}
}

// Engine holds the adapter registry, rate-limiter registry, risk
// engine, tracker, validator, and the position ledger. Lock ordering
// for deadlock freedom: risk engine -> positions ledger -> order
// tracker -> adapter. No operation holds two of these beyond its own
// step.
type Engine struct {
	logger *zap.Logger
	config Config

	adapters  map[ids.VenueID]venue.Adapter
	adaptersMu sync.RWMutex

	limiters  *ratelimit.Registry
	riskEngine *risk.Engine
	tracker   *oms.Tracker
	validator *oms.Validator

	ledgerMu sync.RWMutex
	ledger   map[ids.MarketID]decimal.Decimal
}

// New constructs an Execution Engine. riskEngine may be nil to disable
// risk checks regardless of config.
func New(
	logger *zap.Logger,
	config Config,
	tracker *oms.Tracker,
	validator *oms.Validator,
	riskEngine *risk.Engine,
	limiters *ratelimit.Registry,
) *Engine {
	return &Engine{
		logger:     logger.Named("execution"),
		config:     config,
		adapters:   make(map[ids.VenueID]venue.Adapter),
		limiters:   limiters,
		riskEngine: riskEngine,
		tracker:    tracker,
		validator:  validator,
		ledger:     make(map[ids.MarketID]decimal.Decimal),
	}
}

// RegisterAdapter installs a venue adapter. Adapters are exclusively
// owned by the Engine from this point on.
func (e *Engine) RegisterAdapter(a venue.Adapter) {
	e.adaptersMu.Lock()
	defer e.adaptersMu.Unlock()
	e.adapters[a.VenueID()] = a
}

func (e *Engine) adapterFor(v ids.VenueID) (venue.Adapter, error) {
	e.adaptersMu.RLock()
	defer e.adaptersMu.RUnlock()
	a, ok := e.adapters[v]
	if !ok {
		return nil, &errs.VenueNotSupportedError{Venue: string(v)}
	}
	return a, nil
}

// snapshotLedger returns a copy of the per-market position ledger.
func (e *Engine) snapshotLedger() map[ids.MarketID]decimal.Decimal {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()
	cp := make(map[ids.MarketID]decimal.Decimal, len(e.ledger))
	for k, v := range e.ledger {
		cp[k] = v
	}
	return cp
}

// inventoryValue sums |size| across the ledger. The ledger holds only
// signed sizes and no prices, so this size sum is what the submit path
// passes to the risk engine as the inventory value.
func inventoryValue(ledger map[ids.MarketID]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, size := range ledger {
		total = total.Add(size.Abs())
	}
	return total
}

// SubmitOrder runs the validate -> risk -> rate-limit -> adapter
// pipeline. On success the order is tracked and its status reflects
// the adapter's acknowledgement.
func (e *Engine) SubmitOrder(ctx context.Context, order *oms.Order) (venue.OrderAck, error) {
	if e.config.EnableValidation {
		if err := e.validator.Validate(order); err != nil {
			return venue.OrderAck{}, err
		}
	}

	if e.config.EnableRiskChecks && e.riskEngine != nil {
		ledger := e.snapshotLedger()
		currentPosition := ledger[order.Market]
		proposedSize := order.Size
		if order.Side == oms.SideSell {
			proposedSize = proposedSize.Neg()
		}

		riskCtx := risk.Context{
			MarketID:          order.Market,
			CurrentPosition:   currentPosition,
			ProposedSize:      proposedSize,
			InventoryValueUSD: inventoryValue(ledger),
		}
		decision := e.riskEngine.Evaluate(riskCtx)
		if !decision.Allowed {
			return venue.OrderAck{}, &errs.RiskRejectedError{Policies: decision.ViolatedPolicies}
		}
	}

	adapter, err := e.adapterFor(order.Venue)
	if err != nil {
		return venue.OrderAck{}, err
	}

	if e.limiters != nil {
		if limiter := e.limiters.Get(string(order.Venue)); limiter != nil {
			if err := limiter.Check(ctx); err != nil {
				return venue.OrderAck{}, err
			}
		}
	}

	order.Status = oms.StatusSubmitting
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	e.tracker.TrackOrder(order)

	callCtx, cancel := context.WithTimeout(ctx, e.config.AdapterTimeout)
	defer cancel()

	ack, err := adapter.PlaceOrder(callCtx, order)
	if err != nil {
		// The order remains Submitting: an adapter error mid-place_order
		// does not by itself prove the venue never received it, so we
		// require an explicit reconcile (ReconcileStuckOrders) rather than
		// guessing Rejected. This is a documented decision, not an
		// omission — see SPEC_FULL.md's open-question resolution.
		e.logger.Warn("adapter place_order failed, order left in Submitting for reconciliation",
			zap.String("order_id", string(order.ID)),
			zap.Error(err),
		)
		return venue.OrderAck{}, err
	}

	if err := e.tracker.UpdateStatus(order.ID, ack.Status); err != nil {
		e.logger.Warn("failed to update tracked status after ack", zap.Error(err))
	}
	return ack, nil
}

// CancelOrder cancels a tracked, non-terminal order.
func (e *Engine) CancelOrder(ctx context.Context, orderID ids.OrderID) (venue.CancelAck, error) {
	order, err := e.tracker.GetOrder(orderID)
	if err != nil {
		return venue.CancelAck{}, err
	}
	if order.Status.IsTerminal() {
		return venue.CancelAck{}, &errs.InvalidOrderStateError{
			Current:   string(order.Status),
			Operation: "cancel",
		}
	}

	adapter, err := e.adapterFor(order.Venue)
	if err != nil {
		return venue.CancelAck{}, err
	}

	if e.limiters != nil {
		if limiter := e.limiters.Get(string(order.Venue)); limiter != nil {
			if err := limiter.Check(ctx); err != nil {
				return venue.CancelAck{}, err
			}
		}
	}

	if err := e.tracker.UpdateStatus(orderID, oms.StatusCancelling); err != nil {
		return venue.CancelAck{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.AdapterTimeout)
	defer cancel()

	ack, err := adapter.CancelOrder(callCtx, orderID)
	if err != nil {
		return venue.CancelAck{}, err
	}
	if ack.Success {
		if err := e.tracker.UpdateStatus(orderID, oms.StatusCancelled); err != nil {
			e.logger.Warn("failed to update status after cancel ack", zap.Error(err))
		}
	}
	return ack, nil
}

// GetStatus returns the order's status. Terminal orders answer from
// cache; non-terminal orders are refreshed from the adapter.
func (e *Engine) GetStatus(ctx context.Context, orderID ids.OrderID) (oms.Status, error) {
	order, err := e.tracker.GetOrder(orderID)
	if err != nil {
		return "", err
	}
	if order.Status.IsTerminal() {
		return order.Status, nil
	}

	adapter, err := e.adapterFor(order.Venue)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.AdapterTimeout)
	defer cancel()

	status, err := adapter.GetOrderStatus(callCtx, orderID)
	if err != nil {
		return "", err
	}
	if err := e.tracker.UpdateStatus(orderID, status); err != nil {
		e.logger.Debug("status update skipped", zap.Error(err))
	}
	return status, nil
}

// RecordFill records a fill in the tracker and applies it to the
// position ledger.
func (e *Engine) RecordFill(fill *oms.Fill) error {
	if err := e.tracker.RecordFill(fill); err != nil {
		return err
	}

	order, err := e.tracker.GetOrder(fill.OrderID)
	if err != nil {
		return err
	}

	delta := fill.Size
	if order.Side == oms.SideSell {
		delta = delta.Neg()
	}

	e.ledgerMu.Lock()
	e.ledger[order.Market] = e.ledger[order.Market].Add(delta)
	e.ledgerMu.Unlock()

	return nil
}

// GetPosition reads the ledger for a single market.
func (e *Engine) GetPosition(market ids.MarketID) decimal.Decimal {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()
	return e.ledger[market]
}

// GetAllPositions returns a snapshot copy of the full ledger.
func (e *Engine) GetAllPositions() map[ids.MarketID]decimal.Decimal {
	return e.snapshotLedger()
}

// ReconcileStuckOrders re-queries adapter status for every tracked
// order still Submitting or Cancelling, resolving the open question of
// what happens when an adapter call fails mid-flight: this periodic
// sweep is the resolution mechanism, run by the caller (typically on a
// ticker) rather than forced synchronously inside SubmitOrder.
func (e *Engine) ReconcileStuckOrders(ctx context.Context) {
	for _, order := range e.tracker.GetAllOrders() {
		if order.Status != oms.StatusSubmitting && order.Status != oms.StatusCancelling {
			continue
		}
		if _, err := e.GetStatus(ctx, order.ID); err != nil {
			e.logger.Debug("reconcile failed for order", zap.String("order_id", string(order.ID)), zap.Error(err))
		}
	}
}

// Tracker exposes the underlying OMS tracker for read-side queries.
func (e *Engine) Tracker() *oms.Tracker { return e.tracker }

// RiskEngine exposes the underlying risk engine, e.g. for kill-switch control.
func (e *Engine) RiskEngine() *risk.Engine { return e.riskEngine }

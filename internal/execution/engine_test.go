package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/ratelimit"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/venue"
)

const testVenue = ids.VenueID("fake")

// fakeAdapter is a stand-in VenueAdapter: PlaceOrder/CancelOrder
// outcomes are scripted via the exported fields, matching how the
// teacher's own adapter tests swap HTTP transports for a scripted stub.
type fakeAdapter struct {
	placeErr    error
	placeStatus oms.Status
	cancelErr   error
}

func (f *fakeAdapter) VenueID() ids.VenueID { return testVenue }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, order *oms.Order) (venue.OrderAck, error) {
	if f.placeErr != nil {
		return venue.OrderAck{}, f.placeErr
	}
	status := f.placeStatus
	if status == "" {
		status = oms.StatusWorking
	}
	return venue.OrderAck{OrderID: order.ID, VenueOrderID: "v-" + string(order.ID), Status: status}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID ids.OrderID) (venue.CancelAck, error) {
	if f.cancelErr != nil {
		return venue.CancelAck{}, f.cancelErr
	}
	return venue.CancelAck{OrderID: orderID, Success: true}, nil
}

func (f *fakeAdapter) GetOrderStatus(ctx context.Context, orderID ids.OrderID) (oms.Status, error) {
	return oms.StatusWorking, nil
}

func (f *fakeAdapter) GetOpenOrders(ctx context.Context) ([]*oms.Order, error) { return nil, nil }

func (f *fakeAdapter) ModifyOrder(ctx context.Context, orderID ids.OrderID, newPrice, newSize *decimal.Decimal) (venue.OrderAck, error) {
	return venue.OrderAck{}, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }

func newTestEngine(t *testing.T, rules []risk.Rule, adapter *fakeAdapter) *Engine {
	t.Helper()
	tracker := oms.NewTracker(zap.NewNop())
	validator := oms.NewValidator(oms.DefaultValidatorConfig())
	riskEngine := risk.NewEngine(zap.NewNop(), rules)
	limiters := ratelimit.NewRegistry()
	limiters.Register(string(testVenue), 1000, 1000)

	engine := New(zap.NewNop(), DefaultConfig(), tracker, validator, riskEngine, limiters)
	engine.RegisterAdapter(adapter)
	return engine
}

func testOrder() *oms.Order {
	price := decimal.NewFromInt(50)
	return &oms.Order{
		ID:     ids.NewOrderID(),
		Venue:  testVenue,
		Market: ids.MarketID("BTC-USD"),
		Side:   oms.SideBuy,
		Type:   oms.TypeLimit,
		Price:  &price,
		Size:   decimal.NewFromInt(5),
	}
}

func TestSubmitOrder_HappyPathTracksOrderAndAck(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()

	ack, err := engine.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, oms.StatusWorking, ack.Status)

	tracked, err := engine.Tracker().GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, oms.StatusWorking, tracked.Status)
}

func TestSubmitOrder_RiskRejectionNeverReachesAdapter(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	rules := []risk.Rule{risk.NewPositionLimitRule(&market, decimal.NewFromInt(1))}
	adapter := &fakeAdapter{}
	engine := newTestEngine(t, rules, adapter)

	order := testOrder() // size 5, exceeds max 1
	_, err := engine.SubmitOrder(context.Background(), order)
	require.Error(t, err)

	var rejected *errs.RiskRejectedError
	require.ErrorAs(t, err, &rejected)

	_, lookupErr := engine.Tracker().GetOrder(order.ID)
	assert.Error(t, lookupErr, "a risk-rejected order should never be tracked")
}

func TestSubmitOrder_ValidationFailureNeverReachesAdapter(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()
	order.Size = decimal.Zero

	_, err := engine.SubmitOrder(context.Background(), order)
	require.Error(t, err)
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestSubmitOrder_AdapterErrorLeavesOrderSubmitting(t *testing.T) {
	adapter := &fakeAdapter{placeErr: &errs.NetworkError{Cause: errors.New("connection reset")}}
	engine := newTestEngine(t, nil, adapter)
	order := testOrder()

	_, err := engine.SubmitOrder(context.Background(), order)
	require.Error(t, err)

	tracked, lookupErr := engine.Tracker().GetOrder(order.ID)
	require.NoError(t, lookupErr)
	assert.Equal(t, oms.StatusSubmitting, tracked.Status, "an adapter error must not force a Rejected transition")
}

func TestReconcileStuckOrders_RefreshesSubmittingOrderFromAdapter(t *testing.T) {
	adapter := &fakeAdapter{placeErr: &errs.NetworkError{Cause: errors.New("connection reset")}}
	engine := newTestEngine(t, nil, adapter)
	order := testOrder()

	_, err := engine.SubmitOrder(context.Background(), order)
	require.Error(t, err)

	tracked, _ := engine.Tracker().GetOrder(order.ID)
	require.Equal(t, oms.StatusSubmitting, tracked.Status)

	engine.ReconcileStuckOrders(context.Background())

	tracked, err = engine.Tracker().GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, oms.StatusWorking, tracked.Status, "reconcile should have picked up the adapter's live status")
}

func TestRecordFill_UpdatesPositionLedgerSigned(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()
	order.Side = oms.SideSell
	engine.Tracker().TrackOrder(order)

	err := engine.RecordFill(&oms.Fill{
		FillID:  "f1",
		OrderID: order.ID,
		Price:   decimal.NewFromInt(50),
		Size:    decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	pos := engine.GetPosition(order.Market)
	assert.True(t, pos.Equal(decimal.NewFromInt(-3)), "a sell fill should decrease the ledger position")
}

func TestCancelOrder_RejectsTerminalOrder(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()
	order.Status = oms.StatusFilled
	engine.Tracker().TrackOrder(order)

	_, err := engine.CancelOrder(context.Background(), order.ID)
	require.Error(t, err)
	var invalid *errs.InvalidOrderStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestCancelOrder_SuccessTransitionsToCancelled(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()
	order.Status = oms.StatusWorking
	engine.Tracker().TrackOrder(order)

	_, err := engine.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)

	tracked, err := engine.Tracker().GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, oms.StatusCancelled, tracked.Status)
}

func TestSubmitOrder_UnknownVenueRejected(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeAdapter{})
	order := testOrder()
	order.Venue = ids.VenueID("not-registered")

	_, err := engine.SubmitOrder(context.Background(), order)
	require.Error(t, err)
	var unsupported *errs.VenueNotSupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestSubmitOrder_RateLimitExhaustionBlocksSubmission(t *testing.T) {
	tracker := oms.NewTracker(zap.NewNop())
	validator := oms.NewValidator(oms.DefaultValidatorConfig())
	riskEngine := risk.NewEngine(zap.NewNop(), nil)
	limiters := ratelimit.NewRegistry()
	limiters.Register(string(testVenue), 0.001, 1)

	engine := New(zap.NewNop(), DefaultConfig(), tracker, validator, riskEngine, limiters)
	engine.RegisterAdapter(&fakeAdapter{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Exhaust the single burst token, then the second submission should
	// block on Check until the context deadline trips.
	_, err := engine.SubmitOrder(context.Background(), testOrder())
	require.NoError(t, err)

	_, err = engine.SubmitOrder(ctx, testOrder())
	require.Error(t, err)
}

// Package polymarket implements the VenueAdapter capability against
// Polymarket's CLOB HTTP API: JSON order submission with
// HMAC-SHA256-signed headers.
package polymarket

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/venue"
)

// Config configures the adapter.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// DefaultConfig returns sane defaults against the production endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://clob.polymarket.com",
		Timeout: 30 * time.Second,
	}
}

// wireSide is the venue's order side vocabulary.
type wireSide string

const (
	wireBuy  wireSide = "BUY"
	wireSell wireSide = "SELL"
)

// wireType is the venue's time-in-force vocabulary. Polymarket's wire
// contract calls this field "type" but it is in fact a time-in-force
// (GTC/FOK/GTD), not an order type — see mapTimeInForce below.
type wireType string

const (
	wireGTC wireType = "GTC"
	wireFOK wireType = "FOK"
	wireGTD wireType = "GTD"
)

type orderRequest struct {
	Market        string `json:"market"`
	Side          wireSide `json:"side"`
	Price         string `json:"price,omitempty"`
	Size          string `json:"size"`
	Type          wireType `json:"type"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Adapter is the Polymarket VenueAdapter binding. All mutation
// (the id-mapping table) happens behind mu, so calls against a single
// Adapter observe a total order as required by the adapter capability
// contract.
type Adapter struct {
	logger *zap.Logger
	config Config
	client *resty.Client

	mu          sync.Mutex
	venueOrders map[ids.OrderID]string // engine id -> venue-assigned id
}

// New constructs a Polymarket adapter.
func New(logger *zap.Logger, config Config) *Adapter {
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)

	return &Adapter{
		logger:      logger.Named("venue.polymarket"),
		config:      config,
		client:      client,
		venueOrders: make(map[ids.OrderID]string),
	}
}

func (a *Adapter) VenueID() ids.VenueID { return "polymarket" }

// mapOrderType validates order's type against the wire contract and
// extracts its wire price, if any. PostOnly is a genuine order type in
// our model (a maker-only limit order), distinct from any
// time-in-force value; it is NOT collapsed into the wire "type"
// (time-in-force) field the way a known-buggy mapping once did (see
// mapTimeInForce).
func mapOrderType(o *oms.Order) (price string, ok bool) {
	switch o.Type {
	case oms.TypeMarket:
		return "", false
	case oms.TypeLimit, oms.TypePostOnly:
		if o.Price == nil {
			return "", false
		}
		return o.Price.String(), true
	}
	return "", false
}

// mapTimeInForce maps the engine's TimeInForce to the venue's wire
// "type" field; the order type plays no part. The venue has no
// dedicated maker-only flag in this wire contract, so PlaceOrder
// rejects PostOnly orders with an explicit VenueError before mapping
// rather than sending them as taker-capable orders or mislabeling them
// with an unrelated time-in-force value.
func mapTimeInForce(o *oms.Order) wireType {
	switch o.TimeInForce {
	case oms.TIFFOK:
		return wireFOK
	case oms.TIFIOC:
		return wireFOK // venue has no IOC primitive; FOK is the closest fit
	default:
		return wireGTC
	}
}

func (a *Adapter) sign(method, path, body, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(a.config.APISecret))
	mac.Write([]byte(timestamp + method + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) signedRequest(ctx context.Context, method, path string, body []byte) (*resty.Response, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := a.sign(method, path, string(body), timestamp)

	req := a.client.R().
		SetContext(ctx).
		SetHeader("X-API-Key", a.config.APIKey).
		SetHeader("X-Signature", signature).
		SetHeader("X-Timestamp", timestamp).
		SetHeader("Content-Type", "application/json")

	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &errs.NetworkError{Cause: err}
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return nil, &errs.AuthenticationError{Venue: string(a.VenueID())}
	}
	return resp, nil
}

// PlaceOrder submits order to the venue. On a transport/authentication
// failure mid-call, the Execution Engine's submit_order leaves the
// tracked order in Submitting for caller-driven reconciliation — this
// adapter does not itself force a Rejected transition, since it cannot
// distinguish "never reached the venue" from "accepted but response
// lost" without a reconcile round-trip.
func (a *Adapter) PlaceOrder(ctx context.Context, order *oms.Order) (venue.OrderAck, error) {
	if order.Type == oms.TypePostOnly {
		return venue.OrderAck{}, &errs.VenueError{
			Venue:   string(a.VenueID()),
			Message: "post-only orders are not supported: the wire contract has no maker-only flag",
		}
	}

	price, hasPrice := mapOrderType(order)
	side := wireBuy
	if order.Side == oms.SideSell {
		side = wireSell
	}

	wire := orderRequest{
		Market:        string(order.Market),
		Side:          side,
		Size:          order.Size.String(),
		Type:          mapTimeInForce(order),
		ClientOrderID: order.ClientOrderID,
	}
	if hasPrice {
		wire.Price = price
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return venue.OrderAck{}, &errs.InternalError{Reason: "failed to marshal order: " + err.Error()}
	}

	resp, err := a.signedRequest(ctx, "POST", "/order", body)
	if err != nil {
		return venue.OrderAck{}, err
	}

	var parsed orderResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return venue.OrderAck{}, &errs.InvalidResponseError{Reason: err.Error()}
	}
	if resp.StatusCode() >= 400 {
		return venue.OrderAck{}, &errs.VenueError{
			Venue:   string(a.VenueID()),
			Message: parsed.Message,
			Code:    strconv.Itoa(resp.StatusCode()),
			Retry:   resp.StatusCode() >= 500,
		}
	}

	a.mu.Lock()
	a.venueOrders[order.ID] = parsed.OrderID
	a.mu.Unlock()

	status := mapWireStatus(parsed.Status)
	return venue.OrderAck{
		OrderID:      order.ID,
		VenueOrderID: parsed.OrderID,
		Status:       status,
		Timestamp:    time.Now(),
		Message:      parsed.Message,
	}, nil
}

func mapWireStatus(s string) oms.Status {
	switch s {
	case "LIVE", "OPEN":
		return oms.StatusWorking
	case "FILLED":
		return oms.StatusFilled
	case "CANCELLED":
		return oms.StatusCancelled
	case "REJECTED":
		return oms.StatusRejected
	default:
		return oms.StatusSubmitting
	}
}

func (a *Adapter) venueOrderID(orderID ids.OrderID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vid, ok := a.venueOrders[orderID]
	if !ok {
		return "", &errs.OrderNotFoundError{OrderID: string(orderID)}
	}
	return vid, nil
}

// CancelOrder cancels a previously-placed order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID ids.OrderID) (venue.CancelAck, error) {
	vid, err := a.venueOrderID(orderID)
	if err != nil {
		return venue.CancelAck{}, err
	}

	resp, err := a.signedRequest(ctx, "DELETE", "/order/"+vid, nil)
	if err != nil {
		return venue.CancelAck{}, err
	}
	if resp.StatusCode() >= 400 {
		return venue.CancelAck{}, &errs.VenueError{
			Venue:   string(a.VenueID()),
			Message: "cancel rejected",
			Code:    strconv.Itoa(resp.StatusCode()),
		}
	}

	return venue.CancelAck{
		OrderID:      orderID,
		VenueOrderID: vid,
		Success:      true,
		Timestamp:    time.Now(),
	}, nil
}

// GetOrderStatus polls the venue for an order's current status.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID ids.OrderID) (oms.Status, error) {
	vid, err := a.venueOrderID(orderID)
	if err != nil {
		return "", err
	}

	resp, err := a.signedRequest(ctx, "GET", "/order/"+vid, nil)
	if err != nil {
		return "", err
	}

	var parsed orderResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", &errs.InvalidResponseError{Reason: err.Error()}
	}
	return mapWireStatus(parsed.Status), nil
}

// GetOpenOrders lists every order this adapter instance currently
// tracks as venue-assigned, fetching live status for each. Unlike a
// known-incomplete prior implementation that always returned an empty
// list, this adapter completes the mapping by round-tripping the
// adapter's own id table against the venue's per-order status
// endpoint; venues exposing a dedicated "list open orders" endpoint
// should prefer that in place of the per-id loop below.
func (a *Adapter) GetOpenOrders(ctx context.Context) ([]*oms.Order, error) {
	a.mu.Lock()
	snapshot := make(map[ids.OrderID]string, len(a.venueOrders))
	for k, v := range a.venueOrders {
		snapshot[k] = v
	}
	a.mu.Unlock()

	open := make([]*oms.Order, 0, len(snapshot))
	for orderID, vid := range snapshot {
		resp, err := a.signedRequest(ctx, "GET", "/order/"+vid, nil)
		if err != nil {
			return nil, err
		}
		var parsed orderResponse
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			continue
		}
		status := mapWireStatus(parsed.Status)
		if !status.IsActive() {
			continue
		}
		open = append(open, &oms.Order{
			ID:           orderID,
			VenueOrderID: vid,
			Status:       status,
		})
	}
	return open, nil
}

// ModifyOrder is implemented as cancel + replace, per the capability's
// documented allowance.
func (a *Adapter) ModifyOrder(ctx context.Context, orderID ids.OrderID, newPrice, newSize *decimal.Decimal) (venue.OrderAck, error) {
	if _, err := a.CancelOrder(ctx, orderID); err != nil {
		return venue.OrderAck{}, err
	}

	order := &oms.Order{ID: orderID, Type: oms.TypeLimit, TimeInForce: oms.TIFGTC}
	if newPrice != nil {
		p := *newPrice
		order.Price = &p
	}
	if newSize != nil {
		order.Size = *newSize
	}
	return a.PlaceOrder(ctx, order)
}

// HealthCheck pings the venue.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	resp, err := a.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return resp.StatusCode() == 200
}

// Package api provides the REST and WebSocket surface over the
// Execution Engine, Strategy Coordinator, and Persistence Sink.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/persistence"
	"github.com/shopspring/decimal"
)

// ServerConfig configures the HTTP/WS listener.
type ServerConfig struct {
	Host          string
	Port          int
	WebSocketPath string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultServerConfig returns sane listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Server is the HTTP/WebSocket API server fronting the trading engine.
type Server struct {
	logger     *zap.Logger
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	engine     *execution.Engine
	sink       persistence.Sink
	collectors *metrics.Collectors

	reloadPolicy func(path string) error
}

// NewServer wires a Server over an already-constructed Execution
// Engine and Persistence Sink. reloadPolicy is invoked by the policy
// reload endpoint; nil disables that endpoint. collectors may be nil
// to disable submit-latency/rejection instrumentation.
func NewServer(logger *zap.Logger, cfg ServerConfig, engine *execution.Engine, sink persistence.Sink, collectors *metrics.Collectors, reloadPolicy func(string) error) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: cfg,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		engine:       engine,
		sink:         sink,
		collectors:   collectors,
		reloadPolicy: reloadPolicy,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/orders/{id}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/positions", s.handleGetPositions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/positions/{market}", s.handleGetPosition).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/risk/kill-switch", s.handleSetKillSwitch).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/policy/reload", s.handleReloadPolicy).Methods(http.MethodPost)

	s.router.HandleFunc("/api/v1/metrics/query", s.handleQueryAggregated).Methods(http.MethodGet)

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// PublishFill pushes a fill event to subscribers of the "fills" channel.
func (s *Server) PublishFill(data interface{}) {
	s.hub.PublishToChannel("fills", MsgTypeFill, data)
}

// PublishOrderUpdate pushes an order status change to "orders" subscribers.
func (s *Server) PublishOrderUpdate(data interface{}) {
	s.hub.PublishToChannel("orders", MsgTypeOrderUpdate, data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

type submitOrderRequest struct {
	Venue         string  `json:"venue"`
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Type          string  `json:"order_type"`
	Price         *string `json:"price,omitempty"`
	Size          string  `json:"size"`
	TimeInForce   string  `json:"time_in_force"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	size, err := decimal.NewFromString(req.Size)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid size: %w", err))
		return
	}

	var price *decimal.Decimal
	if req.Price != nil {
		p, err := decimal.NewFromString(*req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
			return
		}
		price = &p
	}

	order := &oms.Order{
		ID:            ids.NewOrderID(),
		Venue:         ids.VenueID(req.Venue),
		Market:        ids.MarketID(req.Market),
		Side:          oms.OrderSide(req.Side),
		Type:          oms.OrderType(req.Type),
		Price:         price,
		Size:          size,
		TimeInForce:   oms.TimeInForce(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
		Status:        oms.StatusPending,
	}

	start := time.Now()
	ack, err := s.engine.SubmitOrder(r.Context(), order)
	if s.collectors != nil {
		s.collectors.ObserveSubmit(req.Venue, time.Since(start))
	}
	if err != nil {
		if rejected, ok := err.(*errs.RiskRejectedError); ok && s.collectors != nil {
			s.collectors.RecordRejection(rejected.Policies)
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.engine.Tracker().GetOrder(ids.OrderID(id))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ack, err := s.engine.CancelOrder(r.Context(), ids.OrderID(id))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetAllPositions())
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market": market,
		"size":   s.engine.GetPosition(ids.MarketID(market)).String(),
	})
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Active {
		s.engine.RiskEngine().TriggerKillSwitch()
	} else {
		s.engine.RiskEngine().ResetKillSwitch()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.engine.RiskEngine().IsKillSwitchActive()})
}

func (s *Server) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if s.reloadPolicy == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("policy reload not configured"))
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reloadPolicy(body.Path); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleQueryAggregated(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}
	bucket, err := time.ParseDuration(q.Get("bucket"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bucket: %w", err))
		return
	}

	buckets, err := s.sink.QueryAggregated(r.Context(), persistence.AggregateQuery{
		MetricName: q.Get("metric"),
		Start:      start,
		End:        end,
		Bucket:     bucket,
		Agg:        persistence.Aggregation(q.Get("agg")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:            fmt.Sprintf("%p", conn),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

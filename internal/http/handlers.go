package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/dispatch"
	"github.com/example/rider-dispatch/internal/eta"
	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

type Server struct {
	Registry *dispatch.Registry
	Store    storage.OrderStore
	Index    geo.RiderIndex
	Eta      eta.Estimator

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, registry *dispatch.Registry, store storage.OrderStore, index geo.RiderIndex, est eta.Estimator) *Server {
	if est == nil {
		est = eta.Straightline{SpeedMps: cfg.DefaultSpeedMps}
	}
	s := &Server{
		Registry: registry,
		Store:    store,
		Index:    index,
		Eta:      est,
		cfg:      cfg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{id}/otp/verify", s.handleVerifyOtp).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/rider", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	RiderID         string             `json:"rider_id,omitempty"`
	RestaurantName  string             `json:"restaurant_name"`
	RestaurantLoc   models.Coord       `json:"restaurant_loc"`
	CustomerName    string             `json:"customer_name"`
	CustomerPhone   string             `json:"customer_phone"`
	DeliveryAddress string             `json:"delivery_address"`
	CustomerLoc     models.Coord       `json:"customer_loc"`
	Items           []models.OrderItem `json:"items"`
	DeliveryFee     float64            `json:"delivery_fee"`
	PickupOTP       string             `json:"pickup_otp"`
	DeliveryOTP     string             `json:"delivery_otp"`
}

// handleCreateOrder stores an order and offers it to a rider's room:
// either the requested rider or the nearest online one.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	riderID := req.RiderID
	if riderID == "" {
		cands := s.Index.Nearest(req.RestaurantLoc.Lat, req.RestaurantLoc.Lon, s.cfg.OfferTopN)
		for _, c := range cands {
			if s.Registry.Connected(c.RiderID) {
				riderID = c.RiderID
				break
			}
		}
	}
	if riderID == "" {
		http.Error(w, "no riders available", 503)
		return
	}

	distKm := geo.Distance(req.RestaurantLoc, req.CustomerLoc) / 1000
	estSec, err := s.Eta.EstimateSeconds(req.RestaurantLoc, req.CustomerLoc)
	if err != nil {
		s.logger.Warn("routed eta failed, using straight-line", "error", err)
		estSec = geo.EstimateSeconds(req.RestaurantLoc, req.CustomerLoc, s.cfg.DefaultSpeedMps)
	}
	estMin := int(estSec/60) + 1

	now := time.Now()
	o := &storage.Order{
		ID:               newID(),
		RiderID:          riderID,
		RestaurantName:   req.RestaurantName,
		RestaurantLoc:    req.RestaurantLoc,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		DeliveryAddress:  req.DeliveryAddress,
		CustomerLoc:      req.CustomerLoc,
		Items:            req.Items,
		DeliveryFee:      req.DeliveryFee,
		DistanceKm:       distKm,
		EstimatedMinutes: estMin,
		PickupOTP:        req.PickupOTP,
		DeliveryOTP:      req.DeliveryOTP,
		Status:           storage.StatusOffered,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Store.SaveOrder(o); err != nil {
		s.logger.Error("order save failed", "error", err)
		http.Error(w, "store error", 500)
		return
	}

	offer := models.NewOrderPayload{
		OrderID:          o.ID,
		RestaurantName:   o.RestaurantName,
		DeliveryAddress:  o.DeliveryAddress,
		DistanceKm:       o.DistanceKm,
		DeliveryFee:      o.DeliveryFee,
		EstimatedMinutes: o.EstimatedMinutes,
	}
	if err := s.Registry.Send(riderID, models.EventNewOrder, offer); err != nil {
		if errors.Is(err, dispatch.ErrNoSession) {
			http.Error(w, "rider has no live session", 503)
			return
		}
		http.Error(w, "offer dispatch failed", 502)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"order_id": o.ID, "rider_id": riderID})
}

// handleGetOrder serves the full detail the rider fetches after accept.
// OTP codes never leave the server.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.Store.GetOrder(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "store error", 500)
		return
	}
	out := models.ActiveOrder{
		OrderID:       o.ID,
		RestaurantLoc: o.RestaurantLoc,
		CustomerLoc:   o.CustomerLoc,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Items:         o.Items,
		DeliveryFee:   o.DeliveryFee,
		Status:        models.OrderStatus(o.Status),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

type verifyOtpRequest struct {
	Stage string `json:"stage"` // "pickup" | "delivery"
	Code  string `json:"code"`
}

func (s *Server) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req verifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	o, err := s.Store.GetOrder(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "store error", 500)
		return
	}
	var want string
	switch req.Stage {
	case "pickup":
		want = o.PickupOTP
	case "delivery":
		want = o.DeliveryOTP
	default:
		http.Error(w, "unknown stage", 400)
		return
	}
	// no lockout: the rider may retry until the code matches
	if req.Code == "" || req.Code != want {
		http.Error(w, "otp mismatch", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelOrder cancels an order and pushes the cancellation into
// the assigned rider's room.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.Store.GetOrder(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "store error", 500)
		return
	}
	if o.Status == string(models.StatusDelivered) {
		http.Error(w, "already delivered", 409)
		return
	}
	if err := s.Store.UpdateStatus(id, string(models.StatusCancelled), ""); err != nil {
		http.Error(w, "store error", 500)
		return
	}
	if o.RiderID != "" {
		// best effort: the rider reconciles on its next fetch anyway
		_ = s.Registry.Send(o.RiderID, models.EventOrderCancelled, models.OrderCancelledPayload{OrderID: id})
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WSToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.WSToken {
		http.Error(w, "unauthorized", 401)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	go s.Registry.HandleConn(conn)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }

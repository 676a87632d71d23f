// Package dispatch holds the backend side of the rider event link:
// per-rider rooms and inbound event routing.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/rider-dispatch/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	joinWait   = 10 * time.Second
)

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no rider session" }

// Inbound receives events read off rider sessions.
type Inbound interface {
	RiderJoined(riderID string)
	RiderOnline(riderID string, online bool)
	RiderLocation(riderID string, s models.LocationSample)
	OrderAccepted(riderID, orderID string)
	OrderRejected(riderID, orderID, reason string)
	OrderStatus(riderID, orderID string, status models.OrderStatus)
}

// Session represents one connected rider.
type Session struct {
	riderID string
	conn    *websocket.Conn
	mu      sync.Mutex
}

func (s *Session) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(models.Frame{Event: event, Data: data})
}

// Registry holds rider sessions keyed by room (rider id).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	inbound  Inbound
	log      *slog.Logger
}

func NewRegistry(inbound Inbound, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*Session), inbound: inbound, log: logger}
}

// Send routes an event to a rider's room.
func (r *Registry) Send(riderID, event string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[riderID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(event, payload); err != nil {
		r.log.Warn("room send failed", "rider_id", riderID, "event", event, "error", err)
		return err
	}
	return nil
}

// Connected reports whether a rider currently has a session.
func (r *Registry) Connected(riderID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[riderID]
	return ok
}

// HandleConn drives one upgraded connection to completion. The first
// frame must be join_rider_room; membership does not survive transport
// disconnects, so every reconnect repeats this handshake.
func (r *Registry) HandleConn(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(joinWait))
	var f models.Frame
	if err := conn.ReadJSON(&f); err != nil || f.Event != models.EventJoinRiderRoom {
		r.log.Warn("closing session without join handshake", "event", f.Event)
		_ = conn.Close()
		return
	}
	var join models.JoinRoomPayload
	if err := json.Unmarshal(f.Data, &join); err != nil || join.RiderID == "" {
		_ = conn.Close()
		return
	}

	s := &Session{riderID: join.RiderID, conn: conn}
	r.mu.Lock()
	if old, ok := r.sessions[join.RiderID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[join.RiderID] = s
	r.mu.Unlock()

	r.log.Info("rider joined room", "rider_id", join.RiderID)
	r.inbound.RiderJoined(join.RiderID)

	go r.pingLoop(s)
	r.readLoop(s)

	r.mu.Lock()
	if r.sessions[join.RiderID] == s {
		delete(r.sessions, join.RiderID)
	}
	r.mu.Unlock()
	_ = conn.Close()
	// transport loss implies offline until the rider rejoins
	r.inbound.RiderOnline(join.RiderID, false)
	r.log.Info("rider session closed", "rider_id", join.RiderID)
}

func (r *Registry) pingLoop(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.RLock()
		alive := r.sessions[s.riderID] == s
		r.mu.RUnlock()
		if !alive {
			return
		}
		s.mu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (r *Registry) readLoop(s *Session) {
	conn := s.conn
	conn.SetReadLimit(256 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		r.route(s.riderID, f)
	}
}

func (r *Registry) route(riderID string, f models.Frame) {
	switch f.Event {
	case models.EventJoinRiderRoom:
		// already joined; harmless repeat
	case models.EventGoOnline:
		r.inbound.RiderOnline(riderID, true)
	case models.EventGoOffline:
		r.inbound.RiderOnline(riderID, false)
	case models.EventLocationUpdate:
		var s models.LocationSample
		if err := json.Unmarshal(f.Data, &s); err != nil || !s.Valid() {
			r.log.Warn("dropping invalid location update", "rider_id", riderID, "error", err)
			return
		}
		r.inbound.RiderLocation(riderID, s)
	case models.EventAcceptOrder:
		var p models.AcceptOrderPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.OrderID == "" {
			return
		}
		r.inbound.OrderAccepted(riderID, p.OrderID)
	case models.EventRejectOrder:
		var p models.RejectOrderPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.OrderID == "" {
			return
		}
		r.inbound.OrderRejected(riderID, p.OrderID, p.Reason)
	case models.EventStatusUpdate:
		var p models.StatusUpdatePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.OrderID == "" {
			return
		}
		r.inbound.OrderStatus(riderID, p.OrderID, p.Status)
	default:
		r.log.Debug("unhandled inbound event", "rider_id", riderID, "event", f.Event)
	}
}

package models

import (
	"encoding/json"
	"time"
)

// Frame is the wire envelope both directions use. Payloads are routed
// by event name only.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Wire event names shared by the rider core and the dispatch backend.
// Ordering is preserved per event name only; payloads ride inside the
// {"event": ..., "data": ...} envelope.
const (
	// rider -> backend
	EventJoinRiderRoom  = "join_rider_room"
	EventGoOnline       = "go_online"
	EventGoOffline      = "go_offline"
	EventLocationUpdate = "location_update"
	EventAcceptOrder    = "accept_order"
	EventRejectOrder    = "reject_order"
	EventStatusUpdate   = "status_update"

	// backend -> rider
	EventNewOrder         = "new_order"
	EventOrderCancelled   = "order_cancelled"
	EventOrderUpdated     = "order_updated"
	EventCustomerLocation = "customer_location"
)

type JoinRoomPayload struct {
	RiderID string `json:"riderId"`
}

type AcceptOrderPayload struct {
	OrderID string `json:"orderId"`
}

type RejectOrderPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type StatusUpdatePayload struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

type NewOrderPayload struct {
	OrderID          string  `json:"orderId"`
	RestaurantName   string  `json:"restaurantName"`
	DeliveryAddress  string  `json:"deliveryAddress"`
	DistanceKm       float64 `json:"distance"`
	DeliveryFee      float64 `json:"deliveryFee"`
	EstimatedMinutes int     `json:"estimatedTime"`
}

// Offer materializes the payload into the rider-side offer model.
func (p NewOrderPayload) Offer(now time.Time) OrderOffer {
	return OrderOffer{
		OrderID:          p.OrderID,
		RestaurantName:   p.RestaurantName,
		DeliveryAddress:  p.DeliveryAddress,
		DistanceKm:       p.DistanceKm,
		DeliveryFee:      p.DeliveryFee,
		EstimatedMinutes: p.EstimatedMinutes,
		CreatedAt:        now,
	}
}

type OrderUpdatedPayload struct {
	OrderID string `json:"orderId"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type CustomerLocationPayload struct {
	CustomerID string  `json:"customerId"`
	Lat        float64 `json:"latitude"`
	Lon        float64 `json:"longitude"`
}

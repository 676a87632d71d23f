package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationSample is one device position report. Only the most recent
// sample is ever retained; history is a backend concern.
type LocationSample struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Bearing   float64   `json:"bearing,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s LocationSample) Coord() Coord { return Coord{Lat: s.Lat, Lon: s.Lon} }

func (s LocationSample) Valid() bool {
	return !math.IsNaN(s.Lat) && !math.IsNaN(s.Lon) &&
		s.Lat >= -90 && s.Lat <= 90 && s.Lon >= -180 && s.Lon <= 180
}

// OrderStatus is the forward-only delivery lifecycle. CANCELLED sits
// outside the forward order: reachable from any non-delivered state,
// external event only.
type OrderStatus string

const (
	StatusAccepted            OrderStatus = "ACCEPTED"
	StatusArrivedAtRestaurant OrderStatus = "ARRIVED_AT_RESTAURANT"
	StatusPickedUp            OrderStatus = "PICKED_UP"
	StatusOnTheWay            OrderStatus = "ON_THE_WAY"
	StatusDelivered           OrderStatus = "DELIVERED"
	StatusCancelled           OrderStatus = "CANCELLED"
)

var statusRank = map[OrderStatus]int{
	StatusAccepted:            0,
	StatusArrivedAtRestaurant: 1,
	StatusPickedUp:            2,
	StatusOnTheWay:            3,
	StatusDelivered:           4,
}

// Rank returns the position of s in the forward order, or -1 for
// CANCELLED and unknown values.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderOffer is the ephemeral proposal shown to a rider under a
// countdown. It never carries full customer identity.
type OrderOffer struct {
	OrderID          string
	RestaurantName   string
	DeliveryAddress  string
	DistanceKm       float64
	DeliveryFee      float64
	EstimatedMinutes int
	CreatedAt        time.Time
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// ActiveOrder is the single order a rider has committed to deliver.
type ActiveOrder struct {
	OrderID       string      `json:"order_id"`
	RestaurantLoc Coord       `json:"restaurant_loc"`
	CustomerLoc   Coord       `json:"customer_loc"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	Items         []OrderItem `json:"items"`
	DeliveryFee   float64     `json:"delivery_fee"`
	Status        OrderStatus `json:"status"`
}

// Leg identifies which destination currently matters to the rider.
type Leg string

const (
	LegRestaurant Leg = "restaurant"
	LegCustomer   Leg = "customer"
)

// DerivedDeliveryState is a pure function of (status, latest sample,
// destination). It is recomputed on every input change, never mutated.
type DerivedDeliveryState struct {
	OrderID        string
	Status         OrderStatus
	DistanceMeters float64
	EtaSeconds     float64
	ActiveLeg      Leg
	NextAction     string
	HasLocation    bool
}

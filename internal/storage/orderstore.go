package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

var ErrNotFound = errors.New("storage: order not found")

// Backend-side order statuses preceding the rider lifecycle.
const (
	StatusOffered  = "OFFERED"
	StatusRejected = "REJECTED"
)

// Order is the dispatcher's record of an order, including the
// server-held proof-of-presence codes.
type Order struct {
	ID               string
	RiderID          string
	RestaurantName   string
	RestaurantLoc    models.Coord
	CustomerName     string
	CustomerPhone    string
	DeliveryAddress  string
	CustomerLoc      models.Coord
	Items            []models.OrderItem
	DeliveryFee      float64
	DistanceKm       float64
	EstimatedMinutes int
	PickupOTP        string
	DeliveryOTP      string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderStore defines persistence operations for orders.
type OrderStore interface {
	SaveOrder(o *Order) error
	GetOrder(id string) (*Order, error)
	UpdateStatus(id, status, riderID string) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (m *MemoryStore) SaveOrder(o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(id, status, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	if riderID != "" {
		o.RiderID = riderID
	}
	o.UpdatedAt = time.Now()
	return nil
}

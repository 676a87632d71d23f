// Package delivery owns the lifecycle of the single order a rider is
// committed to: legal status transitions, OTP gating, and the derived
// state the UI consumes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
)

var (
	// ErrInvalidTransition rejects any backward, repeated, or skipping
	// status change. State is left untouched.
	ErrInvalidTransition = errors.New("delivery: invalid status transition")
	// ErrOtpMismatch is returned by Verifier implementations when the
	// supplied code does not match the server-held one. Retryable.
	ErrOtpMismatch = errors.New("delivery: otp mismatch")
	// ErrVerificationInFlight rejects a command while a prior OTP
	// round-trip is still pending.
	ErrVerificationInFlight = errors.New("delivery: verification in flight")
	ErrNoActiveOrder        = errors.New("delivery: no active order")
	ErrOrderInProgress      = errors.New("delivery: an active order already exists")
)

// Verifier performs the proof-of-presence round-trips. Implementations
// must return ErrOtpMismatch on a wrong code.
type Verifier interface {
	VerifyPickup(ctx context.Context, orderID, code string) error
	VerifyDelivery(ctx context.Context, orderID, code string) error
}

// Emitter is the outbound half of the connection channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// forward-only; CANCELLED is external and handled separately
var transitions = map[models.OrderStatus]models.OrderStatus{
	models.StatusAccepted:            models.StatusArrivedAtRestaurant,
	models.StatusArrivedAtRestaurant: models.StatusPickedUp,
	models.StatusPickedUp:            models.StatusOnTheWay,
	models.StatusOnTheWay:            models.StatusDelivered,
}

// StateMachine validates rider-initiated transitions for the single
// active order and gates two of them behind OTP verification.
type StateMachine struct {
	verifier Verifier
	emitter  Emitter
	log      *slog.Logger
	notify   func(models.ActiveOrder)

	mu        sync.Mutex
	order     *models.ActiveOrder
	verifying bool
}

func NewStateMachine(verifier Verifier, emitter Emitter, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{verifier: verifier, emitter: emitter, log: logger}
}

// SetNotify registers the transition observer. Called once at wiring
// time, before any order begins.
func (s *StateMachine) SetNotify(fn func(models.ActiveOrder)) { s.notify = fn }

// Begin materializes the active order after an accepted offer. Exactly
// one active order may exist per rider.
func (s *StateMachine) Begin(order models.ActiveOrder) error {
	s.mu.Lock()
	if s.order != nil {
		s.mu.Unlock()
		return ErrOrderInProgress
	}
	order.Status = models.StatusAccepted
	s.order = &order
	cp := order
	s.mu.Unlock()

	s.log.Info("delivery started", "order_id", order.OrderID)
	s.emitNotify(cp, false)
	return nil
}

// Current returns a copy of the active order, if any.
func (s *StateMachine) Current() (models.ActiveOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return models.ActiveOrder{}, false
	}
	return *s.order, true
}

// ArriveAtRestaurant advances ACCEPTED -> ARRIVED_AT_RESTAURANT.
func (s *StateMachine) ArriveAtRestaurant() error {
	return s.advance(models.StatusArrivedAtRestaurant)
}

// PickUp advances ARRIVED_AT_RESTAURANT -> PICKED_UP once the
// restaurant's code verifies. Mismatches may be retried without bound.
func (s *StateMachine) PickUp(ctx context.Context, code string) error {
	return s.verifiedAdvance(ctx, models.StatusPickedUp, code, s.verifier.VerifyPickup)
}

// StartDelivery advances PICKED_UP -> ON_THE_WAY.
func (s *StateMachine) StartDelivery() error {
	return s.advance(models.StatusOnTheWay)
}

// Complete advances ON_THE_WAY -> DELIVERED once the customer's code
// verifies.
func (s *StateMachine) Complete(ctx context.Context, code string) error {
	return s.verifiedAdvance(ctx, models.StatusDelivered, code, s.verifier.VerifyDelivery)
}

// CancelExternal clears the active order on a backend cancellation.
// Reachable from any non-delivered state; never rider-initiated.
func (s *StateMachine) CancelExternal(orderID string) (models.ActiveOrder, bool) {
	s.mu.Lock()
	if s.order == nil || s.order.OrderID != orderID || s.order.Status == models.StatusDelivered {
		s.mu.Unlock()
		return models.ActiveOrder{}, false
	}
	s.order.Status = models.StatusCancelled
	cp := *s.order
	s.order = nil
	s.mu.Unlock()

	s.log.Info("delivery cancelled by backend", "order_id", orderID)
	return cp, true
}

// Clear drops a terminal order so the rider returns to idle. No-op
// while the order is still in flight.
func (s *StateMachine) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order != nil && s.order.Status.Terminal() {
		s.order = nil
	}
}

// Refresh replaces the mutable details of the active order with a fresh
// snapshot after an order_updated event. Status is owned locally and
// never taken from the snapshot.
func (s *StateMachine) Refresh(details models.ActiveOrder) {
	s.mu.Lock()
	if s.order == nil || s.order.OrderID != details.OrderID {
		s.mu.Unlock()
		return
	}
	s.order.RestaurantLoc = details.RestaurantLoc
	s.order.CustomerLoc = details.CustomerLoc
	s.order.CustomerName = details.CustomerName
	s.order.CustomerPhone = details.CustomerPhone
	s.order.Items = details.Items
	s.order.DeliveryFee = details.DeliveryFee
	cp := *s.order
	s.mu.Unlock()

	s.log.Info("order details refreshed", "order_id", details.OrderID)
	s.emitNotify(cp, false)
}

// UpdateCustomerLocation refreshes the drop-off coordinate from a
// customer_location event.
func (s *StateMachine) UpdateCustomerLocation(lat, lon float64) {
	s.mu.Lock()
	if s.order == nil {
		s.mu.Unlock()
		return
	}
	s.order.CustomerLoc = models.Coord{Lat: lat, Lon: lon}
	cp := *s.order
	s.mu.Unlock()
	s.emitNotify(cp, false)
}

func (s *StateMachine) advance(to models.OrderStatus) error {
	s.mu.Lock()
	cp, err := s.transitionLocked(to)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emitNotify(cp, true)
	return nil
}

func (s *StateMachine) verifiedAdvance(ctx context.Context, to models.OrderStatus, code string, verify func(context.Context, string, string) error) error {
	s.mu.Lock()
	if s.order == nil {
		s.mu.Unlock()
		return ErrNoActiveOrder
	}
	if s.verifying {
		s.mu.Unlock()
		return ErrVerificationInFlight
	}
	if transitions[s.order.Status] != to {
		from := s.order.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	id := s.order.OrderID
	s.verifying = true
	s.mu.Unlock()

	// server round-trip; cannot be cancelled locally once issued
	err := verify(ctx, id, code)

	s.mu.Lock()
	s.verifying = false
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrOtpMismatch) {
			observability.OtpFailures.Inc()
			s.log.Info("otp mismatch", "order_id", id, "target", string(to))
		}
		return err
	}
	// the order may have been cancelled externally mid-verification
	if s.order == nil || s.order.OrderID != id {
		s.mu.Unlock()
		return ErrNoActiveOrder
	}
	cp, terr := s.transitionLocked(to)
	s.mu.Unlock()
	if terr != nil {
		return terr
	}
	s.emitNotify(cp, true)
	return nil
}

// caller holds s.mu
func (s *StateMachine) transitionLocked(to models.OrderStatus) (models.ActiveOrder, error) {
	if s.order == nil {
		return models.ActiveOrder{}, ErrNoActiveOrder
	}
	if s.verifying {
		return models.ActiveOrder{}, ErrVerificationInFlight
	}
	if transitions[s.order.Status] != to {
		return models.ActiveOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.order.Status, to)
	}
	s.order.Status = to
	return *s.order, nil
}

// emitNotify publishes the new status outbound and informs the
// orchestrator. A dropped emission while disconnected leaves the local
// state optimistically advanced (reconciliation is the backend's call).
func (s *StateMachine) emitNotify(o models.ActiveOrder, emit bool) {
	if emit && s.emitter != nil {
		if err := s.emitter.Emit(models.EventStatusUpdate, models.StatusUpdatePayload{OrderID: o.OrderID, Status: o.Status}); err != nil {
			s.log.Warn("status emission dropped", "order_id", o.OrderID, "status", string(o.Status), "error", err)
		}
		observability.TransitionsTotal.WithLabelValues(string(o.Status)).Inc()
		s.log.Info("status advanced", "order_id", o.OrderID, "status", string(o.Status))
	}
	if s.notify != nil {
		s.notify(o)
	}
}

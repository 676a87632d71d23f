package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/offer"
	"github.com/example/rider-dispatch/internal/socket"
)

// Socket is the slice of the connection channel the orchestrator needs;
// tests inject synthetic streams through it.
type Socket interface {
	Emit(event string, payload any) error
	Observe(event string) (<-chan json.RawMessage, func())
	ObserveState() (<-chan socket.State, func())
}

// OrderFetcher loads full order details once an offer is accepted.
// REST collaborator; the offer payload alone is not enough to deliver.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.ActiveOrder, error)
}

type EventKind int

const (
	// EventCompleted fires when an order reaches DELIVERED and the
	// rider returns to idle.
	EventCompleted EventKind = iota
	// EventCancelled fires when the backend cancels the active order.
	// Distinct from completion.
	EventCancelled
	// EventConnectionLost fires when reconnect attempts are exhausted.
	// Recoverable: the UI shows a banner, nothing crashes.
	EventConnectionLost
)

type Event struct {
	Kind    EventKind
	OrderID string
}

// Orchestrator composes gate, state machine and tracker around the
// single active order and publishes DerivedDeliveryState to the UI.
type Orchestrator struct {
	sock     Socket
	gate     *offer.Gate
	sm       *StateMachine
	tracker  *Tracker
	fetcher  OrderFetcher
	speedMps float64
	log      *slog.Logger

	mu     sync.Mutex
	latest *models.LocationSample

	subMu  sync.RWMutex
	subs   []chan models.DerivedDeliveryState
	events chan Event
}

func NewOrchestrator(sock Socket, gate *offer.Gate, sm *StateMachine, tracker *Tracker, fetcher OrderFetcher, speedMps float64, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		sock:     sock,
		gate:     gate,
		sm:       sm,
		tracker:  tracker,
		fetcher:  fetcher,
		speedMps: speedMps,
		log:      logger,
		events:   make(chan Event, 8),
	}
	sm.SetNotify(o.onTransition)
	tracker.SetOnSample(o.onSample)
	return o
}

// Run wires the inbound event streams and blocks until ctx cancels.
func (o *Orchestrator) Run(ctx context.Context) {
	newOrders, cancelNew := o.sock.Observe(models.EventNewOrder)
	cancels, cancelCancels := o.sock.Observe(models.EventOrderCancelled)
	updates, cancelUpdates := o.sock.Observe(models.EventOrderUpdated)
	custLocs, cancelCust := o.sock.Observe(models.EventCustomerLocation)
	states, cancelStates := o.sock.ObserveState()
	defer cancelNew()
	defer cancelCancels()
	defer cancelUpdates()
	defer cancelCust()
	defer cancelStates()

	gateOffers := make(chan models.NewOrderPayload, 8)
	gateCancels := make(chan models.OrderCancelledPayload, 8)
	go o.gate.Run(ctx, gateOffers, gateCancels)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-newOrders:
			if !ok {
				return
			}
			var p models.NewOrderPayload
			if err := json.Unmarshal(raw, &p); err != nil || p.OrderID == "" {
				o.log.Warn("dropping malformed new_order", "error", err)
				continue
			}
			select {
			case gateOffers <- p:
			default:
				o.log.Warn("gate inbox full, dropping offer", "order_id", p.OrderID)
			}
		case raw, ok := <-cancels:
			if !ok {
				return
			}
			var p models.OrderCancelledPayload
			if err := json.Unmarshal(raw, &p); err != nil || p.OrderID == "" {
				continue
			}
			// both the outstanding offer and the active order may match
			select {
			case gateCancels <- p:
			default:
			}
			o.handleCancelled(p.OrderID)
		case raw, ok := <-updates:
			if !ok {
				return
			}
			var p models.OrderUpdatedPayload
			if err := json.Unmarshal(raw, &p); err != nil || p.OrderID == "" {
				continue
			}
			if order, ok := o.sm.Current(); !ok || order.OrderID != p.OrderID {
				continue
			}
			// the payload is only a nudge; the snapshot comes over REST
			go o.refreshOrder(ctx, p.OrderID)
		case raw, ok := <-custLocs:
			if !ok {
				return
			}
			var p models.CustomerLocationPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
			o.sm.UpdateCustomerLocation(p.Lat, p.Lon)
		case st, ok := <-states:
			if !ok {
				return
			}
			if st == socket.StateDisconnected {
				o.log.Warn("connection lost for good, surfacing banner")
				o.signal(Event{Kind: EventConnectionLost})
			}
		}
	}
}

// AcceptOffer is the UI accept command: emit the decision, fetch full
// details, and materialize the active order. The single-active-order
// invariant is enforced here, not by screen routing.
func (o *Orchestrator) AcceptOffer(ctx context.Context) error {
	if _, busy := o.sm.Current(); busy {
		return ErrOrderInProgress
	}
	orderID, err := o.gate.Accept()
	if err != nil {
		return err
	}
	order, err := o.fetcher.FetchOrder(ctx, orderID)
	if err != nil {
		// decision already emitted; without details the rider stays
		// idle and the backend will re-dispatch
		o.log.Error("order detail fetch failed after accept", "order_id", orderID, "error", err)
		return err
	}
	if err := o.sm.Begin(order); err != nil {
		return err
	}
	o.gate.SetBusy(true)
	return nil
}

// RejectOffer is the UI reject command.
func (o *Orchestrator) RejectOffer(reason string) error {
	return o.gate.Reject(reason)
}

func (o *Orchestrator) ArrivedAtRestaurant() error { return o.sm.ArriveAtRestaurant() }

func (o *Orchestrator) PickUpWithOtp(ctx context.Context, code string) error {
	return o.sm.PickUp(ctx, code)
}

func (o *Orchestrator) StartDelivery() error { return o.sm.StartDelivery() }

func (o *Orchestrator) CompleteWithOtp(ctx context.Context, code string) error {
	return o.sm.Complete(ctx, code)
}

// State recomputes the current derived state on demand.
func (o *Orchestrator) State() models.DerivedDeliveryState {
	return o.derive()
}

// Observe streams derived state recomputed on every location tick and
// status change.
func (o *Orchestrator) Observe() (<-chan models.DerivedDeliveryState, func()) {
	ch := make(chan models.DerivedDeliveryState, 16)
	o.subMu.Lock()
	o.subs = append(o.subs, ch)
	o.subMu.Unlock()
	cancel := func() {
		o.subMu.Lock()
		for i, s := range o.subs {
			if s == ch {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				break
			}
		}
		o.subMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Events exposes completion/cancellation/connection signals.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) onSample(s models.LocationSample) {
	o.mu.Lock()
	o.latest = &s
	o.mu.Unlock()
	o.publish()
}

func (o *Orchestrator) onTransition(order models.ActiveOrder) {
	o.publish()
	if order.Status == models.StatusDelivered {
		o.sm.Clear()
		o.gate.SetBusy(false)
		o.log.Info("delivery completed", "order_id", order.OrderID)
		o.signal(Event{Kind: EventCompleted, OrderID: order.OrderID})
		o.publish()
	}
}

func (o *Orchestrator) refreshOrder(ctx context.Context, orderID string) {
	order, err := o.fetcher.FetchOrder(ctx, orderID)
	if err != nil {
		o.log.Warn("order refresh failed", "order_id", orderID, "error", err)
		return
	}
	o.sm.Refresh(order)
}

func (o *Orchestrator) handleCancelled(orderID string) {
	order, ok := o.sm.CancelExternal(orderID)
	if !ok {
		return
	}
	o.gate.SetBusy(false)
	o.signal(Event{Kind: EventCancelled, OrderID: order.OrderID})
	o.publish()
}

func (o *Orchestrator) derive() models.DerivedDeliveryState {
	var orderPtr *models.ActiveOrder
	if order, ok := o.sm.Current(); ok {
		orderPtr = &order
	}
	o.mu.Lock()
	sample := o.latest
	o.mu.Unlock()
	return Derive(orderPtr, sample, o.speedMps)
}

func (o *Orchestrator) publish() {
	d := o.derive()
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	for _, ch := range o.subs {
		select {
		case ch <- d:
		default:
		}
	}
}

func (o *Orchestrator) signal(e Event) {
	select {
	case o.events <- e:
	default:
		o.log.Warn("event channel full, dropping signal", "kind", int(e.Kind))
	}
}

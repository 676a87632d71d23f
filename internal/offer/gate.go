// Package offer turns inbound new-order events into time-boxed
// decisions under a hard countdown.
package offer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
)

// ErrNoOffer is returned by Accept/Reject when no offer is outstanding
// (never materialized, already decided, or expired).
var ErrNoOffer = errors.New("offer: no outstanding offer")

// RejectReasonTimeout marks the implicit auto-reject on countdown expiry.
const RejectReasonTimeout = "timeout"

// Emitter is the outbound half of the connection channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// Snapshot is the gate state published to observers. Offer is nil while
// the rider is idle.
type Snapshot struct {
	Offer            *models.OrderOffer
	RemainingSeconds int
}

// Gate tracks at most one outstanding OrderOffer and enforces its
// expiry. The countdown is owned here, not by any UI lifecycle, so
// expiry fires correctly even with no screen attached.
type Gate struct {
	emitter Emitter
	log     *slog.Logger
	ttl     time.Duration
	tick    time.Duration

	busy atomic.Bool // an active order exists; refuse new offers

	mu        sync.Mutex
	offer     *models.OrderOffer
	remaining int
	stop      chan struct{}

	subMu sync.RWMutex
	subs  []chan Snapshot
}

// NewGate builds a gate with the given offer lifetime. tick controls
// countdown granularity and defaults to one second.
func NewGate(emitter Emitter, ttl, tick time.Duration, logger *slog.Logger) *Gate {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{emitter: emitter, log: logger, ttl: ttl, tick: tick}
}

// SetBusy flips offer eligibility. While busy (an active order exists)
// inbound offers are ignored, enforcing the single-active-order
// invariant at this boundary rather than by navigation flow.
func (g *Gate) SetBusy(b bool) { g.busy.Store(b) }

func (g *Gate) Busy() bool { return g.busy.Load() }

// Run consumes the inbound event streams until ctx is cancelled. The
// streams are injected so the gate can be driven synthetically in tests.
func (g *Gate) Run(ctx context.Context, offers <-chan models.NewOrderPayload, cancelled <-chan models.OrderCancelledPayload) {
	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.clearLocked()
			g.mu.Unlock()
			return
		case p, ok := <-offers:
			if !ok {
				return
			}
			g.handleOffer(p)
		case p, ok := <-cancelled:
			if !ok {
				return
			}
			g.handleCancelled(p.OrderID)
		}
	}
}

func (g *Gate) handleOffer(p models.NewOrderPayload) {
	g.mu.Lock()
	if g.offer != nil || g.busy.Load() {
		g.mu.Unlock()
		g.log.Info("ignoring offer, rider not idle", "order_id", p.OrderID)
		return
	}
	o := p.Offer(time.Now())
	g.offer = &o
	g.remaining = int(g.ttl / g.tick)
	g.stop = make(chan struct{})
	stop := g.stop
	g.mu.Unlock()

	observability.OffersReceived.Inc()
	g.log.Info("offer received", "order_id", p.OrderID, "distance_km", p.DistanceKm, "fee", p.DeliveryFee)
	g.publish()
	go g.countdown(p.OrderID, stop)
}

// handleCancelled discards a matching outstanding offer without
// emitting a reject; the backend already knows.
func (g *Gate) handleCancelled(orderID string) {
	g.mu.Lock()
	if g.offer == nil || g.offer.OrderID != orderID {
		g.mu.Unlock()
		return
	}
	g.clearLocked()
	g.mu.Unlock()
	g.log.Info("offer withdrawn by backend", "order_id", orderID)
	g.publish()
}

func (g *Gate) countdown(orderID string, stop chan struct{}) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			if g.offer == nil || g.offer.OrderID != orderID {
				g.mu.Unlock()
				return
			}
			g.remaining--
			expired := g.remaining <= 0
			if expired {
				// implicit reject: a designed path, not an error
				_ = g.emitter.Emit(models.EventRejectOrder, models.RejectOrderPayload{OrderID: orderID, Reason: RejectReasonTimeout})
				g.clearLocked()
			}
			g.mu.Unlock()
			g.publish()
			if expired {
				observability.OffersExpired.Inc()
				g.log.Info("offer expired", "order_id", orderID)
				return
			}
		}
	}
}

// Accept emits accept_order and hands the order id back so the
// orchestrator can materialize the ActiveOrder. While disconnected the
// emission fails and the offer stays live for an explicit retry.
func (g *Gate) Accept() (string, error) {
	g.mu.Lock()
	if g.offer == nil {
		g.mu.Unlock()
		return "", ErrNoOffer
	}
	id := g.offer.OrderID
	if err := g.emitter.Emit(models.EventAcceptOrder, models.AcceptOrderPayload{OrderID: id}); err != nil {
		g.mu.Unlock()
		return "", err
	}
	g.clearLocked()
	g.mu.Unlock()
	observability.OffersAccepted.Inc()
	g.publish()
	return id, nil
}

// Reject emits reject_order with an optional reason and discards the
// offer.
func (g *Gate) Reject(reason string) error {
	g.mu.Lock()
	if g.offer == nil {
		g.mu.Unlock()
		return ErrNoOffer
	}
	id := g.offer.OrderID
	if err := g.emitter.Emit(models.EventRejectOrder, models.RejectOrderPayload{OrderID: id, Reason: reason}); err != nil {
		g.mu.Unlock()
		return err
	}
	g.clearLocked()
	g.mu.Unlock()
	observability.OffersRejected.Inc()
	g.publish()
	return nil
}

// Snapshot returns the current offer state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Updates streams snapshots on every offer change and countdown tick.
func (g *Gate) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	g.subMu.Lock()
	g.subs = append(g.subs, ch)
	g.subMu.Unlock()
	cancel := func() {
		g.subMu.Lock()
		for i, s := range g.subs {
			if s == ch {
				g.subs = append(g.subs[:i], g.subs[i+1:]...)
				break
			}
		}
		g.subMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (g *Gate) snapshotLocked() Snapshot {
	if g.offer == nil {
		return Snapshot{}
	}
	o := *g.offer
	return Snapshot{Offer: &o, RemainingSeconds: g.remaining}
}

// caller holds g.mu
func (g *Gate) clearLocked() {
	g.offer = nil
	g.remaining = 0
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Gate) publish() {
	snap := g.Snapshot()
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	for _, ch := range g.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

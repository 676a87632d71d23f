package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/offer"
	"github.com/example/rider-dispatch/internal/socket"
)

// fakeSocket extends the recording emitter with synthetic inbound
// streams so the orchestrator can be driven without a server.
type fakeSocket struct {
	fakeEmitter
	streamMu sync.Mutex
	streams  map[string]chan json.RawMessage
	states   chan socket.State
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		streams: make(map[string]chan json.RawMessage),
		states:  make(chan socket.State, 4),
	}
}

func (f *fakeSocket) Observe(event string) (<-chan json.RawMessage, func()) {
	f.streamMu.Lock()
	defer f.streamMu.Unlock()
	ch, ok := f.streams[event]
	if !ok {
		ch = make(chan json.RawMessage, 8)
		f.streams[event] = ch
	}
	return ch, func() {}
}

func (f *fakeSocket) ObserveState() (<-chan socket.State, func()) {
	return f.states, func() {}
}

func (f *fakeSocket) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.streamMu.Lock()
	ch, ok := f.streams[event]
	f.streamMu.Unlock()
	if !ok {
		t.Fatalf("nothing subscribed to %s", event)
	}
	ch <- raw
}

type fakeFetcher struct {
	orders map[string]models.ActiveOrder
	err    error
}

func (f *fakeFetcher) FetchOrder(ctx context.Context, orderID string) (models.ActiveOrder, error) {
	if f.err != nil {
		return models.ActiveOrder{}, f.err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return models.ActiveOrder{}, ErrNoActiveOrder
	}
	return o, nil
}

type harness struct {
	sock     *fakeSocket
	fetcher  *fakeFetcher
	verifier *fakeVerifier
	gate     *offer.Gate
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sock:     newFakeSocket(),
		fetcher:  &fakeFetcher{orders: map[string]models.ActiveOrder{"o1": testOrder()}},
		verifier: &fakeVerifier{pickupCode: "1111", deliveryCode: "2222"},
	}
	h.gate = offer.NewGate(h.sock, 5*time.Second, 50*time.Millisecond, nil)
	sm := NewStateMachine(h.verifier, h.sock, nil)
	tracker := NewTracker(h.sock, nil)
	h.orch = NewOrchestrator(h.sock, h.gate, sm, tracker, h.fetcher, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.orch.Run(ctx)

	// wait until the event streams are subscribed
	waitFor(t, time.Second, func() bool {
		h.sock.streamMu.Lock()
		defer h.sock.streamMu.Unlock()
		return len(h.sock.streams) >= 3
	})
	return h
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func (h *harness) offerAndAccept(t *testing.T) {
	t.Helper()
	h.sock.push(t, models.EventNewOrder, models.NewOrderPayload{OrderID: "o1", DistanceKm: 2.1})
	waitFor(t, time.Second, func() bool { return h.gate.Snapshot().Offer != nil })
	if err := h.orch.AcceptOffer(context.Background()); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
}

func TestAcceptOfferMaterializesActiveOrder(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)

	st := h.orch.State()
	if st.OrderID != "o1" || st.Status != models.StatusAccepted {
		t.Fatalf("expected active o1/ACCEPTED, got %+v", st)
	}
	if st.NextAction != ActionArriveAtRestaurant {
		t.Fatalf("expected arrive action, got %s", st.NextAction)
	}
	if !h.gate.Busy() {
		t.Fatal("gate must be busy while an order is active")
	}
	if got := h.sock.byEvent(models.EventAcceptOrder); len(got) != 1 {
		t.Fatalf("expected one accept emission, got %d", len(got))
	}

	// a second offer arriving mid-delivery is refused
	h.sock.push(t, models.EventNewOrder, models.NewOrderPayload{OrderID: "o2"})
	time.Sleep(100 * time.Millisecond)
	if h.gate.Snapshot().Offer != nil {
		t.Fatal("offer accepted while an order is active")
	}
	if err := h.orch.AcceptOffer(context.Background()); err != ErrOrderInProgress {
		t.Fatalf("expected ErrOrderInProgress, got %v", err)
	}
}

func TestDeliveredReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)
	ctx := context.Background()

	if err := h.orch.ArrivedAtRestaurant(); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := h.orch.PickUpWithOtp(ctx, "1111"); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := h.orch.StartDelivery(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.CompleteWithOtp(ctx, "2222"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	select {
	case ev := <-h.orch.Events():
		if ev.Kind != EventCompleted || ev.OrderID != "o1" {
			t.Fatalf("expected completion for o1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
	if st := h.orch.State(); st.OrderID != "" || st.NextAction != ActionNone {
		t.Fatalf("expected idle state, got %+v", st)
	}
	if h.gate.Busy() {
		t.Fatal("gate must be eligible again after delivery")
	}
}

func TestBackendCancelClearsActiveOrder(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)

	h.sock.push(t, models.EventOrderCancelled, models.OrderCancelledPayload{OrderID: "o1", Reason: "restaurant closed"})

	select {
	case ev := <-h.orch.Events():
		if ev.Kind != EventCancelled || ev.OrderID != "o1" {
			t.Fatalf("expected cancellation for o1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no cancellation event")
	}
	if st := h.orch.State(); st.OrderID != "" {
		t.Fatalf("expected idle state, got %+v", st)
	}
	if h.gate.Busy() {
		t.Fatal("gate must be eligible again after cancellation")
	}
}

func TestCancelForUnknownOrderIgnored(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)

	h.sock.push(t, models.EventOrderCancelled, models.OrderCancelledPayload{OrderID: "someone-elses"})
	time.Sleep(100 * time.Millisecond)

	if st := h.orch.State(); st.OrderID != "o1" {
		t.Fatalf("active order must survive an unrelated cancel, got %+v", st)
	}
	select {
	case ev := <-h.orch.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestConnectionLostSurfaces(t *testing.T) {
	h := newHarness(t)
	h.sock.states <- socket.StateDisconnected

	select {
	case ev := <-h.orch.Events():
		if ev.Kind != EventConnectionLost {
			t.Fatalf("expected connection-lost, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no connection-lost event")
	}
}

func TestCustomerLocationRefreshesDropoff(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)

	h.sock.push(t, models.EventCustomerLocation, models.CustomerLocationPayload{CustomerID: "c1", Lat: 51.55, Lon: -0.09})
	waitFor(t, time.Second, func() bool {
		o, ok := h.orch.sm.Current()
		return ok && o.CustomerLoc.Lat == 51.55 && o.CustomerLoc.Lon == -0.09
	})
}

func TestOrderUpdatedRefetchesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.offerAndAccept(t)

	refreshed := testOrder()
	refreshed.CustomerName = "Sam"
	refreshed.CustomerLoc = models.Coord{Lat: 51.60, Lon: -0.05}
	h.fetcher.orders["o1"] = refreshed

	h.sock.push(t, models.EventOrderUpdated, models.OrderUpdatedPayload{OrderID: "o1"})
	waitFor(t, time.Second, func() bool {
		o, ok := h.orch.sm.Current()
		return ok && o.CustomerName == "Sam" && o.CustomerLoc.Lat == 51.60
	})
	// the refresh never touches the locally owned status
	if o, _ := h.orch.sm.Current(); o.Status != models.StatusAccepted {
		t.Fatalf("refresh must not change status, got %s", o.Status)
	}
}

func TestMalformedOfferDropped(t *testing.T) {
	h := newHarness(t)

	h.sock.push(t, models.EventNewOrder, map[string]any{"unexpected": true})
	time.Sleep(100 * time.Millisecond)
	if h.gate.Snapshot().Offer != nil {
		t.Fatal("payload without an order id must be dropped")
	}
}

package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/rider-dispatch/internal/models"
)

type call struct {
	name    string
	riderID string
	orderID string
	reason  string
	status  models.OrderStatus
	online  bool
	sample  models.LocationSample
}

type recordingInbound struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingInbound) RiderJoined(riderID string) {
	r.add(call{name: "joined", riderID: riderID})
}

func (r *recordingInbound) RiderOnline(riderID string, online bool) {
	r.add(call{name: "online", riderID: riderID, online: online})
}

func (r *recordingInbound) RiderLocation(riderID string, s models.LocationSample) {
	r.add(call{name: "location", riderID: riderID, sample: s})
}

func (r *recordingInbound) OrderAccepted(riderID, orderID string) {
	r.add(call{name: "accepted", riderID: riderID, orderID: orderID})
}

func (r *recordingInbound) OrderRejected(riderID, orderID, reason string) {
	r.add(call{name: "rejected", riderID: riderID, orderID: orderID, reason: reason})
}

func (r *recordingInbound) OrderStatus(riderID, orderID string, status models.OrderStatus) {
	r.add(call{name: "status", riderID: riderID, orderID: orderID, status: status})
}

func (r *recordingInbound) add(c call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recordingInbound) byName(name string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func startRegistry(t *testing.T) (*Registry, *recordingInbound, *httptest.Server) {
	t.Helper()
	in := &recordingInbound{}
	reg := NewRegistry(in, nil)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go reg.HandleConn(conn)
	}))
	t.Cleanup(ts.Close)
	return reg, in, ts
}

func dialRider(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(models.Frame{Event: event, Data: data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func join(t *testing.T, conn *websocket.Conn, riderID string) {
	t.Helper()
	sendFrame(t, conn, models.EventJoinRiderRoom, models.JoinRoomPayload{RiderID: riderID})
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

func TestJoinCreatesRoom(t *testing.T) {
	reg, in, ts := startRegistry(t)
	conn := dialRider(t, ts)

	join(t, conn, "r1")
	waitFor(t, time.Second, func() bool { return reg.Connected("r1") })
	if got := in.byName("joined"); len(got) != 1 || got[0].riderID != "r1" {
		t.Fatalf("expected one join for r1, got %+v", got)
	}

	// room delivery reaches the rider
	if err := reg.Send("r1", models.EventNewOrder, models.NewOrderPayload{OrderID: "o1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var f models.Frame
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("rider read: %v", err)
	}
	if f.Event != models.EventNewOrder {
		t.Fatalf("expected new_order, got %s", f.Event)
	}
}

func TestSendWithoutSession(t *testing.T) {
	reg, _, _ := startRegistry(t)
	if err := reg.Send("ghost", models.EventNewOrder, nil); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFirstFrameMustBeJoin(t *testing.T) {
	reg, in, ts := startRegistry(t)
	conn := dialRider(t, ts)

	sendFrame(t, conn, models.EventGoOnline, struct{}{})

	// the server closes the connection instead of creating a session
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if reg.Connected("r1") {
		t.Fatal("no session may exist without a join")
	}
	if got := in.byName("joined"); len(got) != 0 {
		t.Fatalf("unexpected joins %+v", got)
	}
}

func TestInboundEventRouting(t *testing.T) {
	_, in, ts := startRegistry(t)
	conn := dialRider(t, ts)
	join(t, conn, "r1")

	sendFrame(t, conn, models.EventGoOnline, struct{}{})
	sendFrame(t, conn, models.EventLocationUpdate, models.LocationSample{Lat: 51.5, Lon: -0.12, Speed: 5, Timestamp: time.Now()})
	sendFrame(t, conn, models.EventAcceptOrder, models.AcceptOrderPayload{OrderID: "o1"})
	sendFrame(t, conn, models.EventStatusUpdate, models.StatusUpdatePayload{OrderID: "o1", Status: models.StatusArrivedAtRestaurant})
	sendFrame(t, conn, models.EventRejectOrder, models.RejectOrderPayload{OrderID: "o2", Reason: "too far"})

	waitFor(t, time.Second, func() bool { return len(in.byName("rejected")) == 1 })

	if got := in.byName("online"); len(got) != 1 || !got[0].online {
		t.Fatalf("expected online=true, got %+v", got)
	}
	if got := in.byName("location"); len(got) != 1 || got[0].sample.Lat != 51.5 {
		t.Fatalf("unexpected location calls %+v", got)
	}
	if got := in.byName("accepted"); len(got) != 1 || got[0].orderID != "o1" {
		t.Fatalf("unexpected accept calls %+v", got)
	}
	if got := in.byName("status"); len(got) != 1 || got[0].status != models.StatusArrivedAtRestaurant {
		t.Fatalf("unexpected status calls %+v", got)
	}
	if got := in.byName("rejected"); got[0].reason != "too far" {
		t.Fatalf("unexpected reject calls %+v", got)
	}
}

func TestInvalidLocationDropped(t *testing.T) {
	_, in, ts := startRegistry(t)
	conn := dialRider(t, ts)
	join(t, conn, "r1")

	sendFrame(t, conn, models.EventLocationUpdate, models.LocationSample{Lat: 123, Lon: 0, Timestamp: time.Now()})
	sendFrame(t, conn, models.EventGoOnline, struct{}{}) // marker to order the assertion

	waitFor(t, time.Second, func() bool { return len(in.byName("online")) == 1 })
	if got := in.byName("location"); len(got) != 0 {
		t.Fatalf("invalid sample must be dropped, got %+v", got)
	}
}

func TestRejoinReplacesOldSession(t *testing.T) {
	reg, _, ts := startRegistry(t)
	first := dialRider(t, ts)
	join(t, first, "r1")
	waitFor(t, time.Second, func() bool { return reg.Connected("r1") })

	second := dialRider(t, ts)
	join(t, second, "r1")

	// the old transport is closed server-side
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// the room now points at the new connection
	waitFor(t, time.Second, func() bool { return reg.Connected("r1") })
	if err := reg.Send("r1", models.EventNewOrder, models.NewOrderPayload{OrderID: "o1"}); err != nil {
		t.Fatalf("send after rejoin: %v", err)
	}
	var f models.Frame
	second.SetReadDeadline(time.Now().Add(time.Second))
	if err := second.ReadJSON(&f); err != nil {
		t.Fatalf("second conn read: %v", err)
	}
	if f.Event != models.EventNewOrder {
		t.Fatalf("expected new_order on the new session, got %s", f.Event)
	}
}

func TestDisconnectMarksOffline(t *testing.T) {
	reg, in, ts := startRegistry(t)
	conn := dialRider(t, ts)
	join(t, conn, "r1")
	waitFor(t, time.Second, func() bool { return reg.Connected("r1") })

	conn.Close()
	waitFor(t, time.Second, func() bool { return !reg.Connected("r1") })
	waitFor(t, time.Second, func() bool {
		calls := in.byName("online")
		return len(calls) == 1 && !calls[0].online
	})
}

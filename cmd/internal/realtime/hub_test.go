package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestHub(t *testing.T) (*Hub, *Metrics) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMetrics(prometheus.NewRegistry())
	return NewHub(log, m), m
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_JoinAcksAndRejectsEmptyUser(t *testing.T) {
	h, _ := newTestHub(t)
	c := NewClient("s1", 8)

	if !h.Join(c, "42") {
		t.Fatalf("expected join to succeed")
	}
	got := drain(c)
	if len(got) != 1 || got[0].Type != v1.TypeRegisterUserConfirmed {
		t.Fatalf("expected one register-user-confirmed, got %+v", got)
	}
	var ack v1.RegisterUserConfirmedPayload
	if err := json.Unmarshal(got[0].Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "ok" || ack.UserID != "42" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	if h.Join(c, "  ") {
		t.Fatalf("expected empty user id to be rejected")
	}
	got = drain(c)
	if len(got) != 1 {
		t.Fatalf("expected one error ack, got %d", len(got))
	}
	if err := json.Unmarshal(got[0].Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "error" || ack.Message != "Invalid userId" {
		t.Fatalf("unexpected error ack: %+v", ack)
	}
	if h.RoomSize("42") != 1 || h.Rooms() != 1 {
		t.Fatalf("expected exactly one room with one member")
	}
}

func TestHub_PublishReachesEveryConnectionOfUser(t *testing.T) {
	h, m := newTestHub(t)
	a1 := NewClient("a1", 8)
	a2 := NewClient("a2", 8)
	b := NewClient("b", 8)
	h.Join(a1, "1")
	h.Join(a2, "1")
	h.Join(b, "2")
	drain(a1)
	drain(a2)
	drain(b)

	n := h.Publish("1", v1.NotificationType("1"), v1.NotificationPayload{Type: "message", Message: "hi"})
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	for _, c := range []*Client{a1, a2} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != "notification:1" {
			t.Fatalf("session %s: unexpected events %+v", c.SessionID, got)
		}
	}
	if got := drain(b); len(got) != 0 {
		t.Fatalf("user 2 must not receive user 1 events, got %+v", got)
	}

	if v := counterValue(t, m.delivered.WithLabelValues("notification")); v != 2 {
		t.Fatalf("expected delivered=2, got %v", v)
	}
	if h.Publish("nobody", v1.TypeUserUpdate, struct{}{}) != 0 {
		t.Fatalf("publishing to an empty room must be a no-op")
	}
}

func TestHub_PublishDropsOnFullQueue(t *testing.T) {
	h, m := newTestHub(t)
	c := NewClient("slow", 1)
	h.Join(c, "7") // ack fills the single slot

	if n := h.Publish("7", v1.TypeUserUpdate, map[string]string{"x": "y"}); n != 0 {
		t.Fatalf("expected drop, got %d deliveries", n)
	}
	if v := counterValue(t, m.dropped.WithLabelValues(v1.TypeUserUpdate)); v != 1 {
		t.Fatalf("expected dropped=1, got %v", v)
	}
}

func TestHub_PublishPreservesOrder(t *testing.T) {
	h, _ := newTestHub(t)
	c := NewClient("s", 16)
	h.Join(c, "5")
	drain(c)

	for i := 0; i < 5; i++ {
		h.Publish("5", v1.TypeUserUpdate, map[string]int{"n": i})
	}
	got := drain(c)
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, env := range got {
		var p map[string]int
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p["n"] != i {
			t.Fatalf("event %d out of order: %v", i, p)
		}
	}
}

func TestHub_LeaveRemovesMembershipAndClosesClient(t *testing.T) {
	h, _ := newTestHub(t)
	c := NewClient("s", 8)
	h.Join(c, "1")
	h.Join(c, "2")

	h.Leave(c)
	if h.Rooms() != 0 {
		t.Fatalf("expected no rooms after leave, got %d", h.Rooms())
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected client to be closed")
	}
	if h.Publish("1", v1.TypeUserUpdate, struct{}{}) != 0 {
		t.Fatalf("expected no delivery after leave")
	}
	h.Leave(c)
}

func TestHub_ConcurrentJoinLeavePublish(t *testing.T) {
	h, _ := newTestHub(t)
	rooms := []string{"1", "2", "3"}

	stop := make(chan struct{})
	var publishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func(i int) {
			defer publishers.Done()
			for n := 0; ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				h.Publish(rooms[(i+n)%len(rooms)], v1.TypeUserUpdate, map[string]int{"n": n})
			}
		}(i)
	}

	type departed struct {
		c      *Client
		queued int
	}
	const workers, rounds = 8, 50
	results := make(chan departed, workers*rounds)

	var members sync.WaitGroup
	for w := 0; w < workers; w++ {
		members.Add(1)
		go func(w int) {
			defer members.Done()
			for r := 0; r < rounds; r++ {
				c := NewClient(fmt.Sprintf("w%d-r%d", w, r), 512)
				h.Join(c, rooms[w%len(rooms)])
				h.Join(c, rooms[(w+r)%len(rooms)])
				runtime.Gosched()
				h.Leave(c)
				results <- departed{c: c, queued: len(c.Send)}
			}
		}(w)
	}
	members.Wait()

	// Keep publishing after every Leave so a late delivery would land in a queue.
	for i := 0; i < 200; i++ {
		for _, room := range rooms {
			h.Publish(room, v1.TypeUserUpdate, map[string]int{"late": i})
		}
	}
	close(stop)
	publishers.Wait()
	close(results)

	for d := range results {
		if got := len(d.c.Send); got != d.queued {
			t.Fatalf("%s received %d events after Leave", d.c.SessionID, got-d.queued)
		}
	}
	if h.Rooms() != 0 {
		t.Fatalf("expected no rooms after every client left, got %d", h.Rooms())
	}
}

func TestHub_RelayPublishesToBothRoomsAndAcks(t *testing.T) {
	h, _ := newTestHub(t)
	origin := NewClient("origin", 8)
	from := NewClient("from", 8)
	to := NewClient("to", 8)
	h.Join(from, "10")
	h.Join(to, "20")
	drain(from)
	drain(to)

	data := json.RawMessage(`{"fromUserId":10,"toUserId":"20","type":"open-messenger-popout","conversationId":"c1"}`)
	n, err := h.Relay(origin, data)
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	for _, c := range []*Client{from, to} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != v1.TypeUserUpdate {
			t.Fatalf("session %s: unexpected events %+v", c.SessionID, got)
		}
		if !json.Valid(got[0].Payload) {
			t.Fatalf("relayed payload must be valid JSON")
		}
	}

	acks := drain(origin)
	if len(acks) != 1 || acks[0].Type != v1.TypeUserUpdateConfirmed {
		t.Fatalf("expected user-update-confirmed ack, got %+v", acks)
	}
	var ack v1.UserUpdateConfirmedPayload
	if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "ok" || len(ack.Data) == 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestHub_RelaySameUserPublishesOnce(t *testing.T) {
	h, _ := newTestHub(t)
	c := NewClient("self", 8)
	h.Join(c, "3")
	drain(c)

	n, err := h.Relay(c, json.RawMessage(`{"fromUserId":"3","toUserId":"3"}`))
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
}

func TestHub_RelayRejectsNonObject(t *testing.T) {
	h, _ := newTestHub(t)
	if _, err := h.Relay(NewClient("x", 4), json.RawMessage(`"nope"`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

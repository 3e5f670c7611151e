package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"
)

// RoomName is the name of the room holding every connection of userID.
func RoomName(userID string) string { return "user:" + userID }

// Hub keeps per-user rooms of live connections and fans events out to them.
//
// Concurrency guarantees:
// - Join, Leave and Publish are each atomic with respect to membership.
// - Publish never blocks: a full client queue drops the event for that client only.
// - Events published to a room reach each client in publish order (one FIFO queue per client).
//
// The Hub is constructed explicitly and injected; there is no package-level instance.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics
	nowFn   func() time.Time

	mu     sync.RWMutex
	rooms  map[string]map[string]*Client // user id -> session id -> client
	joined map[string]map[string]struct{} // session id -> user ids
}

// NewHub constructs a Hub. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		nowFn:   func() time.Time { return time.Now().UTC() },
		rooms:   make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds client to the room of userID and enqueues register-user-confirmed.
// An empty userID is rejected with an error-status ack. Joining twice is a no-op apart from the ack.
func (h *Hub) Join(client *Client, userID string) bool {
	if client == nil || client.SessionID == "" {
		return false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		h.send(client, v1.TypeRegisterUserConfirmed, v1.RegisterUserConfirmedPayload{
			Status:  "error",
			Message: "Invalid userId",
		})
		h.log.Info("hub.join.reject", "session_id", client.SessionID, "reason", "invalid_user_id")
		return false
	}

	h.mu.Lock()
	members := h.rooms[userID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[userID] = members
	}
	members[client.SessionID] = client

	set := h.joined[client.SessionID]
	if set == nil {
		set = make(map[string]struct{})
		h.joined[client.SessionID] = set
	}
	set[userID] = struct{}{}
	h.metrics.setSizes(len(h.joined), len(h.rooms))
	h.mu.Unlock()

	h.log.Info("hub.join", "room", RoomName(userID), "session_id", client.SessionID)

	h.send(client, v1.TypeRegisterUserConfirmed, v1.RegisterUserConfirmedPayload{
		UserID: userID,
		Status: "ok",
	})
	return true
}

// Leave removes client from every room it joined, then signals it to stop.
func (h *Hub) Leave(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	rooms := h.joined[client.SessionID]
	delete(h.joined, client.SessionID)
	for userID := range rooms {
		members := h.rooms[userID]
		delete(members, client.SessionID)
		if len(members) == 0 {
			delete(h.rooms, userID)
		}
	}
	h.metrics.setSizes(len(h.joined), len(h.rooms))
	h.mu.Unlock()

	// Membership is removed before Close so no broadcaster picks up a closing client.
	client.Close()

	if len(rooms) > 0 {
		h.log.Info("hub.leave", "session_id", client.SessionID, "rooms", len(rooms))
	}
}

// Publish sends event with payload to every connection in the room of userID.
// It returns how many connections accepted the event. An empty room is a no-op.
func (h *Hub) Publish(userID, event string, payload any) int {
	userID = strings.TrimSpace(userID)
	if userID == "" || event == "" {
		return 0
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("hub.publish.encode_fail", "event", event, "err", err)
		return 0
	}
	env := newEnvelope(event, raw, h.nowFn())

	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[userID]
	if len(members) == 0 {
		return 0
	}

	delivered, dropped := 0, 0
	for _, c := range members {
		if c.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	h.metrics.observeDelivery(event, delivered, dropped)

	if dropped > 0 {
		h.log.Warn("hub.publish.drop", "room", RoomName(userID), "event", event, "dropped", dropped)
	}
	return delivered
}

// Relay re-broadcasts a client's user-update to the fromUserId and toUserId rooms
// (once per distinct room), then acks the origin with user-update-confirmed.
func (h *Hub) Relay(origin *Client, data json.RawMessage) (int, error) {
	var addr v1.UserUpdateAddressing
	if err := json.Unmarshal(data, &addr); err != nil {
		return 0, err
	}

	delivered := 0
	targets := []string{addr.FromUserID.String(), addr.ToUserID.String()}
	for i, uid := range targets {
		if uid == "" || (i == 1 && uid == targets[0]) {
			continue
		}
		delivered += h.Publish(uid, v1.TypeUserUpdate, data)
	}

	h.send(origin, v1.TypeUserUpdateConfirmed, v1.UserUpdateConfirmedPayload{
		Status: "ok",
		Data:   data,
	})
	return delivered, nil
}

// RoomSize returns the number of live connections of userID.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Rooms returns the number of non-empty rooms.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// send enqueues a direct (non-room) event to one client.
func (h *Hub) send(client *Client, event string, payload any) bool {
	if client == nil {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	ok := client.offer(newEnvelope(event, raw, h.nowFn()))
	if !ok {
		h.metrics.observeDelivery(event, 0, 1)
	}
	return ok
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

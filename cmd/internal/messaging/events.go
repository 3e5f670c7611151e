package messaging

import (
	"messenger/cmd/internal/eventbus"
	v1 "messenger/shared/contracts/realtime/v1"
)

// Event is one realtime publish the transport should perform after a successful operation.
type Event struct {
	Room    string // user id
	Name    string
	Payload any
}

// Outcome is everything an operation wants dispatched after it returns.
type Outcome struct {
	Events  []Event
	Created *eventbus.MessageCreated
}

// popoutEvents emits, per distinct recipient, one popout to the recipient's room and one to the
// sender's room. When the sender is itself a recipient its room gets that popout once.
func popoutEvents(conversationID, senderID string, recipients []string) []Event {
	out := make([]Event, 0, 2*len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, popout(r, conversationID, senderID, r))
		if r != senderID {
			out = append(out, popout(senderID, conversationID, senderID, r))
		}
	}
	return out
}

func popout(room, conversationID, from, to string) Event {
	return Event{
		Room: room,
		Name: v1.TypeUserUpdate,
		Payload: v1.PopoutPayload{
			Type:           v1.PopoutType,
			ConversationID: conversationID,
			FromUserID:     from,
			ToUserID:       to,
			ShowPopout:     true,
		},
	}
}

package messaging

import (
	"context"
	"log/slog"
	"time"

	"messenger/cmd/internal/eventbus"
)

// Publisher delivers one event to the live connections of a user. realtime.Hub implements it.
type Publisher interface {
	Publish(userID, event string, payload any) int
}

// Announcer forwards integration events. eventbus.Writer implements it.
type Announcer interface {
	PublishMessageCreated(ctx context.Context, ev eventbus.MessageCreated) error
}

// Dispatcher performs an Outcome's side effects. Delivery is best effort: failures are
// logged and never returned to the caller.
type Dispatcher struct {
	hub     Publisher
	bus     Announcer
	log     *slog.Logger
	timeout time.Duration
}

// NewDispatcher constructs a Dispatcher. hub and bus may be nil.
func NewDispatcher(log *slog.Logger, hub Publisher, bus Announcer) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{hub: hub, bus: bus, log: log, timeout: 2 * time.Second}
}

// Dispatch publishes out's events in order, then announces its integration event.
// It does not inherit cancellation from ctx: a finished request must not cut delivery short.
func (d *Dispatcher) Dispatch(ctx context.Context, out Outcome) {
	if d == nil {
		return
	}
	d.publish(out.Events)

	if out.Created == nil || d.bus == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.bus.PublishMessageCreated(bctx, *out.Created); err != nil {
		d.log.Warn("dispatch.bus.fail", "conversation_id", out.Created.ConversationID, "message_id", out.Created.MessageID, "err", err)
	}
}

func (d *Dispatcher) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	if d.hub == nil {
		d.log.Debug("dispatch.hub.absent", "events", len(events))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch.hub.panic", "panic", r)
		}
	}()

	delivered := 0
	for _, ev := range events {
		delivered += d.hub.Publish(ev.Room, ev.Name, ev.Payload)
	}
	d.log.Debug("dispatch.hub", "events", len(events), "delivered", delivered)
}

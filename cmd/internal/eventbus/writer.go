package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer publishes MessageCreated events, keyed by conversation id so one
// conversation stays on one partition.
type Writer struct {
	w   *kafka.Writer
	log *slog.Logger
}

// NewWriter builds an async writer. brokers is a comma-separated list.
func NewWriter(brokers, topic string, log *slog.Logger) *Writer {
	if topic == "" {
		topic = TopicMessageCreated
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{log: log}
	w.w = &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				w.log.Warn("eventbus.write.fail", "topic", topic, "messages", len(msgs), "err", err)
			}
		},
	}
	return w
}

// PublishMessageCreated enqueues ev. With an async writer, broker errors are reported to the log.
func (w *Writer) PublishMessageCreated(ctx context.Context, ev MessageCreated) error {
	msg, err := encodeMessageCreated(ev)
	if err != nil {
		return err
	}
	return w.w.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (w *Writer) Close() error { return w.w.Close() }

func encodeMessageCreated(ev MessageCreated) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: b,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("message.created")},
		},
	}, nil
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

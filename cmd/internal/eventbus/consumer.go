package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// NotificationHandler handles one decoded notification.
type NotificationHandler func(ctx context.Context, n Notification) error

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the notifications topic in a consumer group.
type Consumer struct {
	reader  fetcher
	handle  NotificationHandler
	log     *slog.Logger
	backoff time.Duration
}

// NewConsumer joins groupID on topic. brokers is a comma-separated list.
func NewConsumer(brokers, groupID, topic string, h NotificationHandler, log *slog.Logger) *Consumer {
	if topic == "" {
		topic = TopicNotifications
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        splitBrokers(brokers),
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	})
	return newConsumer(r, h, log)
}

func newConsumer(r fetcher, h NotificationHandler, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{reader: r, handle: h, log: log, backoff: time.Second}
}

// Run consumes until ctx is done. Undecodable or failing messages are logged and committed
// so one poisoned record cannot stall the group.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() { _ = c.reader.Close() }()

	c.log.Info("eventbus.consumer.start")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("eventbus.consumer.stop")
				return nil
			}
			c.log.Warn("eventbus.fetch.fail", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.dispatch(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("eventbus.commit.fail", "topic", m.Topic, "offset", m.Offset, "err", err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, m kafka.Message) {
	n, err := DecodeNotification(m.Value)
	if err != nil {
		c.log.Warn("eventbus.decode.fail", "topic", m.Topic, "offset", m.Offset, "err", err)
		return
	}
	if c.handle == nil {
		return
	}
	if err := c.handle(ctx, n); err != nil {
		c.log.Warn("eventbus.handle.fail", "topic", m.Topic, "offset", m.Offset, "user_id", n.UserID, "err", err)
	}
}

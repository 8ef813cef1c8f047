// Package kafka publishes notifications and activity events to Kafka
// topics. A mail worker consumes the notification topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/activitymap"
)

const (
	DefaultNotificationTopic = "identity.notifications"
	DefaultActivityTopic     = "identity.activity"
)

// MessageWriter is the subset of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer that waits for all replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// Envelope wraps every published payload.
type Envelope struct {
	EventType  string          `json:"event_type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Notifier renders notifications and publishes them for delivery.
type Notifier struct {
	writer   MessageWriter
	topic    string
	renderer *auth.NotificationRenderer
	now      func() time.Time
}

var _ auth.Notifier = (*Notifier)(nil)

// NewNotifier publishes to topic. With a nil renderer the raw
// notification intent is published instead of the rendered message.
func NewNotifier(writer MessageWriter, topic string, renderer *auth.NotificationRenderer) *Notifier {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	return &Notifier{writer: writer, topic: topic, renderer: renderer, now: time.Now}
}

func (n *Notifier) Notify(ctx context.Context, notification auth.Notification) error {
	var payload any = notification
	if n.renderer != nil {
		rendered, err := n.renderer.Render(notification)
		if err != nil {
			return err
		}
		payload = rendered
	}

	msg, err := message(n.topic, string(notification.Template), notification.Recipient, n.now().UTC(), payload)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish notification").
			WithMetadata(map[string]any{"topic": n.topic, "template": string(notification.Template)})
	}
	return nil
}

// ActivitySink publishes normalized activity records keyed by account.
type ActivitySink struct {
	writer MessageWriter
	topic  string
	opts   []activitymap.Option
}

var _ auth.ActivitySink = (*ActivitySink)(nil)

func NewActivitySink(writer MessageWriter, topic string, opts ...activitymap.Option) *ActivitySink {
	if topic == "" {
		topic = DefaultActivityTopic
	}
	return &ActivitySink{writer: writer, topic: topic, opts: opts}
}

func (s *ActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	record := activitymap.Normalize(event, s.opts...)

	msg, err := message(s.topic, record.Verb, record.ObjectID, record.OccurredAt, record)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish activity").
			WithMetadata(map[string]any{"topic": s.topic, "event_type": record.Verb})
	}
	return nil
}

func message(topic, eventType, key string, at time.Time, payload any) (kafka.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode payload")
	}
	body, err := json.Marshal(Envelope{
		EventType:  eventType,
		Key:        key,
		OccurredAt: at,
		Payload:    raw,
	})
	if err != nil {
		return kafka.Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode envelope")
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}, nil
}

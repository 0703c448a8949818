// README: Booking lifecycle events published to Kafka, or to the log when no brokers are configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ridehail/internal/modules/booking"
)

const DefaultTopic = "booking.events"

// Envelope is the JSON value of every message on the topic.
type Envelope struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	BookingID  string    `json:"booking_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorRole  string    `json:"actor_role"`
	ActorID    string    `json:"actor_id,omitempty"`
	DriverID   string    `json:"driver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func TypeOf(to booking.Status) string {
	return "booking." + string(to)
}

// Encode keys messages by booking ID so one booking's events stay in one partition, in order.
func Encode(e booking.Event) (kafka.Message, error) {
	env := Envelope{
		EventID:    string(e.ID),
		Type:       TypeOf(e.ToStatus),
		BookingID:  string(e.BookingID),
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorRole:  string(e.ActorRole),
		Reason:     e.Reason,
		OccurredAt: e.CreatedAt,
	}
	if e.ActorID != nil {
		env.ActorID = string(*e.ActorID)
	}
	if e.DriverID != nil {
		env.DriverID = string(*e.DriverID)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.BookingID),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
		},
	}, nil
}

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher writes asynchronously; delivery failures are logged by the completion hook.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e booking.Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e booking.Event) error {
	p.log.Debug("booking event",
		zap.String("type", TypeOf(e.ToStatus)),
		zap.String("booking_id", string(e.BookingID)),
		zap.String("from", string(e.FromStatus)),
		zap.String("actor_role", string(e.ActorRole)))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

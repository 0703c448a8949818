//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"ridehail/internal/modules/booking"
	"ridehail/internal/types"
)

func TestIntegrationKafkaPublisher(t *testing.T) {
	ctx := context.Background()
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	})
	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: DefaultTopic, NumPartitions: 1, ReplicationFactor: 1}))
	_ = conn.Close()

	pub := NewKafkaPublisher(brokers, DefaultTopic, nil)
	driver := types.ID("d1")
	require.NoError(t, pub.Publish(ctx, booking.Event{
		ID:         "e1",
		BookingID:  "b1",
		FromStatus: booking.StatusRequested,
		ToStatus:   booking.StatusAccepted,
		ActorRole:  booking.RoleDriver,
		ActorID:    &driver,
		CreatedAt:  time.Now().UTC(),
	}))
	require.NoError(t, pub.Close())

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: DefaultTopic, Partition: 0, MinBytes: 1, MaxBytes: 1 << 20})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	require.Equal(t, "booking.accepted", env.Type)
	require.Equal(t, "b1", string(msg.Key))
}

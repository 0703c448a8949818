package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestFromViper_Defaults(t *testing.T) {
	t.Setenv("RIDEHAIL_AUTH_JWT_SECRET", testSecret)

	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, 50, cfg.Feed.DefaultLimit)
	assert.Equal(t, 100, cfg.Feed.MaxLimit)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "booking.events", cfg.Kafka.Topic)
	assert.False(t, cfg.Notify.FCM)
}

func TestFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("RIDEHAIL_AUTH_JWT_SECRET", testSecret)
	t.Setenv("RIDEHAIL_HTTP_ADDR", ":9090")
	t.Setenv("RIDEHAIL_STORE_DRIVER", "Mongo")
	t.Setenv("RIDEHAIL_STORE_TIMEOUT", "750ms")
	t.Setenv("RIDEHAIL_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("RIDEHAIL_FEED_DEFAULT_LIMIT", "20")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 20, cfg.Feed.DefaultLimit)
}

func TestFromViper_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short jwt secret", map[string]string{"RIDEHAIL_AUTH_JWT_SECRET": "short"}},
		{"firebase without project", map[string]string{"RIDEHAIL_AUTH_MODE": "firebase"}},
		{"unknown store", map[string]string{"RIDEHAIL_AUTH_JWT_SECRET": testSecret, "RIDEHAIL_STORE_DRIVER": "sqlite"}},
		{"bad feed limits", map[string]string{"RIDEHAIL_AUTH_JWT_SECRET": testSecret, "RIDEHAIL_FEED_MAX_LIMIT": "10"}},
		{"fcm without project", map[string]string{"RIDEHAIL_AUTH_JWT_SECRET": testSecret, "RIDEHAIL_NOTIFY_FCM": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromViper(newViper())
			assert.Error(t, err)
		})
	}
}

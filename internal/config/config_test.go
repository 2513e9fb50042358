package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

var relayEnv = []string{
	"API_HOST", "API_PORT", "STATIC_INDEX",
	"KAFKA_BOOTSTRAP_SERVERS", "KAFKA_TOPICS", "KAFKA_GROUP_ID", "KAFKA_START_OFFSET", "KAFKA_DIAL_TIMEOUT",
	"RELAY_SEND_TIMEOUT", "RELAY_SEND_BUFFER", "RELAY_WRITE_TIMEOUT", "RELAY_FANOUT_CONCURRENCY",
	"RELAY_SUBSCRIBE_TIMEOUT", "RELAY_SHUTDOWN_GRACE", "RELAY_UPSTREAM_LOSS_POLICY",
	"RELAY_RECONNECT_BACKOFF", "RELAY_RECONNECT_MAX_BACKOFF", "RELAY_NOTIFY_SUBSCRIBE_FAILURE",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_DIR",
}

// clearEnv blanks every variable so envDefault applies.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Address())
	assert.Equal(t, "index.html", cfg.Server.StaticIndex)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"mesh.global.events", "mesh.responses.pending"}, cfg.Kafka.Topics)
	assert.Equal(t, "kafka-reader", cfg.Kafka.GroupID)
	assert.Equal(t, "latest", cfg.Kafka.StartOffset)
	assert.Equal(t, 10*time.Second, cfg.Kafka.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.Relay.SendTimeout)
	assert.Equal(t, 16, cfg.Relay.SendBuffer)
	assert.Equal(t, 64, cfg.Relay.FanoutConcurrency)
	assert.Equal(t, domain.PolicyReconnect, cfg.Relay.Policy())
	assert.False(t, cfg.Relay.NotifySubscribeFailure)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9000")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", " kafka-1:9092 , ,kafka-2:9092")
	t.Setenv("KAFKA_TOPICS", "a, b ,a,,c")
	t.Setenv("KAFKA_START_OFFSET", " Earliest ")
	t.Setenv("RELAY_UPSTREAM_LOSS_POLICY", "Shutdown")
	t.Setenv("RELAY_SEND_TIMEOUT", "250ms")
	t.Setenv("RELAY_NOTIFY_SUBSCRIBE_FAILURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Kafka.Topics)
	assert.Equal(t, "earliest", cfg.Kafka.StartOffset)
	assert.Equal(t, domain.PolicyShutdown, cfg.Relay.Policy())
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.SendTimeout)
	assert.True(t, cfg.Relay.NotifySubscribeFailure)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"illegal topic":     {"KAFKA_TOPICS": "good,bad topic"},
		"unknown offset":    {"KAFKA_START_OFFSET": "middle"},
		"unknown policy":    {"RELAY_UPSTREAM_LOSS_POLICY": "retry"},
		"unparsable":        {"RELAY_SEND_TIMEOUT": "soon"},
		"negative timeout":  {"RELAY_SEND_TIMEOUT": "-1s"},
		"zero buffer":       {"RELAY_SEND_BUFFER": "0"},
		"zero concurrency":  {"RELAY_FANOUT_CONCURRENCY": "0"},
		"backoff inversion": {"RELAY_RECONNECT_BACKOFF": "10s", "RELAY_RECONNECT_MAX_BACKOFF": "1s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range vars {
				t.Setenv(key, value)
			}
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, fragment := range []string{"KAFKA_BOOTSTRAP_SERVERS", "KAFKA_START_OFFSET", "API_PORT", "RELAY_UPSTREAM_LOSS_POLICY", "RELAY_SEND_TIMEOUT"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

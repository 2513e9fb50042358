package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server  ServerConfig
	Kafka   KafkaConfig
	Relay   RelayConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host        string `env:"API_HOST" envDefault:"0.0.0.0"`
	Port        string `env:"API_PORT" envDefault:"8000"`
	StaticIndex string `env:"STATIC_INDEX" envDefault:"index.html"`
}

// Address is the listen address for the HTTP server.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}

type KafkaConfig struct {
	Brokers     []string      `env:"KAFKA_BOOTSTRAP_SERVERS" envSeparator:"," envDefault:"localhost:19092"`
	Topics      []string      `env:"KAFKA_TOPICS" envSeparator:"," envDefault:"mesh.global.events,mesh.responses.pending"`
	GroupID     string        `env:"KAFKA_GROUP_ID" envDefault:"kafka-reader"`
	StartOffset string        `env:"KAFKA_START_OFFSET" envDefault:"latest"`
	DialTimeout time.Duration `env:"KAFKA_DIAL_TIMEOUT" envDefault:"10s"`
}

type RelayConfig struct {
	SendTimeout            time.Duration `env:"RELAY_SEND_TIMEOUT" envDefault:"5s"`
	SendBuffer             int           `env:"RELAY_SEND_BUFFER" envDefault:"16"`
	WriteTimeout           time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"10s"`
	FanoutConcurrency      int           `env:"RELAY_FANOUT_CONCURRENCY" envDefault:"64"`
	SubscribeTimeout       time.Duration `env:"RELAY_SUBSCRIBE_TIMEOUT" envDefault:"10s"`
	ShutdownGrace          time.Duration `env:"RELAY_SHUTDOWN_GRACE" envDefault:"5s"`
	UpstreamLossPolicy     string        `env:"RELAY_UPSTREAM_LOSS_POLICY" envDefault:"reconnect"`
	ReconnectBackoff       time.Duration `env:"RELAY_RECONNECT_BACKOFF" envDefault:"1s"`
	MaxReconnectBackoff    time.Duration `env:"RELAY_RECONNECT_MAX_BACKOFF" envDefault:"30s"`
	NotifySubscribeFailure bool          `env:"RELAY_NOTIFY_SUBSCRIBE_FAILURE" envDefault:"false"`
}

// Policy returns the validated upstream loss policy.
func (r RelayConfig) Policy() domain.UpstreamLossPolicy {
	policy, err := domain.ParseUpstreamLossPolicy(r.UpstreamLossPolicy)
	if err != nil {
		return domain.PolicyReconnect
	}
	return policy
}

type LoggingConfig struct {
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	Format    string `env:"LOG_FORMAT" envDefault:"text"`
	Directory string `env:"LOG_DIR" envDefault:"./logs"`
}

// Load parses the process environment. Callers load .env files beforehand.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Kafka.Brokers = cleanList(c.Kafka.Brokers)
	c.Kafka.Topics = domain.NormalizeTopics(c.Kafka.Topics)
	c.Kafka.StartOffset = strings.ToLower(strings.TrimSpace(c.Kafka.StartOffset))
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BOOTSTRAP_SERVERS is empty"))
	}
	for _, topic := range c.Kafka.Topics {
		if err := domain.ValidateTopic(topic); err != nil {
			errs = append(errs, fmt.Errorf("KAFKA_TOPICS: %w", err))
		}
	}
	switch c.Kafka.StartOffset {
	case "latest", "earliest":
	default:
		errs = append(errs, fmt.Errorf("KAFKA_START_OFFSET %q must be latest or earliest", c.Kafka.StartOffset))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("API_PORT is empty"))
	}
	if _, err := domain.ParseUpstreamLossPolicy(c.Relay.UpstreamLossPolicy); err != nil {
		errs = append(errs, fmt.Errorf("RELAY_UPSTREAM_LOSS_POLICY: %w", err))
	}
	if c.Relay.SendTimeout <= 0 {
		errs = append(errs, errors.New("RELAY_SEND_TIMEOUT must be positive"))
	}
	if c.Relay.SendBuffer <= 0 {
		errs = append(errs, errors.New("RELAY_SEND_BUFFER must be positive"))
	}
	if c.Relay.FanoutConcurrency <= 0 {
		errs = append(errs, errors.New("RELAY_FANOUT_CONCURRENCY must be positive"))
	}
	if c.Relay.MaxReconnectBackoff < c.Relay.ReconnectBackoff {
		errs = append(errs, errors.New("RELAY_RECONNECT_MAX_BACKOFF is below RELAY_RECONNECT_BACKOFF"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func cleanList(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

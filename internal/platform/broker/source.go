package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/shared/logging"
)

// SourceConfig describes how to reach the Kafka cluster.
type SourceConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset string
	DialTimeout time.Duration
}

// KafkaSource opens one consumer-group reader per topic.
type KafkaSource struct {
	cfg    SourceConfig
	dialer *kafka.Dialer
}

var _ port.Source = (*KafkaSource)(nil)

func NewKafkaSource(cfg SourceConfig) *KafkaSource {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &KafkaSource{
		cfg:    cfg,
		dialer: &kafka.Dialer{Timeout: cfg.DialTimeout},
	}
}

func (s *KafkaSource) Address() string {
	return strings.Join(s.cfg.Brokers, ",")
}

// Ping succeeds once any bootstrap broker returns cluster metadata.
func (s *KafkaSource) Ping(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	brokers, err := conn.Brokers()
	if err != nil {
		return fmt.Errorf("%w: read metadata: %v", port.ErrBrokerUnreachable, err)
	}
	slog.Info("kafka cluster reachable", slog.String("bootstrap", s.Address()), slog.Int("brokers", len(brokers)))
	return nil
}

// Subscribe checks that topic exists before starting a reader, so typos and
// unknown topics fail here instead of hanging in the first read.
func (s *KafkaSource) Subscribe(ctx context.Context, topic string) (port.Feed, error) {
	if err := domain.ValidateTopic(topic); err != nil {
		return nil, err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	partitions, err := conn.ReadPartitions(topic)
	_ = conn.Close()
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) || errors.Is(err, kafka.InvalidTopic) {
			return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTopic, topic, err)
		}
		return nil, fmt.Errorf("read partitions for %q: %w", topic, err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("%w: %q has no partitions", domain.ErrInvalidTopic, topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     s.cfg.GroupID,
		Topic:       topic,
		StartOffset: startOffset(s.cfg.StartOffset),
		Dialer:      s.dialer,
		Logger:      kafka.LoggerFunc(logging.Printf(slog.LevelDebug, "kafka-reader")),
		ErrorLogger: kafka.LoggerFunc(logging.Printf(slog.LevelWarn, "kafka-reader")),
	})
	slog.Info("kafka reader opened", slog.String("topic", topic), slog.Int("partitions", len(partitions)), slog.String("group", s.cfg.GroupID))
	return &kafkaFeed{topic: topic, reader: reader}, nil
}

// dial returns a connection to the first bootstrap broker that answers.
func (s *KafkaSource) dial(ctx context.Context) (*kafka.Conn, error) {
	if len(s.cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no bootstrap servers configured", port.ErrBrokerUnreachable)
	}
	var lastErr error
	for _, addr := range s.cfg.Brokers {
		conn, err := s.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Debug("kafka dial failed", slog.String("broker", addr), slog.Any("error", err))
	}
	return nil, fmt.Errorf("%w: %v", port.ErrBrokerUnreachable, lastErr)
}

func startOffset(raw string) int64 {
	if strings.EqualFold(strings.TrimSpace(raw), "earliest") {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
)

// kafkaFeed is one consumer-group reader bound to a single topic.
type kafkaFeed struct {
	topic  string
	reader *kafka.Reader
}

var _ port.Feed = (*kafkaFeed)(nil)

// Next returns the next decoded payload. Context errors pass through untouched;
// anything else means the reader can no longer reach the cluster.
func (f *kafkaFeed) Next(ctx context.Context) (any, error) {
	m, err := f.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", port.ErrUpstreamLost, f.topic, err)
	}
	slog.Debug("kafka message consumed",
		slog.String("topic", m.Topic),
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
		slog.Int("bytes", len(m.Value)),
	)
	return decodePayload(m.Value), nil
}

func (f *kafkaFeed) Close() error {
	return f.reader.Close()
}

// decodePayload keeps JSON values structured and relays anything else as text.
// Numbers stay json.Number so large ids survive the round trip unchanged.
func decodePayload(value []byte) any {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) {
		return string(value)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return string(value)
	}
	return payload
}

package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
)

// FanoutConfig bounds one delivery round.
type FanoutConfig struct {
	SendTimeout time.Duration
	Concurrency int
}

// DeliveryReport summarises one Deliver call.
type DeliveryReport struct {
	Recipients int
	Failed     int
}

// FanoutRelay delivers envelopes to every registered client. Clients whose send
// fails or times out are removed after the round; delivery to the rest goes on.
type FanoutRelay struct {
	registry port.ClientRegistry
	cfg      FanoutConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

var _ port.Publisher = (*FanoutRelay)(nil)

func NewFanoutRelay(registry port.ClientRegistry, cfg FanoutConfig, m *metrics.Metrics) *FanoutRelay {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	return &FanoutRelay{registry: registry, cfg: cfg, metrics: m, now: time.Now}
}

// Publish stamps a payload from topic and fans it out. Feeds call it sequentially
// per topic, and Deliver returns only after the round, so per-topic order holds.
func (r *FanoutRelay) Publish(ctx context.Context, topic string, payload any) {
	envelope := domain.NewDataEnvelope(topic, payload, r.now())
	report := r.Deliver(ctx, envelope)
	r.metrics.EnvelopeRelayed(topic)
	slog.Debug("kafka message relayed",
		slog.String("topic", topic),
		slog.Int("recipients", report.Recipients),
		slog.Int("failed", report.Failed),
		slog.Any("data", payload),
	)
}

// Deliver sends envelope to a snapshot of the registry. It never returns an error:
// failures only shrink the registry.
func (r *FanoutRelay) Deliver(ctx context.Context, envelope domain.Envelope) DeliveryReport {
	started := time.Now()
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("fanout marshal error", slog.String("topic", envelope.Topic()), slog.Any("error", err))
		return DeliveryReport{}
	}

	clients := r.registry.Snapshot()
	if len(clients) == 0 {
		return DeliveryReport{}
	}

	var (
		mu     sync.Mutex
		failed []port.Conn
	)
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, client := range clients {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
			defer cancel()
			if err := client.Send(sendCtx, data); err != nil {
				slog.Warn("fanout send failed", slog.String("clientId", client.ID()), slog.Any("error", err))
				mu.Lock()
				failed = append(failed, client)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		r.registry.UnregisterAll(failed)
		for _, client := range failed {
			_ = client.Close()
		}
		r.metrics.SendFailed(len(failed))
	}
	r.metrics.ObserveDelivery(time.Since(started).Seconds())
	return DeliveryReport{Recipients: len(clients), Failed: len(failed)}
}

// SendTo delivers a system envelope to one client only, with the same timeout
// that bounds broadcast sends.
func (r *FanoutRelay) SendTo(ctx context.Context, client port.Conn, envelope domain.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	return client.Send(sendCtx, data)
}

// SystemEnvelope builds a system notice stamped with the relay clock.
func (r *FanoutRelay) SystemEnvelope(message string) domain.Envelope {
	return domain.NewSystemEnvelope(message, r.now())
}

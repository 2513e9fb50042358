package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
)

var errManagerClosed = errors.New("topic manager closed")

// TopicManagerConfig controls feed recovery.
type TopicManagerConfig struct {
	Policy              domain.UpstreamLossPolicy
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	// OnFatal runs when a feed fails under PolicyShutdown.
	OnFatal func(topic string, err error)
}

type subscription struct {
	topic     string
	state     domain.TopicState
	startedAt time.Time
	payloads  atomic.Uint64
}

// TopicManager owns one upstream feed per topic. Ensure serialises the
// check-and-open on startMu so concurrent requests for a new topic open it once;
// mu only guards the presence map for readers.
type TopicManager struct {
	source    port.Source
	publisher port.Publisher
	cfg       TopicManagerConfig
	metrics   *metrics.Metrics

	startMu sync.Mutex
	closed  bool

	mu   sync.RWMutex
	subs map[string]*subscription

	feedsOpened atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ port.TopicEnsurer = (*TopicManager)(nil)

func NewTopicManager(source port.Source, publisher port.Publisher, cfg TopicManagerConfig, m *metrics.Metrics) *TopicManager {
	if cfg.Policy == "" {
		cfg.Policy = domain.PolicyReconnect
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.MaxReconnectBackoff < cfg.ReconnectBackoff {
		cfg.MaxReconnectBackoff = cfg.ReconnectBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TopicManager{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		subs:      make(map[string]*subscription),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start verifies the broker is reachable, then subscribes the initial topics.
// An unreachable broker is fatal; a single topic failing is not.
func (m *TopicManager) Start(ctx context.Context, topics []string) error {
	if err := m.source.Ping(ctx); err != nil {
		if errors.Is(err, port.ErrBrokerUnreachable) {
			return err
		}
		return fmt.Errorf("%w: %v", port.ErrBrokerUnreachable, err)
	}
	for _, topic := range domain.NormalizeTopics(topics) {
		result, err := m.Ensure(ctx, topic)
		if err != nil {
			slog.Warn("initial topic subscribe failed", slog.String("topic", topic), slog.Any("error", err))
			continue
		}
		slog.Info("initial topic subscribed", slog.String("topic", topic), slog.String("result", result.String()))
	}
	return nil
}

// Ensure opens a feed for topic unless one is already active.
func (m *TopicManager) Ensure(ctx context.Context, topic string) (port.EnsureResult, error) {
	topic = strings.TrimSpace(topic)
	if err := domain.ValidateTopic(topic); err != nil {
		return port.AlreadyActive, fmt.Errorf("%w: %w", port.ErrSubscribeFailed, err)
	}
	if m.isActive(topic) {
		return port.AlreadyActive, nil
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.closed {
		return port.AlreadyActive, fmt.Errorf("%w: %w", port.ErrSubscribeFailed, errManagerClosed)
	}
	if m.isActive(topic) {
		return port.AlreadyActive, nil
	}

	feed, err := m.source.Subscribe(ctx, topic)
	if err != nil {
		return port.AlreadyActive, fmt.Errorf("%w: %s: %w", port.ErrSubscribeFailed, topic, err)
	}

	sub := &subscription{topic: topic, state: domain.TopicActive, startedAt: time.Now().UTC()}
	m.mu.Lock()
	m.subs[topic] = sub
	m.mu.Unlock()
	m.feedOpened()
	m.refreshGauges()

	m.wg.Add(1)
	go m.run(sub, feed)

	slog.Info("kafka topic subscribed", slog.String("topic", topic))
	return port.Started, nil
}

func (m *TopicManager) isActive(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subs[topic]
	return ok
}

// run pumps one topic until the manager closes, applying the loss policy when
// the feed fails.
func (m *TopicManager) run(sub *subscription, feed port.Feed) {
	defer m.wg.Done()
	for {
		err := m.pump(sub, feed)
		_ = feed.Close()
		if m.ctx.Err() != nil {
			return
		}

		m.metrics.FeedFailed(sub.topic)
		m.setState(sub, domain.TopicDegraded)
		slog.Warn("kafka feed lost", slog.String("topic", sub.topic), slog.String("policy", string(m.cfg.Policy)), slog.Any("error", err))

		if m.cfg.Policy == domain.PolicyShutdown {
			if m.cfg.OnFatal != nil {
				m.cfg.OnFatal(sub.topic, err)
			}
			return
		}

		feed = m.resubscribe(sub.topic)
		if feed == nil {
			return
		}
		m.setState(sub, domain.TopicActive)
		slog.Info("kafka feed recovered", slog.String("topic", sub.topic))
	}
}

func (m *TopicManager) pump(sub *subscription, feed port.Feed) error {
	for {
		payload, err := feed.Next(m.ctx)
		if err != nil {
			return err
		}
		sub.payloads.Add(1)
		m.publisher.Publish(m.ctx, sub.topic, payload)
	}
}

// resubscribe retries with exponential backoff; nil means the manager closed.
func (m *TopicManager) resubscribe(topic string) port.Feed {
	delay := m.cfg.ReconnectBackoff
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-timer.C:
		}

		feed, err := m.source.Subscribe(m.ctx, topic)
		if err == nil {
			m.feedOpened()
			return feed
		}
		if m.ctx.Err() != nil {
			return nil
		}
		slog.Warn("kafka resubscribe failed", slog.String("topic", topic), slog.Duration("retryIn", delay), slog.Any("error", err))

		delay *= 2
		if delay > m.cfg.MaxReconnectBackoff {
			delay = m.cfg.MaxReconnectBackoff
		}
		timer.Reset(delay)
	}
}

func (m *TopicManager) setState(sub *subscription, state domain.TopicState) {
	m.mu.Lock()
	sub.state = state
	m.mu.Unlock()
	m.refreshGauges()
}

func (m *TopicManager) feedOpened() {
	m.feedsOpened.Add(1)
	m.metrics.FeedOpened()
}

func (m *TopicManager) refreshGauges() {
	active, degraded := 0, 0
	m.mu.RLock()
	for _, sub := range m.subs {
		if sub.state == domain.TopicDegraded {
			degraded++
		} else {
			active++
		}
	}
	m.mu.RUnlock()
	m.metrics.SetTopics(active, degraded)
}

// Topics lists every monitored topic, degraded ones included, sorted by name.
func (m *TopicManager) Topics() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		out = append(out, topic)
	}
	m.mu.RUnlock()
	return domain.SortTopics(out)
}

// DegradedTopics lists topics currently waiting for a new feed.
func (m *TopicManager) DegradedTopics() []string {
	m.mu.RLock()
	out := make([]string, 0)
	for topic, sub := range m.subs {
		if sub.state == domain.TopicDegraded {
			out = append(out, topic)
		}
	}
	m.mu.RUnlock()
	return domain.SortTopics(out)
}

// Status returns a copy of every topic's state.
func (m *TopicManager) Status() []domain.TopicStatus {
	m.mu.RLock()
	out := make([]domain.TopicStatus, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, domain.TopicStatus{
			Topic:     sub.topic,
			State:     sub.state,
			StartedAt: sub.startedAt,
			Payloads:  sub.payloads.Load(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// FeedCount reports how many upstream feeds were opened, reconnects included.
func (m *TopicManager) FeedCount() int64 {
	return m.feedsOpened.Load()
}

// Close stops every feed and waits for the feed goroutines until ctx ends.
func (m *TopicManager) Close(ctx context.Context) error {
	m.startMu.Lock()
	m.closed = true
	m.startMu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("kafka feeds stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

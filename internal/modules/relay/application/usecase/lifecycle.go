package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
)

// ConnState is a stage of a client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SessionConfig holds the per-connection protocol options.
type SessionConfig struct {
	// NotifySubscribeFailure sends a system notice when a subscribe request fails.
	NotifySubscribeFailure bool
	SubscribeTimeout       time.Duration
}

// Session is the lifecycle of one connection.
type Session struct {
	conn  port.Conn
	state atomic.Int32
}

func (s *Session) transition(to ConnState) {
	from := ConnState(s.state.Swap(int32(to)))
	slog.Debug("ws session state", slog.String("clientId", s.conn.ID()), slog.String("from", from.String()), slog.String("to", to.String()))
}

// Sessions runs connection lifecycles and drains them on shutdown.
type Sessions struct {
	registry port.ClientRegistry
	topics   port.TopicEnsurer
	relay    *FanoutRelay
	cfg      SessionConfig
	metrics  *metrics.Metrics

	// mu orders wg.Add in Serve against wg.Wait in Shutdown.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	live    atomic.Int64
}

func NewSessions(registry port.ClientRegistry, topics port.TopicEnsurer, relay *FanoutRelay, cfg SessionConfig, m *metrics.Metrics) *Sessions {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	return &Sessions{registry: registry, topics: topics, relay: relay, cfg: cfg, metrics: m}
}

// Serve drives conn from Open to Closed and blocks until the client leaves, a
// read fails or ctx is cancelled. The connection is always unregistered and
// closed on return. Normal closes return nil.
func (s *Sessions) Serve(ctx context.Context, conn port.Conn) error {
	sess := &Session{conn: conn}
	if !s.enter() {
		_ = conn.Close()
		sess.transition(StateClosed)
		return nil
	}
	defer s.wg.Done()
	defer s.live.Add(-1)

	if ctx.Err() != nil {
		_ = conn.Close()
		sess.transition(StateClosed)
		return nil
	}

	s.registry.Register(conn)
	sess.transition(StateOpen)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.teardown(sess)

	if err := s.relay.SendTo(ctx, conn, s.relay.SystemEnvelope(domain.WelcomeMessage)); err != nil {
		slog.Warn("ws welcome failed", slog.String("clientId", conn.ID()), slog.Any("error", err))
		return err
	}

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		topic, ok := domain.ParseSubscribe(raw)
		if !ok {
			slog.Debug("ws control message ignored", slog.String("clientId", conn.ID()), slog.Int("bytes", len(raw)))
			continue
		}
		s.subscribe(ctx, conn, topic)
	}
}

// enter admits a new lifecycle unless Shutdown has started.
func (s *Sessions) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	s.live.Add(1)
	return true
}

func (s *Sessions) subscribe(ctx context.Context, conn port.Conn, topic string) {
	ensureCtx, cancel := context.WithTimeout(ctx, s.cfg.SubscribeTimeout)
	result, err := s.topics.Ensure(ensureCtx, topic)
	cancel()

	if err != nil {
		s.metrics.SubscribeRequest("failed")
		slog.Warn("ws subscribe failed", slog.String("clientId", conn.ID()), slog.String("topic", topic), slog.Any("error", err))
		if s.cfg.NotifySubscribeFailure {
			s.reply(ctx, conn, domain.SubscribeFailedMessage(topic))
		}
		return
	}

	s.metrics.SubscribeRequest(result.String())
	slog.Info("ws subscribe", slog.String("clientId", conn.ID()), slog.String("topic", topic), slog.String("result", result.String()))
	if result == port.Started {
		s.reply(ctx, conn, domain.SubscribedMessage(topic))
		return
	}
	s.reply(ctx, conn, domain.AlreadySubscribedMessage(topic))
}

func (s *Sessions) reply(ctx context.Context, conn port.Conn, message string) {
	if err := s.relay.SendTo(ctx, conn, s.relay.SystemEnvelope(message)); err != nil {
		slog.Warn("ws reply failed", slog.String("clientId", conn.ID()), slog.Any("error", err))
	}
}

func (s *Sessions) teardown(sess *Session) {
	sess.transition(StateClosing)
	s.registry.Unregister(sess.conn)
	_ = sess.conn.Close()
	sess.transition(StateClosed)
}

// Live reports how many lifecycles are between Connecting and Closed.
func (s *Sessions) Live() int64 {
	return s.live.Load()
}

// Shutdown waits for running sessions to finish, which they do once the context
// passed to Serve is cancelled. When ctx expires first every registered client
// is force closed through forceClose. Serve rejects connections arriving later.
func (s *Sessions) Shutdown(ctx context.Context, forceClose func() int) {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("ws sessions drained")
	case <-ctx.Done():
		closed := 0
		if forceClose != nil {
			closed = forceClose()
		}
		slog.Warn("ws sessions force closed", slog.Int("clients", closed), slog.Int64("live", s.Live()))
	}
}

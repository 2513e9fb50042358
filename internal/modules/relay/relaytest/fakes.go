// Package relaytest provides in-memory connections and upstream sources for
// exercising the relay without Kafka or real sockets.
package relaytest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

// Conn is a scriptable port.Conn.
type Conn struct {
	id      string
	inbound chan []byte
	sent    chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	sendErr error
	block   bool
}

var _ port.Conn = (*Conn)(nil)

func NewConn(id string) *Conn {
	return &Conn{
		id:      id,
		inbound: make(chan []byte, 64),
		sent:    make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// BlockSends makes every later Send wait for its context, like a stalled peer.
func (c *Conn) BlockSends() {
	c.mu.Lock()
	c.block = true
	c.mu.Unlock()
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.IsClosed() {
		return domain.ErrConnectionClosed
	}
	c.mu.Lock()
	sendErr, block := c.sendErr, c.block
	c.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return domain.ErrConnectionClosed
		}
	}
	select {
	case c.sent <- data:
		return nil
	default:
		return errors.New("relaytest: send buffer full")
	}
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case <-c.closed:
		return nil, domain.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push queues an inbound frame as if the peer had written it.
func (c *Conn) Push(raw string) {
	c.inbound <- []byte(raw)
}

// Next waits for the next frame the relay sent and decodes it.
func (c *Conn) Next(timeout time.Duration) (map[string]any, bool) {
	select {
	case data := <-c.sent:
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, false
		}
		return out, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Pending reports how many sent frames have not been read with Next.
func (c *Conn) Pending() int {
	return len(c.sent)
}

// Feed is a scriptable port.Feed.
type Feed struct {
	Topic    string
	payloads chan any
	failures chan error
	closed   chan struct{}
	once     sync.Once
}

var _ port.Feed = (*Feed)(nil)

func NewFeed(topic string) *Feed {
	return &Feed{
		Topic:    topic,
		payloads: make(chan any, 256),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Emit makes payload the next value returned by Next.
func (f *Feed) Emit(payload any) {
	f.payloads <- payload
}

// Break makes Next fail with err once queued payloads are drained.
func (f *Feed) Break(err error) {
	f.failures <- err
}

func (f *Feed) Next(ctx context.Context) (any, error) {
	select {
	case payload := <-f.payloads:
		return payload, nil
	default:
	}
	select {
	case payload := <-f.payloads:
		return payload, nil
	case err := <-f.failures:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Feed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *Feed) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Source is a scriptable port.Source that records every feed it opens.
type Source struct {
	// OpenDelay widens the window in which concurrent Subscribe calls overlap.
	OpenDelay time.Duration

	mu      sync.Mutex
	pingErr error
	fail    map[string]error
	feeds   map[string][]*Feed
	opened  chan *Feed
	calls   atomic.Int64
}

var _ port.Source = (*Source)(nil)

func NewSource() *Source {
	return &Source{
		fail:   make(map[string]error),
		feeds:  make(map[string][]*Feed),
		opened: make(chan *Feed, 64),
	}
}

func (s *Source) Address() string { return "memory:9092" }

func (s *Source) SetPingError(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

func (s *Source) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// FailTopic makes Subscribe(topic) return err until AllowTopic is called.
func (s *Source) FailTopic(topic string, err error) {
	s.mu.Lock()
	s.fail[topic] = err
	s.mu.Unlock()
}

func (s *Source) AllowTopic(topic string) {
	s.mu.Lock()
	delete(s.fail, topic)
	s.mu.Unlock()
}

func (s *Source) Subscribe(ctx context.Context, topic string) (port.Feed, error) {
	s.calls.Add(1)
	if s.OpenDelay > 0 {
		select {
		case <-time.After(s.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[topic]; err != nil {
		return nil, err
	}
	feed := NewFeed(topic)
	s.feeds[topic] = append(s.feeds[topic], feed)
	select {
	case s.opened <- feed:
	default:
	}
	return feed, nil
}

// Calls counts Subscribe invocations, failed ones included.
func (s *Source) Calls() int64 {
	return s.calls.Load()
}

// Feeds counts successfully opened feeds for topic.
func (s *Source) Feeds(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds[topic])
}

// Feed returns the most recent feed for topic, or nil.
func (s *Source) Feed(topic string) *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.feeds[topic]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// WaitFeed waits until at least n feeds were opened for topic and returns the latest.
func (s *Source) WaitFeed(topic string, n int, timeout time.Duration) *Feed {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Feeds(topic) >= n {
			return s.Feed(topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

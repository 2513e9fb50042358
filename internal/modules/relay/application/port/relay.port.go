package port

import (
	"context"
	"errors"
)

var (
	// ErrSubscribeFailed wraps every reason a topic feed could not be opened.
	ErrSubscribeFailed = errors.New("subscribe failed")
	// ErrBrokerUnreachable means no bootstrap broker answered.
	ErrBrokerUnreachable = errors.New("broker unreachable")
	// ErrUpstreamLost is returned by a feed whose broker connection dropped.
	ErrUpstreamLost = errors.New("upstream connection lost")
)

// Source opens upstream topic feeds (Kafka in production).
type Source interface {
	// Ping verifies that the broker cluster is reachable at all.
	Ping(ctx context.Context) error
	// Subscribe opens a feed for topic; it fails fast for unknown or invalid topics.
	Subscribe(ctx context.Context, topic string) (Feed, error)
	// Address describes the broker endpoint for status reporting.
	Address() string
}

// Feed is one live upstream subscription.
type Feed interface {
	// Next blocks until the next payload arrives, ctx ends or the feed fails.
	Next(ctx context.Context) (any, error)
	Close() error
}

// Conn is one downstream subscriber connection.
type Conn interface {
	ID() string
	// Send queues data for the peer, failing once ctx expires or the connection closed.
	Send(ctx context.Context, data []byte) error
	// Receive returns the next inbound frame.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ClientRegistry is the set of connections eligible for fan-out.
type ClientRegistry interface {
	Register(conn Conn)
	Unregister(conn Conn)
	UnregisterAll(conns []Conn)
	Snapshot() []Conn
	Count() int
}

// Publisher receives payloads from topic feeds.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// EnsureResult reports what Ensure did for a topic.
type EnsureResult int

const (
	AlreadyActive EnsureResult = iota
	Started
)

func (r EnsureResult) String() string {
	if r == Started {
		return "started"
	}
	return "already_active"
}

// TopicEnsurer adds upstream topics on demand.
type TopicEnsurer interface {
	Ensure(ctx context.Context, topic string) (EnsureResult, error)
}

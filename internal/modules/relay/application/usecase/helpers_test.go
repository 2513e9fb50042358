package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/infrastructure"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/relaytest"
)

const waitFor = 2 * time.Second

type published struct {
	topic   string
	payload any
}

type recordingPublisher struct {
	ch chan published
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan published, 256)}
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) {
	p.ch <- published{topic: topic, payload: payload}
}

func (p *recordingPublisher) next(t *testing.T) published {
	t.Helper()
	select {
	case got := <-p.ch:
		return got
	case <-time.After(waitFor):
		t.Fatal("nothing published")
		return published{}
	}
}

type relayHarness struct {
	registry *infrastructure.ClientRegistry
	relay    *FanoutRelay
	source   *relaytest.Source
	topics   *TopicManager
	sessions *Sessions
}

func newRelayHarness(t *testing.T, sessionCfg SessionConfig) *relayHarness {
	t.Helper()
	registry := infrastructure.NewClientRegistry(nil)
	relay := NewFanoutRelay(registry, FanoutConfig{SendTimeout: 200 * time.Millisecond}, nil)
	source := relaytest.NewSource()
	topics := NewTopicManager(source, relay, TopicManagerConfig{ReconnectBackoff: 10 * time.Millisecond}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = topics.Close(ctx)
	})
	return &relayHarness{
		registry: registry,
		relay:    relay,
		source:   source,
		topics:   topics,
		sessions: NewSessions(registry, topics, relay, sessionCfg, nil),
	}
}

// connect runs a session for conn and waits for its welcome notice.
func (h *relayHarness) connect(t *testing.T, ctx context.Context, conn *relaytest.Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.sessions.Serve(ctx, conn) }()

	welcome, ok := conn.Next(waitFor)
	require.True(t, ok, "no welcome for %s", conn.ID())
	require.Equal(t, string(domain.KindSystem), welcome["type"])
	require.Equal(t, domain.WelcomeMessage, welcome["message"])
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not end")
		return nil
	}
}

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/relaytest"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
)

func newTestManager(t *testing.T, source port.Source, publisher port.Publisher, cfg TopicManagerConfig, m *metrics.Metrics) *TopicManager {
	t.Helper()
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 10 * time.Millisecond
	}
	mgr := NewTopicManager(source, publisher, cfg, m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr
}

func TestTopicManager_ConcurrentEnsureOpensOneFeed(t *testing.T) {
	source := relaytest.NewSource()
	source.OpenDelay = 20 * time.Millisecond
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)

	const callers = 20
	results := make(chan port.EnsureResult, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := mgr.Ensure(context.Background(), "orders.created")
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	started := 0
	for result := range results {
		if result == port.Started {
			started++
		}
	}
	assert.Equal(t, 1, started)
	assert.EqualValues(t, 1, source.Calls())
	assert.Equal(t, 1, source.Feeds("orders.created"))
	assert.Equal(t, []string{"orders.created"}, mgr.Topics())
	assert.EqualValues(t, 1, mgr.FeedCount())
}

func TestTopicManager_AlreadyActive(t *testing.T) {
	mgr := newTestManager(t, relaytest.NewSource(), newRecordingPublisher(), TopicManagerConfig{}, nil)

	first, err := mgr.Ensure(context.Background(), "payments")
	require.NoError(t, err)
	second, err := mgr.Ensure(context.Background(), " payments ")
	require.NoError(t, err)

	assert.Equal(t, port.Started, first)
	assert.Equal(t, port.AlreadyActive, second)
	assert.Equal(t, "started", first.String())
	assert.Equal(t, "already_active", second.String())
}

func TestTopicManager_ActiveTopicDoesNotWaitForSlowOpen(t *testing.T) {
	source := relaytest.NewSource()
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)
	_, err := mgr.Ensure(context.Background(), "a")
	require.NoError(t, err)

	source.OpenDelay = 500 * time.Millisecond
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = mgr.Ensure(context.Background(), "slow")
	}()
	require.Eventually(t, func() bool { return source.Calls() == 2 }, waitFor, time.Millisecond)

	started := time.Now()
	result, err := mgr.Ensure(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, port.AlreadyActive, result)
	assert.Less(t, time.Since(started), 100*time.Millisecond)
	<-slowDone
}

func TestTopicManager_FailedSubscribeIsNotRecorded(t *testing.T) {
	source := relaytest.NewSource()
	source.FailTopic("missing", domain.ErrInvalidTopic)
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)

	_, err := mgr.Ensure(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrSubscribeFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidTopic)
	assert.Empty(t, mgr.Topics())

	// a later request retries instead of being told the topic is active
	source.AllowTopic("missing")
	result, err := mgr.Ensure(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, port.Started, result)
	assert.EqualValues(t, 2, source.Calls())
}

func TestTopicManager_RejectsIllegalNameWithoutIO(t *testing.T) {
	source := relaytest.NewSource()
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)

	for _, topic := range []string{"", "bad topic", "..", "a/b"} {
		_, err := mgr.Ensure(context.Background(), topic)
		assert.ErrorIs(t, err, domain.ErrInvalidTopic, "topic %q", topic)
	}
	assert.Zero(t, source.Calls())
}

func TestTopicManager_PublishesFeedPayloadsInOrder(t *testing.T) {
	source := relaytest.NewSource()
	publisher := newRecordingPublisher()
	mgr := newTestManager(t, source, publisher, TopicManagerConfig{}, nil)

	_, err := mgr.Ensure(context.Background(), "orders")
	require.NoError(t, err)
	feed := source.Feed("orders")
	require.NotNil(t, feed)

	for i := range 5 {
		feed.Emit(i)
	}
	for i := range 5 {
		got := publisher.next(t)
		assert.Equal(t, "orders", got.topic)
		assert.Equal(t, i, got.payload)
	}
	require.Eventually(t, func() bool {
		status := mgr.Status()
		return len(status) == 1 && status[0].Payloads == 5
	}, waitFor, 5*time.Millisecond)
}

func TestTopicManager_ReconnectsAfterFeedLoss(t *testing.T) {
	m := metrics.New()
	source := relaytest.NewSource()
	publisher := newRecordingPublisher()
	mgr := newTestManager(t, source, publisher, TopicManagerConfig{Policy: domain.PolicyReconnect}, m)

	_, err := mgr.Ensure(context.Background(), "events")
	require.NoError(t, err)
	first := source.Feed("events")
	first.Break(port.ErrUpstreamLost)

	second := source.WaitFeed("events", 2, waitFor)
	require.NotNil(t, second)
	require.NotSame(t, first, second)
	assert.True(t, first.IsClosed())

	second.Emit("after reconnect")
	assert.Equal(t, "after reconnect", publisher.next(t).payload)
	require.Eventually(t, func() bool { return len(mgr.DegradedTopics()) == 0 }, waitFor, 5*time.Millisecond)
	assert.EqualValues(t, 2, mgr.FeedCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FeedErrors.WithLabelValues("events")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FeedsOpened))
}

func TestTopicManager_DegradedTopicStaysPresent(t *testing.T) {
	source := relaytest.NewSource()
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{ReconnectBackoff: time.Hour}, nil)

	_, err := mgr.Ensure(context.Background(), "events")
	require.NoError(t, err)
	source.Feed("events").Break(errors.New("broker gone"))

	require.Eventually(t, func() bool { return len(mgr.DegradedTopics()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"events"}, mgr.Topics())
	assert.Equal(t, domain.TopicDegraded, mgr.Status()[0].State)

	result, err := mgr.Ensure(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, port.AlreadyActive, result)
	assert.EqualValues(t, 1, source.Calls())
}

func TestTopicManager_ShutdownPolicyCallsOnFatal(t *testing.T) {
	source := relaytest.NewSource()
	fatal := make(chan string, 1)
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{
		Policy:  domain.PolicyShutdown,
		OnFatal: func(topic string, err error) { fatal <- topic },
	}, nil)

	_, err := mgr.Ensure(context.Background(), "events")
	require.NoError(t, err)
	source.Feed("events").Break(port.ErrUpstreamLost)

	select {
	case topic := <-fatal:
		assert.Equal(t, "events", topic)
	case <-time.After(waitFor):
		t.Fatal("OnFatal not called")
	}
	assert.Equal(t, 1, source.Feeds("events"))
}

func TestTopicManager_Start(t *testing.T) {
	source := relaytest.NewSource()
	source.FailTopic("broken", errors.New("no partitions"))
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)

	err := mgr.Start(context.Background(), []string{"a", " b ", "a", "broken", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, mgr.Topics())
}

func TestTopicManager_StartFailsWhenBrokerUnreachable(t *testing.T) {
	source := relaytest.NewSource()
	source.SetPingError(errors.New("connection refused"))
	mgr := newTestManager(t, source, newRecordingPublisher(), TopicManagerConfig{}, nil)

	err := mgr.Start(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, port.ErrBrokerUnreachable)
	assert.Zero(t, source.Calls())
}

func TestTopicManager_Close(t *testing.T) {
	source := relaytest.NewSource()
	mgr := NewTopicManager(source, newRecordingPublisher(), TopicManagerConfig{}, nil)
	_, err := mgr.Ensure(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, mgr.Close(ctx))
	assert.True(t, source.Feed("a").IsClosed())

	_, err = mgr.Ensure(context.Background(), "b")
	assert.ErrorIs(t, err, port.ErrSubscribeFailed)
}

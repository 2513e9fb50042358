package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrConnectionClosed = errors.New("connection closed")
)

const maxTopicLength = 249

var legalTopic = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateTopic applies the broker's legal-name rule before any network I/O.
func ValidateTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTopic)
	case topic == "." || topic == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTopic, topic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidTopic, maxTopicLength)
	case !legalTopic.MatchString(topic):
		return fmt.Errorf("%w: %q contains illegal characters", ErrInvalidTopic, topic)
	}
	return nil
}

// NormalizeTopics trims, drops blanks and removes duplicates while keeping the
// first-seen order of the configured list.
func NormalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if _, exists := seen[topic]; exists {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}

// TopicState is the health of one upstream feed.
type TopicState string

const (
	TopicActive   TopicState = "active"
	TopicDegraded TopicState = "degraded"
)

// SortTopics returns a sorted copy.
func SortTopics(topics []string) []string {
	out := make([]string, len(topics))
	copy(out, topics)
	sort.Strings(out)
	return out
}

// UpstreamLossPolicy selects what happens when an active feed loses the broker.
type UpstreamLossPolicy string

const (
	PolicyReconnect UpstreamLossPolicy = "reconnect"
	PolicyShutdown  UpstreamLossPolicy = "shutdown"
)

// ParseUpstreamLossPolicy accepts the textual policy names case-insensitively.
func ParseUpstreamLossPolicy(raw string) (UpstreamLossPolicy, error) {
	switch UpstreamLossPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyReconnect:
		return PolicyReconnect, nil
	case PolicyShutdown:
		return PolicyShutdown, nil
	}
	return "", fmt.Errorf("unknown upstream loss policy %q (want %q or %q)", raw, PolicyReconnect, PolicyShutdown)
}

// TopicStatus describes one monitored topic for status endpoints.
type TopicStatus struct {
	Topic     string     `json:"topic"`
	State     TopicState `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	Payloads  uint64     `json:"payloads"`
}

// RelayStatus is the read-only view served on /health and /stats.
type RelayStatus struct {
	KafkaBroker      string   `json:"kafka_broker"`
	ConnectedClients int      `json:"connected_clients"`
	MonitoredTopics  []string `json:"monitored_topics"`
	DegradedTopics   []string `json:"degraded_topics"`
	FeedsOpened      int64    `json:"feeds_opened"`
}

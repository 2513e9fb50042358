package domain

import (
	"encoding/json"
	"time"
)

// Kind discriminates outbound envelopes on the wire.
type Kind string

const (
	KindSystem Kind = "system"
	// KindData is the wire name dashboards already parse.
	KindData Kind = "kafka_message"
)

const (
	WelcomeMessage = "Connected to Kafka message stream"
)

// Envelope is the unit of fan-out. Fields are unexported so an envelope cannot be
// changed once built; the relay shares one serialized copy across all sends.
type Envelope struct {
	kind      Kind
	topic     string
	timestamp time.Time
	message   string
	data      any
}

// NewSystemEnvelope builds a system notice addressed to a single client.
func NewSystemEnvelope(message string, at time.Time) Envelope {
	return Envelope{kind: KindSystem, timestamp: at, message: message}
}

// NewDataEnvelope wraps a payload consumed from topic.
func NewDataEnvelope(topic string, payload any, at time.Time) Envelope {
	return Envelope{kind: KindData, topic: topic, timestamp: at, data: payload}
}

func (e Envelope) Kind() Kind           { return e.kind }
func (e Envelope) Topic() string        { return e.topic }
func (e Envelope) Timestamp() time.Time { return e.timestamp }
func (e Envelope) Message() string      { return e.message }
func (e Envelope) Data() any            { return e.data }

type systemWire struct {
	Type      Kind   `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// dataWire always carries data, so a null payload stays "data": null.
type dataWire struct {
	Type      Kind   `json:"type"`
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// MarshalJSON renders the envelope in the shape browser clients expect.
func (e Envelope) MarshalJSON() ([]byte, error) {
	ts := e.timestamp.Format(time.RFC3339Nano)
	if e.kind == KindData {
		return json.Marshal(dataWire{Type: e.kind, Topic: e.topic, Timestamp: ts, Data: e.data})
	}
	return json.Marshal(systemWire{Type: e.kind, Timestamp: ts, Message: e.message})
}

// SubscribedMessage is the confirmation sent after a topic feed was started.
func SubscribedMessage(topic string) string {
	return "Subscribed to topic: " + topic
}

// AlreadySubscribedMessage is the confirmation sent when the topic was already relayed.
func AlreadySubscribedMessage(topic string) string {
	return "Already subscribed to topic: " + topic
}

// SubscribeFailedMessage is only sent when failure notices are enabled.
func SubscribeFailedMessage(topic string) string {
	return "Failed to subscribe to topic: " + topic
}

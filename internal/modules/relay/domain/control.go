package domain

import (
	"encoding/json"
	"strings"
)

const ControlSubscribe = "subscribe"

// ControlMessage is an inbound request from a websocket client.
type ControlMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// ParseSubscribe extracts the topic from a subscribe request. Anything that is not
// a JSON object with type "subscribe" and a non-empty topic reports ok=false.
func ParseSubscribe(raw []byte) (topic string, ok bool) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", false
	}
	if normalizeType(msg.Type) != ControlSubscribe {
		return "", false
	}
	topic = strings.TrimSpace(msg.Topic)
	if topic == "" {
		return "", false
	}
	return topic, true
}

func normalizeType(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

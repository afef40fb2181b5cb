// ABOUTME: Stream events pushed to callers: delta, done and error
// ABOUTME: JSON payloads keep the camelCase shapes clients already consume

package conversation

import (
	"encoding/json"
	"fmt"
)

// EventKind names the three push events of a stream
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is one push notification for a stream request. Per request id a sink
// sees zero or more deltas followed by exactly one done or error.
type Event struct {
	Kind           EventKind
	RequestID      string
	ConversationID string

	// Delta carries the text chunk of a delta event
	Delta string
	// MessageID is the persisted assistant message of a done event, nil when
	// nothing was saved
	MessageID *string
	// Cancelled marks a done event produced by Cancel
	Cancelled bool
	// Error is the failure message of an error event
	Error string
}

// Terminal reports whether e ends its stream
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

type deltaPayload struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	Delta          string `json:"delta"`
}

type donePayload struct {
	RequestID      string  `json:"requestId"`
	ConversationID string  `json:"conversationId"`
	MessageID      *string `json:"messageId"`
	Cancelled      bool    `json:"cancelled"`
}

type errorPayload struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// MarshalJSON encodes the payload for the event's kind. The kind itself is
// carried out of band (SSE event name).
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventDelta:
		return json.Marshal(deltaPayload{e.RequestID, e.ConversationID, e.Delta})
	case EventDone:
		return json.Marshal(donePayload{e.RequestID, e.ConversationID, e.MessageID, e.Cancelled})
	case EventError:
		return json.Marshal(errorPayload{e.RequestID, e.ConversationID, e.Error})
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

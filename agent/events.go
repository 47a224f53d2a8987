package agent

import "encoding/json"

// Event types streamed to the client during a chat turn.
const (
	EventStatus     = "status"      // pipeline progress ("classifying", "searching")
	EventToken      = "token"       // incremental answer text
	EventToolCall   = "tool_call"   // the agent invoked a tool
	EventToolResult = "tool_result" // tool finished (preview only, full result isolated)
	EventSources    = "sources"     // citations backing the answer
	EventDone       = "done"        // turn complete
	EventError      = "error"       // turn failed
)

// Event is one server-sent event in a chat stream.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Sink receives events as the turn progresses. Implementations must be safe
// to call from the turn goroutine; a nil sink discards events.
type Sink func(Event)

func (s Sink) emit(eventType string, data interface{}) {
	if s != nil {
		s(Event{Type: eventType, Data: data})
	}
}

// MarshalData renders the event payload for the wire.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e)
}

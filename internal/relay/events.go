package relay

import (
	"time"

	"github.com/chatstream/relay/internal/provider"
)

// Event type identifiers on the server->client wire.
const (
	EventStart    = "start"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
	EventPong     = "pong"
)

// Event is the JSON-encoded message sent to the client. One struct covers all
// variants; unset fields are omitted.
type Event struct {
	Type        string `json:"type"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Content     string `json:"content,omitempty"`
	ChunkID     int    `json:"chunk_id,omitempty"`
	FullContent string `json:"full_content,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	ErrorKind   string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

// StartEvent echoes the chosen provider and model back to the client.
func StartEvent(providerName, model string) Event {
	return Event{Type: EventStart, Provider: providerName, Model: model}
}

// ChunkEvent carries one delta fragment. Sequence numbers start at 1 and
// increase monotonically within a turn.
func ChunkEvent(content string, seq int) Event {
	return Event{Type: EventChunk, Content: content, ChunkID: seq}
}

// CompleteEvent carries the full accumulated text and completion time.
func CompleteEvent(fullContent, providerName, model string, at time.Time) Event {
	return Event{
		Type:        EventComplete,
		FullContent: fullContent,
		Provider:    providerName,
		Model:       model,
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
}

// ErrorEvent carries a stable machine-readable kind plus a human message.
func ErrorEvent(kind provider.ErrorKind, message string) Event {
	return Event{Type: EventError, ErrorKind: string(kind), Message: message}
}

// PongEvent answers a client heartbeat.
func PongEvent() Event {
	return Event{Type: EventPong}
}

// EmitFunc delivers one event toward the client. Implementations must be safe
// to call from the turn goroutine.
type EmitFunc func(Event)

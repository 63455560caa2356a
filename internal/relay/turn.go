package relay

import (
	"time"

	"github.com/chatstream/relay/internal/provider"
)

// Status is the terminal state of a conversation turn.
type Status string

const (
	// StatusStreaming marks a turn whose deltas are still arriving.
	StatusStreaming Status = "streaming"
	// StatusComplete marks a turn whose full text was accumulated and persisted.
	StatusComplete Status = "complete"
	// StatusErrored marks a turn terminated by an adapter or upstream error.
	// Errored turns are never persisted.
	StatusErrored Status = "errored"
	// StatusCancelled marks a turn abandoned by the client mid-stream.
	// Partial text is discarded, never persisted.
	StatusCancelled Status = "cancelled"
)

// Turn is one user message plus the model's reply. The Coordinator exclusively
// owns the record until a terminal status is set; after that it is immutable
// and ownership passes to the turn store.
type Turn struct {
	ID          string
	SessionID   string
	History     []provider.Message
	Provider    string
	Model       string
	Output      string
	Sequence    int // last delta sequence number emitted
	Status      Status
	CompletedAt time.Time
}

// Terminal reports whether the turn has reached a terminal status.
func (t *Turn) Terminal() bool {
	return t.Status != StatusStreaming
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies stream failures into the stable set exposed on the wire.
type ErrorKind string

const (
	// KindCredentials marks a missing or malformed provider secret. Raised
	// before any network call and never retried.
	KindCredentials ErrorKind = "credentials"
	// KindNetwork marks transport-level failures (timeout, reset, dial error).
	KindNetwork ErrorKind = "network"
	// KindUpstream marks errors reported by the provider itself (quota,
	// invalid request, malformed frame).
	KindUpstream ErrorKind = "upstream"
	// KindConflict marks a second turn submitted while one is streaming.
	KindConflict ErrorKind = "conflict"
	// KindProtocol marks a malformed or invalid client submission.
	KindProtocol ErrorKind = "protocol"
)

// Error carries a machine-readable kind alongside the human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindNetwork for plain
// transport errors that were not classified at the source.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}

// Message is one role/content entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent is the normalized unit every adapter emits. Exactly one of the
// terminal fields is set on the last event: Done with the full accumulated
// text, or Err. Non-terminal events carry a single Delta fragment.
type StreamEvent struct {
	Delta string
	Done  bool
	Text  string // full accumulated text, set only when Done
	Err   error
}

// StreamAdapter converts one provider's native chunked response into the
// normalized delta sequence. The returned channel is lazy, finite and
// non-restartable; deltas arrive in exactly the order the upstream produced
// them. Callers never observe the provider's wire format.
type StreamAdapter interface {
	Name() string
	OpenStream(ctx context.Context, model string, history []Message) (<-chan StreamEvent, error)
}

// ValidateHistory enforces the adapter input contract: a non-empty history
// ending with a user-role entry.
func ValidateHistory(history []Message) error {
	if len(history) == 0 {
		return Errorf(KindProtocol, "message history is empty")
	}
	last := history[len(history)-1]
	if strings.ToLower(strings.TrimSpace(last.Role)) != "user" {
		return Errorf(KindProtocol, "message history must end with a user message, got role %q", last.Role)
	}
	return nil
}

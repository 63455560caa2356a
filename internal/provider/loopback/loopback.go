package loopback

import (
	"context"
	"strings"
	"time"

	"github.com/chatstream/relay/internal/provider"
)

// Ensure Adapter implements StreamAdapter.
var _ provider.StreamAdapter = (*Adapter)(nil)

// Adapter echoes the last user message back as a word-by-word delta stream.
// It has no wire format at all, which makes it the in-process iterator
// variant used by tests and local development.
type Adapter struct {
	// DelayPerDelta slows emission down for demos; zero means as fast as
	// the consumer reads.
	DelayPerDelta time.Duration
}

// New creates an Adapter instance.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the provider identifier used in turn submissions.
func (a *Adapter) Name() string { return "loopback" }

// OpenStream fabricates a deterministic delta stream from the last user
// message.
func (a *Adapter) OpenStream(ctx context.Context, model string, history []provider.Message) (<-chan provider.StreamEvent, error) {
	if err := provider.ValidateHistory(history); err != nil {
		return nil, err
	}

	// find last user message; ValidateHistory guarantees one exists
	var prompt string
	for i := len(history) - 1; i >= 0; i-- {
		if strings.ToLower(history[i].Role) == "user" {
			prompt = strings.TrimSpace(history[i].Content)
			break
		}
	}

	reply := "[loopback] " + prompt
	words := strings.SplitAfter(reply, " ")

	ch := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(ch)
		var full strings.Builder
		for _, w := range words {
			if a.DelayPerDelta > 0 {
				select {
				case <-ctx.Done():
					ch <- provider.StreamEvent{Err: ctx.Err()}
					return
				case <-time.After(a.DelayPerDelta):
				}
			} else {
				select {
				case <-ctx.Done():
					ch <- provider.StreamEvent{Err: ctx.Err()}
					return
				default:
				}
			}
			full.WriteString(w)
			select {
			case ch <- provider.StreamEvent{Delta: w}:
			case <-ctx.Done():
				ch <- provider.StreamEvent{Err: ctx.Err()}
				return
			}
		}
		ch <- provider.StreamEvent{Done: true, Text: full.String()}
	}()
	return ch, nil
}

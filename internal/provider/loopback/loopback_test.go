package loopback

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chatstream/relay/internal/provider"
)

func TestOpenStream_EchoesLastUserMessage(t *testing.T) {
	a := New()
	ch, err := a.OpenStream(context.Background(), "echo", []provider.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "hello streaming world"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	var deltas []string
	var final string
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("received error event: %v", ev.Err)
		}
		if ev.Done {
			final = ev.Text
			continue
		}
		deltas = append(deltas, ev.Delta)
	}

	want := "[loopback] hello streaming world"
	if final != want {
		t.Errorf("final text = %q, want %q", final, want)
	}
	if got := strings.Join(deltas, ""); got != want {
		t.Errorf("concatenated deltas = %q, want %q", got, want)
	}
	if len(deltas) < 2 {
		t.Errorf("len(deltas) = %d, want word-by-word emission", len(deltas))
	}
}

func TestOpenStream_Cancellation(t *testing.T) {
	a := New()
	a.DelayPerDelta = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.OpenStream(ctx, "echo", []provider.Message{
		{Role: "user", Content: "a b c d e f g h"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	<-ch // first delta
	cancel()

	sawErr := false
	for ev := range ch {
		if ev.Err != nil {
			sawErr = true
		}
		if ev.Done {
			t.Error("stream completed despite cancellation")
		}
	}
	if !sawErr {
		t.Error("expected a terminal error event after cancellation")
	}
}

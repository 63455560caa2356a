package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/testutil"
)

func TestOpenStream_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("x-api-key"); key != "sk-ant-test" {
			t.Errorf("x-api-key header = %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != "2023-06-01" {
			t.Errorf("anthropic-version header = %q", v)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frames := []string{
			"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n\n",
			"event: ping\ndata: {}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\"}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		}
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()

	adpt, err := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.OpenStream(context.Background(), "claude-3-5-sonnet-20241022", []provider.Message{
		{Role: "user", Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	var final string
	done := false
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("received error event: %v", ev.Err)
		}
		if ev.Done {
			done = true
			final = ev.Text
		}
	}
	if !done {
		t.Fatal("stream ended without a done event")
	}
	if final != "Hello there" {
		t.Errorf("final text = %q, want 'Hello there'", final)
	}
}

func TestOpenStream_ErrorEvent(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	adpt, err := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.OpenStream(context.Background(), "claude-3-5-sonnet-20241022", []provider.Message{
		{Role: "user", Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	var streamErr error
	for ev := range ch {
		if ev.Err != nil {
			streamErr = ev.Err
		}
	}
	if streamErr == nil {
		t.Fatal("expected an error event")
	}
	if provider.KindOf(streamErr) != provider.KindUpstream {
		t.Errorf("kind = %q, want upstream", provider.KindOf(streamErr))
	}
	if !strings.Contains(streamErr.Error(), "Overloaded") {
		t.Errorf("error = %v, want message containing 'Overloaded'", streamErr)
	}
}

func TestOpenStream_TruncatedStreamIsNetworkError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// A delta but no message_stop: the client observes a clean EOF.
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	adpt, err := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.OpenStream(context.Background(), "claude-3-5-sonnet-20241022", []provider.Message{
		{Role: "user", Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	var streamErr error
	for ev := range ch {
		if ev.Done {
			t.Fatalf("truncated stream surfaced as Done=true with Text=%q", ev.Text)
		}
		if ev.Err != nil {
			streamErr = ev.Err
		}
	}
	if streamErr == nil {
		t.Fatal("expected a terminal error event for the truncated stream")
	}
	if provider.KindOf(streamErr) != provider.KindNetwork {
		t.Errorf("kind = %q, want network", provider.KindOf(streamErr))
	}
}

func TestOpenStream_SystemPromptHoisted(t *testing.T) {
	var captured map[string]interface{}
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	adpt, err := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.OpenStream(context.Background(), "claude-3-5-sonnet-20241022", []provider.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	for range ch {
	}

	if captured["system"] != "be brief" {
		t.Errorf("system prompt = %v, want 'be brief'", captured["system"])
	}
	msgs, ok := captured["messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want exactly one entry", captured["messages"])
	}
	if captured["max_tokens"] == nil {
		t.Error("request is missing max_tokens")
	}
}

func TestConvertHistory_NormalizesRoles(t *testing.T) {
	msgs, system := convertHistory([]provider.Message{
		{Role: "system", Content: "one"},
		{Role: "system", Content: "two"},
		{Role: "tool", Content: "out"},
		{Role: "user", Content: "hi"},
	})
	if system != "one\n\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("unknown role mapped to %q, want user", msgs[0].Role)
	}
}

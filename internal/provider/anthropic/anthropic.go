package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatstream/relay/internal/provider"
)

// Ensure Adapter implements StreamAdapter.
var _ provider.StreamAdapter = (*Adapter)(nil)

// Adapter streams messages from the Anthropic API (Claude). The native format
// is SSE with "event:" framing; only content_block_delta events carry text.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	version    string // API version header
	maxTokens  int
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional, defaults to 2023-06-01
	MaxTokens      int    // optional, defaults to 4096 (Anthropic requires max_tokens)
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.Errorf(provider.KindCredentials, "anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		version:   version,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name returns the provider identifier used in turn submissions.
func (a *Adapter) Name() string { return "anthropic" }

// message represents a message in Anthropic's format.
type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock represents a text content block.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// streamEvent is the minimal streaming event schema we consume.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenStream sends a streaming messages request and decodes the event-framed
// SSE stream into normalized delta events.
func (a *Adapter) OpenStream(ctx context.Context, model string, history []provider.Message) (<-chan provider.StreamEvent, error) {
	if err := provider.ValidateHistory(history); err != nil {
		return nil, err
	}

	messages, systemPrompt := convertHistory(history)
	payload := map[string]interface{}{
		"model":      model,
		"messages":   messages,
		"max_tokens": a.maxTokens,
		"stream":     true,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Errorf(provider.KindNetwork, "anthropic: send request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, provider.Errorf(provider.KindUpstream, "anthropic: %s (type=%s)", errResp.Error.Message, errResp.Error.Type)
		}
		return nil, provider.Errorf(provider.KindUpstream, "anthropic: http %d: %s", resp.StatusCode, string(data))
	}

	ch := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		reader := resp.Body
		buf := make([]byte, 8192)
		leftover := ""
		var full strings.Builder

		for {
			select {
			case <-ctx.Done():
				ch <- provider.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			n, err := reader.Read(buf)
			if n > 0 {
				data := leftover + string(buf[:n])
				lines := strings.Split(data, "\n")
				leftover = lines[len(lines)-1]
				lines = lines[:len(lines)-1]
				var eventType string
				for _, line := range lines {
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					if strings.HasPrefix(line, "event:") {
						eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
						continue
					}
					if !strings.HasPrefix(line, "data:") {
						continue
					}
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					// Keepalive pings arrive as '{}'.
					if payload == "" || payload == "{}" {
						continue
					}
					var evt streamEvent
					if perr := json.Unmarshal([]byte(payload), &evt); perr != nil {
						ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindUpstream, "anthropic: parse stream: %v", perr)}
						return
					}
					if evt.Type == "error" || eventType == "error" {
						ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindUpstream, "anthropic: %s (type=%s)", evt.Error.Message, evt.Error.Type)}
						return
					}
					if evt.Type == "content_block_delta" && evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
						full.WriteString(evt.Delta.Text)
						ch <- provider.StreamEvent{Delta: evt.Delta.Text}
						continue
					}
					if evt.Type == "message_stop" || eventType == "message_stop" {
						ch <- provider.StreamEvent{Done: true, Text: full.String()}
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					// Closed without message_stop: treat as a dropped connection.
					ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "anthropic: stream ended before completion")}
					return
				}
				ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "anthropic: read stream: %v", err)}
				return
			}
		}
	}()
	return ch, nil
}

// convertHistory converts role/content history to Anthropic's format,
// hoisting system entries into the dedicated system prompt.
func convertHistory(history []provider.Message) ([]message, string) {
	var messages []message
	var systemPrompt string

	for _, msg := range history {
		role := strings.ToLower(msg.Role)
		if role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, message{
			Role:    role,
			Content: []contentBlock{{Type: "text", Text: msg.Content}},
		})
	}
	return messages, systemPrompt
}

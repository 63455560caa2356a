package openai

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

// Adapter streams chat completions from the OpenAI API. The native format is
// SSE with "data:" frames terminated by "data: [DONE]".
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	org        string // optional organization ID
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	RequestTimeout time.Duration
}

// New creates an Adapter instance. A missing API key fails fast so no network
// call is ever attempted with absent credentials.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.Errorf(provider.KindCredentials, "openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		org:     cfg.Organization,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name returns the provider identifier used in turn submissions.
func (a *Adapter) Name() string { return "openai" }

// chunk models the subset of an OpenAI streaming chunk we consume.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// OpenStream sends a streaming chat completion request and decodes the SSE
// frames into normalized delta events.
func (a *Adapter) OpenStream(ctx context.Context, model string, history []provider.Message) (<-chan provider.StreamEvent, error) {
	if err := provider.ValidateHistory(history); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": history,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Errorf(provider.KindNetwork, "openai: send request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, provider.Errorf(provider.KindUpstream, "openai: %s (type=%s)", errResp.Error.Message, errResp.Error.Type)
		}
		return nil, provider.Errorf(provider.KindUpstream, "openai: http %d: %s", resp.StatusCode, string(data))
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
				for _, line := range lines {
					line = strings.TrimSpace(line)
					if !strings.HasPrefix(line, "data:") {
						continue
					}
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					if payload == "" {
						continue
					}
					if payload == "[DONE]" {
						ch <- provider.StreamEvent{Done: true, Text: full.String()}
						return
					}
					var c chunk
					if perr := json.Unmarshal([]byte(payload), &c); perr != nil {
						ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindUpstream, "openai: parse stream: %v", perr)}
						return
					}
					if len(c.Choices) == 0 {
						continue
					}
					if delta := c.Choices[0].Delta.Content; delta != "" {
						full.WriteString(delta)
						ch <- provider.StreamEvent{Delta: delta}
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					// Upstream closed without [DONE]: a dropped connection, not
					// a completion. Partial text must never look complete.
					ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "openai: stream ended before completion")}
					return
				}
				ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "openai: read stream: %v", err)}
				return
			}
		}
	}()
	return ch, nil
}

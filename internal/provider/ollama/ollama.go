package ollama

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

// Adapter streams chat responses from an Ollama server. The native format is
// NDJSON: one JSON object per physical line, the last flagged done=true.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Ollama adapter.
type Config struct {
	BaseURL        string // required, e.g. http://localhost:11434
	RequestTimeout time.Duration
}

// New creates an Adapter instance. Ollama has no API key; the endpoint itself
// is the credential, so a missing base URL fails fast the same way.
func New(cfg Config) (*Adapter, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, provider.Errorf(provider.KindCredentials, "ollama: base url required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second // local models may be slow to first token
	}

	return &Adapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name returns the provider identifier used in turn submissions.
func (a *Adapter) Name() string { return "ollama" }

// line models one NDJSON object of the /api/chat stream.
type line struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// OpenStream sends a streaming chat request and decodes the line-delimited
// JSON stream into normalized delta events.
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
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Errorf(provider.KindNetwork, "ollama: send request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return nil, provider.Errorf(provider.KindUpstream, "ollama: %s", errResp.Error)
		}
		return nil, provider.Errorf(provider.KindUpstream, "ollama: http %d: %s", resp.StatusCode, string(data))
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
				for _, raw := range lines {
					raw = strings.TrimSpace(raw)
					if raw == "" {
						continue
					}
					var l line
					if perr := json.Unmarshal([]byte(raw), &l); perr != nil {
						ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindUpstream, "ollama: parse stream: %v", perr)}
						return
					}
					if l.Error != "" {
						ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindUpstream, "ollama: %s", l.Error)}
						return
					}
					if l.Message.Content != "" {
						full.WriteString(l.Message.Content)
						ch <- provider.StreamEvent{Delta: l.Message.Content}
					}
					if l.Done {
						ch <- provider.StreamEvent{Done: true, Text: full.String()}
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					// Closed without done=true: treat as a dropped connection.
					ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "ollama: stream ended before completion")}
					return
				}
				ch <- provider.StreamEvent{Err: provider.Errorf(provider.KindNetwork, "ollama: read stream: %v", err)}
				return
			}
		}
	}()
	return ch, nil
}

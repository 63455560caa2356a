package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/relay"
)

// Config holds client configuration.
type Config struct {
	// WSURL is the persistent streaming endpoint, e.g. ws://host/v1/chat/ws.
	WSURL string
	// FallbackURL is the non-streaming endpoint, e.g.
	// http://host/v1/chat/completions.
	FallbackURL string
	// Backoff tunes the reconnect loop.
	Backoff BackoffConfig
	// HandshakeTimeout bounds each dial attempt. Zero means 10s.
	HandshakeTimeout time.Duration
	// RequestTimeout bounds each fallback HTTP call. Zero means 120s.
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// TurnResult is the completed reply for one submitted turn.
type TurnResult struct {
	Content  string
	Provider string
	Model    string
}

// DeltaFunc receives each streamed fragment as it arrives. It is not called
// on the fallback path, which returns the full text in one reply.
type DeltaFunc func(content string, chunkID int)

// Client submits turns over the persistent WebSocket transport, supervised by
// the reconnect/fallback controller. After the retry ceiling is exceeded it
// transparently switches to the HTTP path; the turn contract is unchanged.
type Client struct {
	cfg        Config
	controller *Controller
	dialer     *websocket.Dialer
	httpClient *http.Client
	conn       *websocket.Conn
	logger     *log.Logger
}

// New creates a Client. Endpoint validation happens on first use so the
// controller can report the configuration error through its failed state.
func New(cfg Config) *Client {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		controller: NewController(cfg.Backoff),
		dialer:     &websocket.Dialer{HandshakeTimeout: handshake},
		httpClient: &http.Client{Timeout: reqTimeout},
		logger:     cfg.Logger,
	}
}

// Controller exposes the supervision state machine, mainly so callers can
// show a "reconnecting..." indication and offer a manual retry action.
func (c *Client) Controller() *Controller {
	return c.controller
}

// SubmitTurn runs one turn: streams deltas through onDelta and returns the
// completed result. In fallback state the HTTP path is used and onDelta is
// never called.
func (c *Client) SubmitTurn(ctx context.Context, sessionID string, history []provider.Message, providerName, model string, onDelta DeltaFunc) (*TurnResult, error) {
	switch c.controller.CurrentState() {
	case StateFailed:
		return nil, provider.Errorf(provider.KindNetwork, "client: no usable endpoint configured")
	case StateFallback:
		return c.submitFallback(ctx, sessionID, history, providerName, model)
	}

	if strings.TrimSpace(c.cfg.WSURL) == "" {
		c.controller.OnConfigError()
		return nil, provider.Errorf(provider.KindNetwork, "client: no streaming endpoint configured")
	}

	if err := c.ensureConnected(ctx, sessionID); err != nil {
		if c.controller.CurrentState() == StateFallback {
			return c.submitFallback(ctx, sessionID, history, providerName, model)
		}
		return nil, err
	}

	result, err := c.streamTurn(ctx, history, providerName, model, onDelta)
	if err == nil {
		return result, nil
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		// The server answered; the turn itself failed. Not a transport
		// problem, so surface it without touching the connection.
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Transport dropped mid-turn. The server may have completed and persisted
	// the turn without the complete event reaching us, so resubmitting the
	// same history here could duplicate it. Surface the drop; the caller
	// decides whether the turn is worth repeating.
	c.dropConn()
	c.controller.OnTransportError()
	if c.logger != nil {
		c.logger.Printf("client.transport_error state=%s err=%v", c.controller.CurrentState(), err)
	}
	return nil, provider.Errorf(provider.KindNetwork, "client: transport dropped mid-turn: %v", err)
}

// ensureConnected dials the streaming endpoint under the controller's backoff
// policy. Returns nil with a live connection, or an error once the controller
// left the reconnecting state.
func (c *Client) ensureConnected(ctx context.Context, sessionID string) error {
	for {
		if c.conn != nil {
			return nil
		}

		url := c.cfg.WSURL
		if sessionID != "" {
			sep := "?"
			if strings.Contains(url, "?") {
				sep = "&"
			}
			url += sep + "session=" + sessionID
		}

		conn, _, err := c.dialer.DialContext(ctx, url, nil)
		if err == nil {
			c.conn = conn
			c.controller.OnConnected()
			if c.logger != nil {
				c.logger.Printf("client.connected url=%s", c.cfg.WSURL)
			}
			return nil
		}

		state, delay := c.controller.OnAttemptFailed()
		if c.logger != nil {
			c.logger.Printf("client.dial_failed state=%s retries=%d delay_ms=%d err=%v", state, c.controller.Retries(), delay.Milliseconds(), err)
		}
		if state != StateReconnecting {
			return provider.Errorf(provider.KindNetwork, "client: connect: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// streamTurn submits one turn on the live connection and consumes events
// until the terminal one.
func (c *Client) streamTurn(ctx context.Context, history []provider.Message, providerName, model string, onDelta DeltaFunc) (*TurnResult, error) {
	submission := map[string]interface{}{
		"messages": history,
		"provider": providerName,
		"model":    model,
	}
	if err := c.conn.WriteJSON(submission); err != nil {
		return nil, fmt.Errorf("client: write turn: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev relay.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return nil, fmt.Errorf("client: read event: %w", err)
		}
		switch ev.Type {
		case relay.EventStart, relay.EventPong:
			// informational
		case relay.EventChunk:
			if onDelta != nil {
				onDelta(ev.Content, ev.ChunkID)
			}
		case relay.EventComplete:
			return &TurnResult{
				Content:  ev.FullContent,
				Provider: ev.Provider,
				Model:    ev.Model,
			}, nil
		case relay.EventError:
			return nil, &provider.Error{Kind: provider.ErrorKind(ev.ErrorKind), Message: ev.Message}
		}
	}
}

// submitFallback runs the turn over the non-streaming HTTP path.
func (c *Client) submitFallback(ctx context.Context, sessionID string, history []provider.Message, providerName, model string) (*TurnResult, error) {
	if strings.TrimSpace(c.cfg.FallbackURL) == "" {
		c.controller.OnConfigError()
		return nil, provider.Errorf(provider.KindNetwork, "client: no fallback endpoint configured")
	}

	payload := map[string]interface{}{
		"session_id": sessionID,
		"messages":   history,
		"provider":   providerName,
		"model":      model,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("client: marshal fallback request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.FallbackURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create fallback request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Errorf(provider.KindNetwork, "client: fallback request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Errorf(provider.KindNetwork, "client: read fallback response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
			return nil, &provider.Error{Kind: provider.ErrorKind(errResp.Error), Message: errResp.Message}
		}
		return nil, provider.Errorf(provider.KindUpstream, "client: fallback http %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Content  string `json:"content"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("client: unmarshal fallback response: %w", err)
	}
	return &TurnResult{Content: out.Content, Provider: out.Provider, Model: out.Model}, nil
}

// RetryStreaming is the explicit user action that re-attempts the persistent
// transport after fallback (e.g. a manual retry button or page reload).
func (c *Client) RetryStreaming() {
	c.controller.ManualRetry()
}

// Close releases the persistent connection, cancelling any in-flight turn on
// the server side.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}


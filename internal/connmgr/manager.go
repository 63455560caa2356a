package connmgr

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/relay"
)

// ClientMessage is the single inbound message shape. A non-empty Type marks a
// heartbeat acknowledgment; otherwise the message begins a turn.
type ClientMessage struct {
	Type     string             `json:"type,omitempty"`
	Messages []provider.Message `json:"messages,omitempty"`
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
}

// Config holds tunables for the connection manager.
type Config struct {
	// HeartbeatInterval is the probe period. Zero means 15s.
	HeartbeatInterval time.Duration
	// HeartbeatMissLimit is how many consecutive silent intervals degrade the
	// session; one more closes it. Zero means 3.
	HeartbeatMissLimit int
	// WriteTimeout bounds each outbound write. Zero means 10s.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatMissLimit <= 0 {
		c.HeartbeatMissLimit = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Manager terminates persistent client connections and multiplexes events:
// inbound user messages go to the Coordinator, outbound events go back to the
// client in order.
type Manager struct {
	coordinator *relay.Coordinator
	sessions    *Registry
	cfg         Config
	logger      *log.Logger
	upgrader    websocket.Upgrader
}

// NewManager creates a Manager over the shared session registry.
func NewManager(coordinator *relay.Coordinator, sessions *Registry, cfg Config, logger *log.Logger) *Manager {
	return &Manager{
		coordinator: coordinator,
		sessions:    sessions,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay sits behind the app's own origin; cross-origin
			// policy is enforced by the outer middleware layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("ws.upgrade_failed err=%v", err)
		}
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	session := NewSession(uuid.New().String(), sessionID)
	m.sessions.Add(session)

	c := &wsConn{
		manager: m,
		session: session,
		conn:    conn,
	}
	c.run(r.Context())
}

// wsConn is the per-connection state: one gorilla conn, one session record,
// and a write mutex because gorilla permits a single concurrent writer.
type wsConn struct {
	manager *Manager
	session *Session
	conn    *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) run(parent context.Context) {
	m := c.manager
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	defer func() {
		// Graceful shutdown: cancel any in-flight turn before releasing the
		// session so the upstream connection is not leaked.
		c.session.CancelActiveTurn()
		c.session.SetState(StateClosed)
		m.sessions.Remove(c.session.ID)
		_ = c.conn.Close()
		if m.logger != nil {
			m.logger.Printf("ws.closed conn=%s session=%s live=%d", c.session.ID, c.session.SessionID, m.sessions.Len())
		}
	}()

	if m.logger != nil {
		m.logger.Printf("ws.open conn=%s session=%s live=%d", c.session.ID, c.session.SessionID, m.sessions.Len())
	}
	c.session.SetState(StateOpen)

	// Transport-level pongs and any inbound traffic both refresh liveness.
	c.conn.SetPongHandler(func(string) error {
		c.session.Heartbeat(time.Now())
		return nil
	})

	go c.heartbeatLoop(ctx, cancel)
	c.readLoop(ctx)
}

// heartbeatLoop probes the client on a fixed interval and walks the session
// through open -> degraded -> closed as acknowledgments go missing.
func (c *wsConn) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	m := c.manager
	interval := m.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		silent := time.Since(c.session.LastHeartbeat())
		missLimit := time.Duration(m.cfg.HeartbeatMissLimit) * interval
		switch {
		case silent > missLimit+interval:
			if m.logger != nil {
				m.logger.Printf("ws.heartbeat_lost conn=%s session=%s silent_ms=%d", c.session.ID, c.session.SessionID, silent.Milliseconds())
			}
			cancel()
			_ = c.conn.Close()
			return
		case silent > missLimit:
			c.session.SetState(StateDegraded)
		}

		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
		c.writeMu.Unlock()
		if err != nil {
			cancel()
			return
		}
	}
}

// readLoop consumes inbound messages until the connection drops.
func (c *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed client message: reject this message only, keep the
			// connection open.
			c.emit(relay.ErrorEvent(provider.KindProtocol, "malformed message: "+err.Error()))
			continue
		}

		switch msg.Type {
		case "ping":
			c.session.Heartbeat(time.Now())
			c.emit(relay.PongEvent())
		case "":
			c.handleTurn(ctx, msg)
		default:
			c.emit(relay.ErrorEvent(provider.KindProtocol, "unknown message type "+msg.Type))
		}
	}
}

// handleTurn claims the single turn slot and runs the turn on its own
// goroutine so heartbeats keep flowing while deltas stream.
func (c *wsConn) handleTurn(ctx context.Context, msg ClientMessage) {
	turnCtx, turnCancel := context.WithCancel(ctx)
	if !c.session.TryBeginTurn(turnCancel) {
		turnCancel()
		c.emit(relay.ErrorEvent(provider.KindConflict, "a turn is already streaming on this session"))
		return
	}

	req := relay.TurnRequest{
		SessionID: c.session.SessionID,
		History:   msg.Messages,
		Provider:  msg.Provider,
		Model:     msg.Model,
	}
	go func() {
		defer c.session.EndTurn()
		defer turnCancel()
		c.manager.coordinator.BeginTurn(turnCtx, req, c.emit)
	}()
}

// emit serializes one event to the client. Write failures close the
// connection via the read loop's subsequent error.
func (c *wsConn) emit(ev relay.Event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.cfg.WriteTimeout))
	_ = c.conn.WriteJSON(ev)
}

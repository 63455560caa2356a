package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/relay"
)

// statusClientClosedRequest is nginx's non-standard code for a request whose
// client disconnected before the response was ready.
const statusClientClosedRequest = 499

// FallbackRequest mirrors the turn-submission payload of the WebSocket path.
type FallbackRequest struct {
	SessionID string             `json:"session_id,omitempty"`
	Messages  []provider.Message `json:"messages"`
	Provider  string             `json:"provider"`
	Model     string             `json:"model"`
}

// FallbackResponse returns the full text in one reply instead of deltas.
type FallbackResponse struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleFallbackCompletion serves the non-streaming request/response path
// used after the client's reconnect attempts exhaust. The turn lifecycle is
// identical to the streaming path; only the transport differs.
func (s *Server) handleFallbackCompletion(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req FallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, provider.KindProtocol, "malformed request: "+err.Error())
		return
	}

	var terminal relay.Event
	turn := s.coordinator.BeginTurn(r.Context(), relay.TurnRequest{
		SessionID: req.SessionID,
		History:   req.Messages,
		Provider:  req.Provider,
		Model:     req.Model,
	}, func(ev relay.Event) {
		// Deltas are swallowed; only the terminal event shapes the response.
		if ev.Type == relay.EventComplete || ev.Type == relay.EventError {
			terminal = ev
		}
	})

	switch turn.Status {
	case relay.StatusComplete:
		s.respondJSON(w, http.StatusOK, FallbackResponse{
			Content:  turn.Output,
			Provider: turn.Provider,
			Model:    turn.Model,
		})
		if s.logger != nil {
			s.logger.Printf("chat.fallback total_ms=%d provider=%s model=%s", time.Since(reqStart).Milliseconds(), req.Provider, req.Model)
		}
	case relay.StatusCancelled:
		// Client abandoned the request mid-turn. 499 follows the nginx
		// convention for client-closed requests, for the rare listener that
		// is still attached.
		w.WriteHeader(statusClientClosedRequest)
		s.debugf("chat.fallback cancelled session=%s", req.SessionID)
	default:
		status := http.StatusBadGateway
		switch provider.ErrorKind(terminal.ErrorKind) {
		case provider.KindCredentials:
			status = http.StatusUnauthorized
		case provider.KindProtocol:
			status = http.StatusBadRequest
		}
		s.respondError(w, status, provider.ErrorKind(terminal.ErrorKind), terminal.Message)
	}
}

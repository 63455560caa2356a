package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chatstream/relay/internal/connmgr"
	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/relay"
	"github.com/chatstream/relay/internal/version"
)

// ProviderInfo is one entry of the /v1/providers catalog response.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	DefaultModel string   `json:"default_model,omitempty"`
	Models       []string `json:"models,omitempty"`
}

// Server exposes the relay's HTTP surface: the WebSocket endpoint, the
// non-streaming fallback endpoint, and the small read-only endpoints.
type Server struct {
	coordinator *relay.Coordinator
	manager     *connmgr.Manager
	registry    *provider.Registry
	catalog     []ProviderInfo
	logger      *log.Logger
	logLevel    string
}

// New creates a Server.
func New(coordinator *relay.Coordinator, manager *connmgr.Manager, registry *provider.Registry, catalog []ProviderInfo, logger *log.Logger, logLevel string) *Server {
	return &Server{
		coordinator: coordinator,
		manager:     manager,
		registry:    registry,
		catalog:     catalog,
		logger:      logger,
		logLevel:    strings.ToLower(strings.TrimSpace(logLevel)),
	}
}

// Router builds the chi router with all endpoints registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/providers", s.handleProviders)
	r.Get("/v1/chat/ws", s.manager.ServeWS)
	r.Post("/v1/chat/completions", s.handleFallbackCompletion)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   version.Version,
		"providers": s.registry.Names(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	// Only advertise providers that are actually registered (credentialed).
	registered := make(map[string]bool)
	for _, name := range s.registry.Names() {
		registered[name] = true
	}
	out := make([]ProviderInfo, 0, len(s.catalog))
	for _, info := range s.catalog {
		if registered[info.Name] {
			out = append(out, info)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Printf("respond json: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind provider.ErrorKind, message string) {
	s.respondJSON(w, status, map[string]string{
		"error":   string(kind),
		"message": message,
	})
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.logger != nil && s.logLevel == "debug" {
		s.logger.Printf(format, args...)
	}
}

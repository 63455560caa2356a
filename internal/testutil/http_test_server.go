package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// IPv4Server is a test HTTP server pinned to the IPv4 loopback, so tests
// behave the same on hosts where localhost resolves to ::1 first.
type IPv4Server struct {
	URL      string
	listener net.Listener
	server   *http.Server
	client   *http.Client
}

// NewIPv4Server starts an HTTP server on 127.0.0.1 with an ephemeral port.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	s := &IPv4Server{
		URL:      "http://" + l.Addr().String(),
		listener: l,
		server:   &http.Server{Handler: handler},
		client:   &http.Client{},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	return s
}

// Client returns an HTTP client for talking to the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the server.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	s.client.CloseIdleConnections()
}

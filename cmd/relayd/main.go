package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatstream/relay/internal/config"
	"github.com/chatstream/relay/internal/connmgr"
	"github.com/chatstream/relay/internal/credentials"
	"github.com/chatstream/relay/internal/httpserver"
	"github.com/chatstream/relay/internal/logging"
	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/provider/anthropic"
	"github.com/chatstream/relay/internal/provider/loopback"
	"github.com/chatstream/relay/internal/provider/ollama"
	"github.com/chatstream/relay/internal/provider/openai"
	"github.com/chatstream/relay/internal/relay"
	"github.com/chatstream/relay/internal/turnstore"
	turnstorepostgres "github.com/chatstream/relay/internal/turnstore/postgres"
	turnstoresqlite "github.com/chatstream/relay/internal/turnstore/sqlite"
	"github.com/chatstream/relay/internal/version"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	logTarget := strings.TrimSpace(cfg.LogFile)
	if logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[relayd] ")

	log.Printf("chatstream relay %s env=%s", version.Version, cfg.Environment)

	creds := credentials.NewConfigStore(map[string]string{
		"openai":    cfg.OpenAIAPIKey,
		"anthropic": cfg.AnthropicAPIKey,
		"ollama":    cfg.OllamaBaseURL,
	})

	registry := provider.NewRegistry()
	registerProviders(registry, creds, cfg)
	if len(registry.Names()) == 0 {
		log.Fatalf("no providers available: configure at least one API key or enable loopback")
	}
	log.Printf("providers registered: %s", strings.Join(registry.Names(), ","))

	store, err := openTurnStore(cfg)
	if err != nil {
		log.Fatalf("open turn store: %v", err)
	}
	defer store.Close()

	catalogEntries, err := config.LoadProviderCatalog(cfg.ProviderCatalogFile)
	if err != nil {
		log.Fatalf("load provider catalog: %v", err)
	}
	catalog := make([]httpserver.ProviderInfo, 0, len(catalogEntries))
	for _, e := range catalogEntries {
		catalog = append(catalog, httpserver.ProviderInfo{
			Name:         e.Name,
			DisplayName:  e.DisplayName,
			DefaultModel: e.DefaultModel,
			Models:       e.Models,
		})
	}

	logger := log.New(log.Writer(), "[relayd] ", log.LstdFlags|log.Lmicroseconds)
	coordinator := relay.NewCoordinator(registry, store, logger)
	sessions := connmgr.NewRegistry()
	manager := connmgr.NewManager(coordinator, sessions, connmgr.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatMissLimit: cfg.HeartbeatMissLimit,
	}, logger)

	httpSrv := httpserver.New(coordinator, manager, registry, catalog, logger, cfg.LogLevel)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: WebSocket connections and streamed responses stay
		// open far longer than any sane fixed deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("relay listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	log.Printf("shutting down: cancelling %d live session(s)", sessions.Len())
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// registerProviders wires each upstream adapter for which credentials resolve.
// Missing credentials skip the provider rather than failing startup; a turn
// naming an unregistered provider gets a protocol error at submission time.
func registerProviders(registry *provider.Registry, creds credentials.Store, cfg config.RelayConfig) {
	if key, ok := creds.Get("openai"); ok {
		a, err := openai.New(openai.Config{
			APIKey:         key,
			BaseURL:        cfg.OpenAIBaseURL,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			log.Printf("openai adapter disabled: %v", err)
		} else {
			registry.Register(a)
		}
	}
	if key, ok := creds.Get("anthropic"); ok {
		a, err := anthropic.New(anthropic.Config{
			APIKey:         key,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			log.Printf("anthropic adapter disabled: %v", err)
		} else {
			registry.Register(a)
		}
	}
	if baseURL, ok := creds.Get("ollama"); ok {
		a, err := ollama.New(ollama.Config{
			BaseURL:        baseURL,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			log.Printf("ollama adapter disabled: %v", err)
		} else {
			registry.Register(a)
		}
	}
	if cfg.LoopbackEnabled {
		registry.Register(loopback.New())
	}
}

func openTurnStore(cfg config.RelayConfig) (turnstore.Store, error) {
	switch cfg.TurnStoreDriver {
	case "postgres":
		log.Printf("turn store driver=postgres")
		return turnstorepostgres.New(cfg.TurnStoreDSN, 10, 5)
	default:
		log.Printf("turn store driver=sqlite path=%s", cfg.TurnStorePath)
		return turnstoresqlite.New(cfg.TurnStorePath)
	}
}

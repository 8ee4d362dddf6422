package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/voice-relay/internal/agentprofile"
	"github.com/chadiek/voice-relay/internal/config"
	"github.com/chadiek/voice-relay/internal/httpserver"
	"github.com/chadiek/voice-relay/internal/memory"
	"github.com/chadiek/voice-relay/internal/relay"
	"github.com/chadiek/voice-relay/internal/upstream"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	profiles := agentprofile.Defaults()
	if cfg.AgentProfilePath != "" {
		loaded, err := agentprofile.Load(cfg.AgentProfilePath)
		if err != nil {
			log.Fatalf("loading agent profiles from %s: %v", cfg.AgentProfilePath, err)
		}
		profiles = loaded
	}

	var mem memory.Sink = memory.Nop{}
	if cfg.MemoryEndpoint != "" {
		mem = memory.NewClient(cfg.MemoryEndpoint, cfg.MemoryAPIKey)
	}

	registry := relay.NewRegistry()
	server := httpserver.New(registry, func(sessionID string) *relay.Proxy {
		up := upstream.NewClient(upstream.Config{
			URL:            cfg.UpstreamURL,
			APIKey:         cfg.UpstreamAPIKey,
			ConnectTimeout: cfg.UpstreamConnectTimeout,
		})
		return relay.NewProxy(sessionID, cfg.DefaultAgentID, profiles, up, mem)
	})

	go func() {
		if err := server.Echo.Start(cfg.HTTPAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("voice relay listening on %s", cfg.HTTPAddress)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Echo.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

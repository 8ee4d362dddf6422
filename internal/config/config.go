package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	UpstreamURL            string
	UpstreamAPIKey         string
	UpstreamConnectTimeout time.Duration

	MemoryEndpoint string
	MemoryAPIKey   string

	AgentProfilePath string
	DefaultAgentID   string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	upstreamURL := os.Getenv("UPSTREAM_URL")
	if upstreamURL == "" {
		log.Println("Warning: UPSTREAM_URL not set - relay sessions will fail to connect upstream")
	}
	upstreamKey := os.Getenv("UPSTREAM_API_KEY")
	if upstreamKey == "" {
		log.Println("Warning: UPSTREAM_API_KEY not set - upstream may reject connections")
	}

	connectTimeout := 10 * time.Second
	if v := os.Getenv("UPSTREAM_CONNECT_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			log.Printf("Warning: invalid UPSTREAM_CONNECT_TIMEOUT_MS=%q, using default", v)
		} else {
			connectTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	memoryEndpoint := os.Getenv("MEMORY_ENDPOINT")
	if memoryEndpoint == "" {
		log.Println("Warning: MEMORY_ENDPOINT not set - finalized turns will not be persisted")
	}

	defaultAgent := os.Getenv("DEFAULT_AGENT_ID")
	if defaultAgent == "" {
		defaultAgent = "aria"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:            addr,
		UpstreamURL:            upstreamURL,
		UpstreamAPIKey:         upstreamKey,
		UpstreamConnectTimeout: connectTimeout,
		MemoryEndpoint:         memoryEndpoint,
		MemoryAPIKey:           os.Getenv("MEMORY_API_KEY"),
		AgentProfilePath:       os.Getenv("AGENT_PROFILE_PATH"),
		DefaultAgentID:         defaultAgent,
	}
}

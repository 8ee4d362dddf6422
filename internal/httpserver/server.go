package httpserver

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-relay/internal/protocol"
	"github.com/chadiek/voice-relay/internal/relay"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// ProxyFactory builds a relay proxy for one session id. Injected so the
// upstream connection wiring stays out of the HTTP layer.
type ProxyFactory func(sessionID string) *relay.Proxy

// Server bundles the HTTP router and relay dependencies.
type Server struct {
	Echo     *echo.Echo
	registry *relay.Registry
	newProxy ProxyFactory
}

// New constructs the HTTP server with routes.
func New(registry *relay.Registry, newProxy ProxyFactory) *Server {
	s := &Server{
		Echo:     newRouter(),
		registry: registry,
		newProxy: newProxy,
	}

	s.Echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.Echo.GET("/session/:id", s.handleSession)

	return s
}

// handleSession upgrades one websocket per session and runs the relay
// for its lifetime. A second connection for an active session id is
// rejected rather than attached.
func (s *Server) handleSession(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return c.String(http.StatusBadRequest, "missing session id")
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[%s] ws upgrade error: %v", sessionID, err)
		return nil
	}

	proxy, created := s.registry.Acquire(sessionID, func() *relay.Proxy {
		return s.newProxy(sessionID)
	})
	if !created {
		log.Printf("[%s] rejecting second client socket", sessionID)
		_ = conn.WriteJSON(protocol.NewError("session already active"))
		_ = conn.Close()
		return nil
	}
	defer s.registry.Release(sessionID, proxy)

	// Run blocks until either side disconnects; its error only means the
	// upstream connect failed, which already surfaced to the client.
	_ = proxy.Run(c.Request().Context(), conn)
	return nil
}

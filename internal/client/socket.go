package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-relay/internal/protocol"
)

// SocketStatus is reported through Handlers.OnStatus as the connection
// moves through its lifecycle.
type SocketStatus string

const (
	StatusConnecting   SocketStatus = "connecting"
	StatusConnected    SocketStatus = "connected"
	StatusDisconnected SocketStatus = "disconnected"
	StatusFailed       SocketStatus = "error"
)

// Handlers receives decoded relay messages. Nil fields are skipped.
// Callbacks run on the socket's read goroutine; handlers that block
// stall inbound delivery.
type Handlers struct {
	OnTranscription func(protocol.Transcription)
	OnAudio         func(protocol.Audio)
	OnAgentSwitched func(protocol.AgentSwitched)
	OnError         func(protocol.ErrorMessage)
	OnStatus        func(SocketStatus)
}

// Socket is one client's connection to a relay session. All sends go
// through a mutex so concurrent producers (mic loop, command loop)
// never interleave frames.
type Socket struct {
	handlers Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	open      bool
	closed    bool
}

func NewSocket(handlers Handlers) *Socket {
	return &Socket{handlers: handlers}
}

// SessionID returns the id the socket connected with, generated if the
// caller passed none.
func (s *Socket) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connect dials the relay's session endpoint. An empty sessionID gets
// a generated one so every connection lands in its own session slot.
func (s *Socket) Connect(ctx context.Context, baseURL, sessionID string) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	if s.open || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("socket: already connected")
	}
	s.sessionID = sessionID
	s.mu.Unlock()

	s.status(StatusConnecting)

	endpoint, err := sessionEndpoint(baseURL, sessionID)
	if err != nil {
		s.status(StatusFailed)
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.status(StatusFailed)
		return fmt.Errorf("socket: dialing %s: %w", endpoint, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.mu.Unlock()

	s.status(StatusConnected)
	go s.readLoop(conn)
	return nil
}

// SendAudio ships one base64 PCM16 frame. Frames sent while the socket
// is not open are dropped; the mic keeps running across reconnects and
// a dropped frame is preferable to a blocked capture loop.
func (s *Socket) SendAudio(b64 string) {
	s.send(protocol.NewAudioFrame(b64))
}

// SendAgentSwitch requests an in-place agent change.
func (s *Socket) SendAgentSwitch(agentID string) {
	s.send(protocol.NewAgentSwitch(agentID))
}

// SendCancel interrupts the agent's current response.
func (s *Socket) SendCancel() {
	s.send(protocol.NewCancel())
}

// Close tears the connection down. Safe to call more than once.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasOpen := s.open
	s.open = false
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasOpen {
		s.status(StatusDisconnected)
	}
}

func (s *Socket) send(msg protocol.ClientMessage) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		log.Printf("[%s] socket not open, dropping %s message", s.sessionID, msg.Type)
		return
	}
	conn := s.conn
	err := conn.WriteJSON(msg)
	s.mu.Unlock()
	if err != nil {
		log.Printf("[%s] error sending %s message: %v", s.sessionID, msg.Type, err)
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	defer s.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					log.Printf("[%s] socket read error: %v", s.sessionID, err)
				}
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Socket) dispatch(data []byte) {
	var envelope protocol.ServerEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Printf("[%s] error decoding relay message: %v", s.sessionID, err)
		return
	}
	switch envelope.Type {
	case protocol.TypeTranscription:
		var m protocol.Transcription
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[%s] error decoding transcription: %v", s.sessionID, err)
			return
		}
		if s.handlers.OnTranscription != nil {
			s.handlers.OnTranscription(m)
		}
	case protocol.TypeAudio:
		var m protocol.Audio
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[%s] error decoding audio: %v", s.sessionID, err)
			return
		}
		if s.handlers.OnAudio != nil {
			s.handlers.OnAudio(m)
		}
	case protocol.TypeAgentSwitched:
		var m protocol.AgentSwitched
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[%s] error decoding agent_switched: %v", s.sessionID, err)
			return
		}
		if s.handlers.OnAgentSwitched != nil {
			s.handlers.OnAgentSwitched(m)
		}
	case protocol.TypeError:
		var m protocol.ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[%s] error decoding error message: %v", s.sessionID, err)
			return
		}
		if s.handlers.OnError != nil {
			s.handlers.OnError(m)
		}
	default:
		log.Printf("[%s] dropping unknown relay message type %q", s.sessionID, envelope.Type)
	}
}

func (s *Socket) status(st SocketStatus) {
	if s.handlers.OnStatus != nil {
		s.handlers.OnStatus(st)
	}
}

// sessionEndpoint resolves the websocket URL for a session against the
// relay base URL. http/https schemes are rewritten to ws/wss.
func sessionEndpoint(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("socket: parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("socket: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/session/" + sessionID
	return u.String(), nil
}

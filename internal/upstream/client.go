// Package upstream owns the single outbound websocket connection from a
// relay session to the third-party realtime speech-to-speech API. It
// translates the upstream wire protocol into a compact typed event
// stream and accepts audio input frames plus a small set of controls.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-relay/internal/agentprofile"
	"github.com/chadiek/voice-relay/internal/audio"
)

// ErrConnectTimeout is returned when the upstream handshake exceeds the
// configured connect timeout. Only the initial connect has a timeout;
// once active, liveness is the socket's responsibility.
var ErrConnectTimeout = errors.New("upstream: connect timeout")

// ErrNotConnected is returned for operations on a closed or never
// connected client.
var ErrNotConnected = errors.New("upstream: not connected")

// Config holds the connection parameters for the speech API.
type Config struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
}

// Connection is the relay-facing surface of one upstream session.
type Connection interface {
	Connect(ctx context.Context, p agentprofile.Profile) error
	Events() <-chan Event
	AppendAudio(b64 string) error
	UpdateProfile(p agentprofile.Profile) error
	Cancel() error
	Close() error
}

// Client implements Connection over a gorilla websocket. A Client is
// single-use: once closed it cannot be reconnected, a fresh session
// gets a fresh Client.
type Client struct {
	cfg Config

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	events chan Event
	send   chan []byte
	stopCh chan struct{}
}

// NewClient constructs an unconnected upstream client.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 256),
		send:   make(chan []byte, 1024),
		stopCh: make(chan struct{}),
	}
}

type sessionPayload struct {
	Voice             string `json:"voice"`
	Instructions      string `json:"instructions"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
	SampleRate        int    `json:"sample_rate_hz"`
}

type controlFrame struct {
	Type    string          `json:"type"`
	Session *sessionPayload `json:"session,omitempty"`
	Audio   string          `json:"audio,omitempty"`
}

func sessionUpdateFrame(p agentprofile.Profile) controlFrame {
	return controlFrame{
		Type: "session.update",
		Session: &sessionPayload{
			Voice:             p.Voice,
			Instructions:      p.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			SampleRate:        audio.SampleRate,
		},
	}
}

// Connect dials the speech API with a bounded timeout and configures
// the session with the given voice profile. Fails with ErrConnectTimeout
// when the handshake exceeds the configured window.
func (c *Client) Connect(ctx context.Context, p agentprofile.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("upstream: client already closed: %w", ErrNotConnected)
	}
	if c.connected {
		return nil
	}
	if c.cfg.URL == "" {
		return fmt.Errorf("upstream: url missing")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	headers := map[string][]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = []string{"Bearer " + c.cfg.APIKey}
	}
	conn, resp, err := dialer.DialContext(dialCtx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("upstream: connect failed with status: %d", resp.StatusCode)
		}
		if isTimeout(err) || dialCtx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return fmt.Errorf("upstream: connect: %w", err)
	}

	// Configure the session before any audio flows.
	if err := conn.WriteJSON(sessionUpdateFrame(p)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("upstream: configure session: %w", err)
	}

	c.conn = conn
	c.connected = true

	go c.readLoop()
	go c.writeLoop()

	log.Printf("upstream: connected, voice=%s", p.Voice)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Events returns the translated upstream event stream. The channel is
// closed when the upstream connection ends for any reason.
func (c *Client) Events() <-chan Event { return c.events }

// AppendAudio queues one base64 PCM16 frame for upstream delivery in
// arrival order. When the buffer is full the frame is dropped: stale
// audio has no value.
func (c *Client) AppendAudio(b64 string) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	frame, _ := json.Marshal(controlFrame{Type: "input_audio_buffer.append", Audio: b64})
	select {
	case c.send <- frame:
	default:
		log.Println("upstream: audio buffer full, dropping frame")
	}
	return nil
}

// UpdateProfile reconfigures the active session in place. The
// connection is not reopened, so in-flight audio is unaffected.
func (c *Client) UpdateProfile(p agentprofile.Profile) error {
	return c.sendControl(sessionUpdateFrame(p))
}

// Cancel asks the upstream to stop generating the current response.
// Idempotent: cancelling with nothing active is accepted upstream as a
// no-op.
func (c *Client) Cancel() error {
	return c.sendControl(controlFrame{Type: "response.cancel"})
}

// sendControl enqueues a control frame, blocking until there is room or
// the client is closed. Controls must not be dropped like audio.
func (c *Client) sendControl(f controlFrame) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	frame, _ := json.Marshal(f)
	select {
	case c.send <- frame:
		return nil
	case <-c.stopCh:
		return ErrNotConnected
	}
}

// Close tears down the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.stopCh)
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.conn = nil
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				log.Printf("upstream: read error: %v", err)
			}
			return
		}
		ev, ok := parseEvent(message)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case frame := <-c.send:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("upstream: write error: %v", err)
				return
			}
		}
	}
}

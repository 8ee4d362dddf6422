package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-relay/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relayStub accepts one session websocket, records inbound client
// frames and replays a scripted list of server messages.
type relayStub struct {
	mu       sync.Mutex
	path     string
	inbound  []protocol.ClientMessage
	outbound []any
	server   *httptest.Server
}

func newRelayStub(outbound ...any) *relayStub {
	stub := &relayStub{outbound: outbound}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.path = r.URL.Path
		stub.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range outbound {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m protocol.ClientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			stub.mu.Lock()
			stub.inbound = append(stub.inbound, m)
			stub.mu.Unlock()
		}
	}))
	return stub
}

func (s *relayStub) requestPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *relayStub) received() []protocol.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ClientMessage, len(s.inbound))
	copy(out, s.inbound)
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestSocket_DispatchesServerMessages(t *testing.T) {
	stub := newRelayStub(
		protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, "hel"),
		protocol.NewAudio("cGNt"),
		protocol.NewAgentSwitched("marcus"),
		protocol.NewError("upstream gone"),
	)
	defer stub.server.Close()

	var mu sync.Mutex
	var transcriptions []protocol.Transcription
	var audioFrames []protocol.Audio
	var switches []protocol.AgentSwitched
	var errs []protocol.ErrorMessage

	sock := NewSocket(Handlers{
		OnTranscription: func(m protocol.Transcription) {
			mu.Lock()
			transcriptions = append(transcriptions, m)
			mu.Unlock()
		},
		OnAudio: func(m protocol.Audio) {
			mu.Lock()
			audioFrames = append(audioFrames, m)
			mu.Unlock()
		},
		OnAgentSwitched: func(m protocol.AgentSwitched) {
			mu.Lock()
			switches = append(switches, m)
			mu.Unlock()
		},
		OnError: func(m protocol.ErrorMessage) {
			mu.Lock()
			errs = append(errs, m)
			mu.Unlock()
		},
	})
	if err := sock.Connect(context.Background(), stub.server.URL, "abc123"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sock.Close()

	waitUntil(t, func() {
		mu.Lock()
		defer mu.Unlock()
		return len(transcriptions) == 1 && len(audioFrames) == 1 && len(switches) == 1 && len(errs) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if transcriptions[0].Text != "hel" || transcriptions[0].Speaker != protocol.SpeakerUser {
		t.Fatalf("unexpected transcription: %+v", transcriptions[0])
	}
	if audioFrames[0].Data != "cGNt" || audioFrames[0].Format != protocol.AudioFormat {
		t.Fatalf("unexpected audio frame: %+v", audioFrames[0])
	}
	if switches[0].AgentID != "marcus" {
		t.Fatalf("unexpected agent switch: %+v", switches[0])
	}
	if errs[0].Message != "upstream gone" {
		t.Fatalf("unexpected error message: %+v", errs[0])
	}
}

func TestSocket_SendsClientFrames(t *testing.T) {
	stub := newRelayStub()
	defer stub.server.Close()

	sock := NewSocket(Handlers{})
	if err := sock.Connect(context.Background(), stub.server.URL, "abc123"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sock.Close()

	sock.SendAudio("cGNt")
	sock.SendAgentSwitch("marcus")
	sock.SendCancel()

	waitUntil(t, func() { return len(stub.received()) == 3 })

	got := stub.received()
	if got[0].Type != protocol.TypeAudio || got[0].Data != "cGNt" {
		t.Fatalf("unexpected first frame: %+v", got[0])
	}
	if got[1].Type != protocol.TypeAgent || got[1].AgentID != "marcus" {
		t.Fatalf("unexpected second frame: %+v", got[1])
	}
	if got[2].Type != protocol.TypeCancel {
		t.Fatalf("unexpected third frame: %+v", got[2])
	}
}

func TestSocket_GeneratesSessionIDWhenEmpty(t *testing.T) {
	stub := newRelayStub()
	defer stub.server.Close()

	sock := NewSocket(Handlers{})
	if err := sock.Connect(context.Background(), stub.server.URL, ""); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sock.Close()

	id := sock.SessionID()
	if id == "" {
		t.Fatalf("expected a generated session id")
	}
	waitUntil(t, func() { return stub.requestPath() != "" })
	if want := "/session/" + id; stub.requestPath() != want {
		t.Fatalf("expected path %q, got %q", want, stub.requestPath())
	}
}

func TestSocket_StatusTransitions(t *testing.T) {
	stub := newRelayStub()
	defer stub.server.Close()

	var mu sync.Mutex
	var statuses []SocketStatus
	sock := NewSocket(Handlers{
		OnStatus: func(st SocketStatus) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		},
	})
	if err := sock.Connect(context.Background(), stub.server.URL, "abc123"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sock.Close()
	sock.Close() // idempotent

	mu.Lock()
	defer mu.Unlock()
	want := []SocketStatus{StatusConnecting, StatusConnected, StatusDisconnected}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
}

func TestSocket_ConnectFailureReportsError(t *testing.T) {
	var mu sync.Mutex
	var statuses []SocketStatus
	sock := NewSocket(Handlers{
		OnStatus: func(st SocketStatus) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		},
	})
	err := sock.Connect(context.Background(), "http://127.0.0.1:1", "abc123")
	if err == nil {
		t.Fatalf("expected connect error")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || statuses[0] != StatusConnecting || statuses[1] != StatusFailed {
		t.Fatalf("expected [connecting error], got %v", statuses)
	}
}

func TestSocket_SendWhileClosedIsDropped(t *testing.T) {
	sock := NewSocket(Handlers{})
	// Must not panic or block before any connection exists.
	sock.SendAudio("cGNt")
	sock.SendCancel()
	sock.Close()
}

func TestSessionEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://relay.local:8080", "ws://relay.local:8080/session/s1"},
		{"https://relay.local", "wss://relay.local/session/s1"},
		{"ws://relay.local/base/", "ws://relay.local/base/session/s1"},
	}
	for _, tt := range tests {
		got, err := sessionEndpoint(tt.base, "s1")
		if err != nil {
			t.Fatalf("%s: %v", tt.base, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.base, tt.want, got)
		}
	}
	if _, err := sessionEndpoint("ftp://relay.local", "s1"); err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

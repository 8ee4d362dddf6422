// Package relay bridges one client session websocket to one upstream
// speech API connection. The proxy owns both directions, translates
// upstream events into the client-facing protocol, detects turn
// completion, and hands finalized turns to the memory sink.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chadiek/voice-relay/internal/agentprofile"
	"github.com/chadiek/voice-relay/internal/audio"
	"github.com/chadiek/voice-relay/internal/memory"
	"github.com/chadiek/voice-relay/internal/protocol"
	"github.com/chadiek/voice-relay/internal/transcript"
	"github.com/chadiek/voice-relay/internal/upstream"
)

// State is the proxy lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnectingUpstream
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectingUpstream:
		return "connecting-upstream"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ClientConn is the subset of the session websocket the proxy uses.
// *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// bargeVoiceFrames is how many consecutive voiced client chunks are
// required before the proxy interrupts an in-progress agent response.
const bargeVoiceFrames = 3

// memorySubmitTimeout bounds each fire-and-forget persistence call.
const memorySubmitTimeout = 10 * time.Second

// Proxy is the per-session relay state machine.
type Proxy struct {
	sessionID string
	profiles  *agentprofile.Store
	mem       memory.Sink
	up        upstream.Connection
	asm       *transcript.Assembler

	state atomic.Int32

	writeMu sync.Mutex
	client  ClientConn

	mu            sync.Mutex
	agentID       string
	agentSpeaking bool
	voiceFrames   int
	bargeSent     bool
}

// NewProxy constructs a proxy for one session. The upstream connection
// is owned exclusively by this proxy and closed on teardown.
func NewProxy(sessionID, agentID string, profiles *agentprofile.Store, up upstream.Connection, mem memory.Sink) *Proxy {
	if mem == nil {
		mem = memory.Nop{}
	}
	p := &Proxy{
		sessionID: sessionID,
		profiles:  profiles,
		mem:       mem,
		up:        up,
		agentID:   agentID,
	}
	p.asm = transcript.NewAssembler(nil)
	p.state.Store(int32(StateIdle))
	return p
}

// State returns the current lifecycle state.
func (p *Proxy) State() State { return State(p.state.Load()) }

func (p *Proxy) setState(s State) { p.state.Store(int32(s)) }

// AgentID returns the currently active agent.
func (p *Proxy) AgentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agentID
}

// Run drives the session until either side disconnects. It blocks for
// the lifetime of the relay and guarantees both connections are closed
// on return. A non-nil error means the upstream connect failed and the
// registry slot should be freed for retry.
func (p *Proxy) Run(ctx context.Context, conn ClientConn) error {
	p.writeMu.Lock()
	p.client = conn
	p.writeMu.Unlock()

	p.setState(StateConnectingUpstream)
	profile := p.profiles.Lookup(p.AgentID())
	p.mu.Lock()
	p.agentID = profile.AgentID
	p.mu.Unlock()

	if err := p.up.Connect(ctx, profile); err != nil {
		p.setState(StateError)
		msg := "upstream connection failed"
		if errors.Is(err, upstream.ErrConnectTimeout) {
			msg = "upstream connection timed out"
		}
		log.Printf("[%s] %s: %v", p.sessionID, msg, err)
		p.writeClient(protocol.NewError(msg))
		_ = conn.Close()
		p.setState(StateClosed)
		return err
	}
	p.setState(StateActive)
	log.Printf("[%s] relay active, agent=%s", p.sessionID, profile.AgentID)

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		p.upstreamLoop()
	}()

	p.clientLoop(conn)

	// Client side ended (or upstream teardown closed it). Tear down both.
	p.beginClose()
	_ = p.up.Close()
	<-upstreamDone
	_ = conn.Close()
	p.setState(StateClosed)
	log.Printf("[%s] relay closed", p.sessionID)
	return nil
}

// clientLoop reads and dispatches frames from the client socket until
// it fails or closes.
func (p *Proxy) clientLoop(conn ClientConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if p.State() == StateActive {
				log.Printf("[%s] client disconnected: %v", p.sessionID, err)
			}
			return
		}
		msg, perr := protocol.ParseClientMessage(data)
		if perr != nil {
			var unknown *protocol.ErrUnknownType
			if errors.As(perr, &unknown) {
				log.Printf("[%s] dropping unknown client message type %q", p.sessionID, unknown.Type)
			} else {
				log.Printf("[%s] dropping malformed client frame: %v", p.sessionID, perr)
			}
			continue
		}
		switch msg.Type {
		case protocol.TypeAudio:
			p.handleAudio(msg.Data)
		case protocol.TypeAgent:
			p.handleAgentSwitch(msg.AgentID)
		case protocol.TypeCancel:
			p.handleCancel()
		}
	}
}

// handleAudio forwards one client chunk upstream unmodified, in arrival
// order. Malformed payloads are dropped without aborting the session.
func (p *Proxy) handleAudio(b64 string) {
	if p.State() != StateActive {
		return
	}
	pcm, err := audio.DecodeBase64(b64)
	if err != nil {
		log.Printf("[%s] dropping undecodable audio frame: %v", p.sessionID, err)
		return
	}
	p.observeVoice(pcm)
	if err := p.up.AppendAudio(b64); err != nil {
		log.Printf("[%s] forward audio: %v", p.sessionID, err)
	}
}

// observeVoice tracks voice energy in inbound client audio. Sustained
// voice while the agent is speaking triggers the same cancel path as an
// explicit barge-in so the agent stops talking over the user.
func (p *Proxy) observeVoice(pcm []byte) {
	p.mu.Lock()
	if !audio.HasVoice(pcm) {
		p.voiceFrames = 0
		p.mu.Unlock()
		return
	}
	p.voiceFrames++
	trigger := p.agentSpeaking && !p.bargeSent && p.voiceFrames >= bargeVoiceFrames
	if trigger {
		p.bargeSent = true
	}
	p.mu.Unlock()
	if trigger {
		log.Printf("[%s] barge-in detected, cancelling agent response", p.sessionID)
		if err := p.up.Cancel(); err != nil {
			log.Printf("[%s] barge-in cancel: %v", p.sessionID, err)
		}
	}
}

// handleAgentSwitch reconfigures the existing upstream connection in
// place and confirms to the client. The socket and upstream connection
// stay open so in-flight audio is not dropped.
func (p *Proxy) handleAgentSwitch(agentID string) {
	if p.State() != StateActive {
		return
	}
	profile := p.profiles.Lookup(agentID)
	if err := p.up.UpdateProfile(profile); err != nil {
		log.Printf("[%s] agent switch to %q failed: %v", p.sessionID, agentID, err)
		p.writeClient(protocol.NewError("agent switch failed"))
		return
	}
	p.mu.Lock()
	p.agentID = profile.AgentID
	p.mu.Unlock()
	log.Printf("[%s] agent switched to %s", p.sessionID, profile.AgentID)
	p.writeClient(protocol.NewAgentSwitched(profile.AgentID))
}

// handleCancel asks upstream to stop the current response. Cancelling
// with nothing active is a no-op and never closes the relay.
func (p *Proxy) handleCancel() {
	if p.State() != StateActive {
		return
	}
	if err := p.up.Cancel(); err != nil {
		log.Printf("[%s] cancel: %v", p.sessionID, err)
	}
}

// upstreamLoop translates every upstream event into exactly one
// client-facing event until the upstream connection ends, then closes
// the client socket so clientLoop unblocks.
func (p *Proxy) upstreamLoop() {
	for ev := range p.up.Events() {
		switch ev.Type {
		case upstream.EventSessionCreated, upstream.EventSessionUpdated:
			// Profile confirmations surface via agent_switched on the
			// control path; nothing to forward here.
		case upstream.EventSpeechStarted:
			p.asm.Listening(transcript.SpeakerUser)
			p.writeClient(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusListening, ""))
		case upstream.EventInputDelta:
			p.asm.AddDelta(transcript.SpeakerUser, ev.Text)
			p.writeClient(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, ev.Text))
		case upstream.EventInputCompleted:
			p.finalizeTurn(transcript.SpeakerUser, ev.Text)
		case upstream.EventReplyDelta:
			p.asm.AddDelta(transcript.SpeakerAssistant, ev.Text)
			p.writeClient(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusProcessing, ev.Text))
		case upstream.EventReplyDone:
			p.finalizeTurn(transcript.SpeakerAssistant, ev.Text)
		case upstream.EventAudioDelta:
			if p.State() != StateActive {
				continue
			}
			p.mu.Lock()
			p.agentSpeaking = true
			p.mu.Unlock()
			p.writeClient(protocol.NewAudio(ev.Audio))
		case upstream.EventResponseDone:
			p.mu.Lock()
			p.agentSpeaking = false
			p.voiceFrames = 0
			p.bargeSent = false
			p.mu.Unlock()
		case upstream.EventError:
			msg := ev.Message
			if msg == "" {
				msg = "upstream error"
			}
			log.Printf("[%s] upstream error: %s", p.sessionID, msg)
			p.writeClient(protocol.NewError(msg))
		}
	}

	// Upstream ended; tear down the client side as well.
	if p.State() == StateActive {
		log.Printf("[%s] upstream disconnected", p.sessionID)
	}
	p.beginClose()
	p.closeClient()
}

// finalizeTurn completes one utterance exactly once, notifies the
// client, and hands non-empty turns to the memory sink without blocking
// relay traffic.
func (p *Proxy) finalizeTurn(sp transcript.Speaker, finalText string) {
	turn, emitted := p.asm.Complete(sp, finalText)
	if !emitted {
		return
	}
	p.writeClient(protocol.NewTranscription(string(sp), protocol.StatusComplete, turn.Text))
	if turn.Empty() {
		return
	}
	go p.persistTurn(turn)
}

func (p *Proxy) persistTurn(turn transcript.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), memorySubmitTimeout)
	defer cancel()
	t := memory.Turn{
		SessionID: p.sessionID,
		AgentID:   p.AgentID(),
		Role:      string(turn.Speaker),
		Content:   turn.Text,
	}
	if err := p.mem.SaveTurn(ctx, t); err != nil {
		// Persistence failure never surfaces to the client.
		log.Printf("[%s] memory persistence failed: %v", p.sessionID, err)
	}
}

func (p *Proxy) beginClose() {
	if st := p.State(); st == StateClosing || st == StateClosed {
		return
	}
	p.setState(StateClosing)
}

func (p *Proxy) writeClient(v any) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.client == nil {
		return
	}
	if err := p.client.WriteJSON(v); err != nil {
		log.Printf("[%s] client write: %v", p.sessionID, err)
	}
}

func (p *Proxy) closeClient() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.client != nil {
		_ = p.client.Close()
	}
}

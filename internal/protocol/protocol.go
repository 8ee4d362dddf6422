// Package protocol defines the tagged JSON messages exchanged between a
// voice client and the relay over one session websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client -> relay message types.
const (
	TypeAudio  = "audio"
	TypeAgent  = "agent"
	TypeCancel = "cancel"
)

// Relay -> client message types.
const (
	TypeTranscription = "transcription"
	TypeAgentSwitched = "agent_switched"
	TypeError         = "error"
)

// Speaker channels for transcription events.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Transcription statuses. A turn's text only grows until "complete".
const (
	StatusListening  = "listening"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// AudioFormat is the only audio encoding the relay speaks on the wire.
const AudioFormat = "audio/pcm16"

// ErrUnknownType marks a message whose tag is not part of the contract.
// Callers log and drop these rather than failing the session.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// ClientMessage is the single inbound variant set, tagged by Type.
// Optional fields are populated per tag: Data for audio, AgentID for agent.
type ClientMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// ParseClientMessage decodes one inbound frame. Unknown tags return
// *ErrUnknownType; malformed JSON or missing required fields return a
// plain error. Both are drop-and-log conditions for the relay.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("protocol: decode client message: %w", err)
	}
	switch strings.ToLower(m.Type) {
	case TypeAudio:
		if m.Data == "" {
			return ClientMessage{}, fmt.Errorf("protocol: audio message without data")
		}
	case TypeAgent:
		if m.AgentID == "" {
			return ClientMessage{}, fmt.Errorf("protocol: agent message without agent_id")
		}
	case TypeCancel:
	default:
		return ClientMessage{}, &ErrUnknownType{Type: m.Type}
	}
	m.Type = strings.ToLower(m.Type)
	return m, nil
}

// Transcription streams partial or final text for one speaker channel.
type Transcription struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Status  string `json:"status"`
	Text    string `json:"text"`
}

// Audio carries one base64 PCM16 chunk to the client.
type Audio struct {
	Type   string `json:"type"`
	Data   string `json:"data"`
	Format string `json:"format"`
}

// AgentSwitched confirms an in-place agent profile change.
type AgentSwitched struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

// ErrorMessage is the single flattened client-facing error shape.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewTranscription(speaker, status, text string) Transcription {
	return Transcription{Type: TypeTranscription, Speaker: speaker, Status: status, Text: text}
}

func NewAudio(b64 string) Audio {
	return Audio{Type: TypeAudio, Data: b64, Format: AudioFormat}
}

func NewAgentSwitched(agentID string) AgentSwitched {
	return AgentSwitched{Type: TypeAgentSwitched, AgentID: agentID}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewAudioFrame builds the outbound client->relay audio message.
func NewAudioFrame(b64 string) ClientMessage {
	return ClientMessage{Type: TypeAudio, Data: b64}
}

// NewAgentSwitch builds the outbound client->relay agent switch request.
func NewAgentSwitch(agentID string) ClientMessage {
	return ClientMessage{Type: TypeAgent, AgentID: agentID}
}

// NewCancel builds the outbound client->relay barge-in request.
func NewCancel() ClientMessage {
	return ClientMessage{Type: TypeCancel}
}

// ServerEnvelope is used by clients to sniff the tag of an inbound
// relay message before decoding the concrete variant.
type ServerEnvelope struct {
	Type string `json:"type"`
}

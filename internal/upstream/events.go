package upstream

import (
	"encoding/json"
	"log"
)

// EventType enumerates the upstream events the relay understands.
// Anything else is logged and dropped, never propagated.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSpeechStarted  EventType = "speech.started"
	EventInputDelta     EventType = "input.delta"
	EventInputCompleted EventType = "input.completed"
	EventReplyDelta     EventType = "reply.delta"
	EventReplyDone      EventType = "reply.done"
	EventAudioDelta     EventType = "audio.delta"
	EventResponseDone   EventType = "response.done"
	EventError          EventType = "error"
)

// Event is one translated upstream event. Text carries transcript
// content for delta/completed events, Audio carries a base64 PCM16
// payload for audio deltas, and Message carries error detail.
type Event struct {
	Type    EventType
	Text    string
	Audio   string
	Message string
}

// parseEvent translates one upstream wire frame into an Event. The
// second return is false when the frame is unknown or malformed and
// should be dropped.
func parseEvent(data []byte) (Event, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("upstream: malformed event frame: %v", err)
		return Event{}, false
	}
	msgType, ok := raw["type"].(string)
	if !ok {
		log.Printf("upstream: event missing type field")
		return Event{}, false
	}
	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}
	switch msgType {
	case "session.created":
		return Event{Type: EventSessionCreated}, true
	case "session.updated":
		return Event{Type: EventSessionUpdated}, true
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true
	case "conversation.item.input_audio_transcription.delta":
		return Event{Type: EventInputDelta, Text: str("delta")}, true
	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventInputCompleted, Text: str("transcript")}, true
	case "response.audio_transcript.delta":
		return Event{Type: EventReplyDelta, Text: str("delta")}, true
	case "response.audio_transcript.done":
		return Event{Type: EventReplyDone, Text: str("transcript")}, true
	case "response.audio.delta":
		return Event{Type: EventAudioDelta, Audio: str("delta")}, true
	case "response.done":
		return Event{Type: EventResponseDone}, true
	case "error":
		msg := str("message")
		if msg == "" {
			if errObj, ok := raw["error"].(map[string]any); ok {
				msg, _ = errObj["message"].(string)
			}
		}
		return Event{Type: EventError, Message: msg}, true
	default:
		log.Printf("upstream: unknown event type: %s", msgType)
		return Event{}, false
	}
}

package client

import (
	"testing"

	"github.com/chadiek/voice-relay/internal/protocol"
)

func TestTranscriptView_AccumulatesPartials(t *testing.T) {
	var updates []TranscriptUpdate
	v := NewTranscriptView(func(u TranscriptUpdate) { updates = append(updates, u) })

	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusListening, ""))
	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, "Hel"))
	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, "lo "))
	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, "world"))

	if len(updates) != 3 {
		t.Fatalf("expected 3 partial updates, got %d", len(updates))
	}
	// Each partial renders the accumulated utterance, not the bare delta.
	want := []string{"Hel", "Hello ", "Hello world"}
	for i, w := range want {
		if updates[i].Text != w || updates[i].Final {
			t.Fatalf("partial %d: got %+v, want text %q", i, updates[i], w)
		}
	}

	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusComplete, "Hello world"))
	last := updates[len(updates)-1]
	if !last.Final || last.Text != "Hello world" {
		t.Fatalf("expected final update with authoritative text, got %+v", last)
	}
	if v.Partial(protocol.SpeakerUser) != "" {
		t.Fatalf("buffer not reset after completion")
	}
}

func TestTranscriptView_DuplicateCompleteEmitsOnce(t *testing.T) {
	finals := 0
	v := NewTranscriptView(func(u TranscriptUpdate) {
		if u.Final {
			finals++
		}
	})
	v.Apply(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusProcessing, "Hi"))
	v.Apply(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusComplete, "Hi"))
	v.Apply(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusComplete, "Hi"))
	if finals != 1 {
		t.Fatalf("duplicate completion emitted %d final updates", finals)
	}
}

func TestTranscriptView_SpeakersAreIndependent(t *testing.T) {
	v := NewTranscriptView(nil)
	v.Apply(protocol.NewTranscription(protocol.SpeakerUser, protocol.StatusProcessing, "question"))
	v.Apply(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusProcessing, "answer"))
	v.Apply(protocol.NewTranscription(protocol.SpeakerAssistant, protocol.StatusComplete, "answer"))

	if v.Partial(protocol.SpeakerUser) != "question" {
		t.Fatalf("user partial disturbed: %q", v.Partial(protocol.SpeakerUser))
	}
	if v.Partial(protocol.SpeakerAssistant) != "" {
		t.Fatalf("assistant buffer not reset: %q", v.Partial(protocol.SpeakerAssistant))
	}
}

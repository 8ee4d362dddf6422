package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessage_Audio(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"audio","data":"AAAA"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Type != TypeAudio || m.Data != "AAAA" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestParseClientMessage_AudioMissingData(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"audio"}`)); err == nil {
		t.Fatalf("expected error for audio without data")
	}
}

func TestParseClientMessage_Agent(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"agent","agent_id":"marcus"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.AgentID != "marcus" {
		t.Fatalf("unexpected agent id: %q", m.AgentID)
	}
}

func TestParseClientMessage_Cancel(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"cancel"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Type != TypeCancel {
		t.Fatalf("unexpected type: %q", m.Type)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"viseme","data":"x"}`))
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	var unknown *ErrUnknownType
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if unknown.Type != "viseme" {
		t.Fatalf("unexpected tag: %q", unknown.Type)
	}
}

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestServerMessageShapes(t *testing.T) {
	b, _ := json.Marshal(NewTranscription(SpeakerUser, StatusComplete, "hi"))
	want := `{"type":"transcription","speaker":"user","status":"complete","text":"hi"}`
	if string(b) != want {
		t.Fatalf("transcription shape mismatch:\n got %s\nwant %s", b, want)
	}

	b, _ = json.Marshal(NewAudio("QUJD"))
	want = `{"type":"audio","data":"QUJD","format":"audio/pcm16"}`
	if string(b) != want {
		t.Fatalf("audio shape mismatch:\n got %s\nwant %s", b, want)
	}

	b, _ = json.Marshal(NewAgentSwitched("marcus"))
	want = `{"type":"agent_switched","agent_id":"marcus"}`
	if string(b) != want {
		t.Fatalf("agent_switched shape mismatch:\n got %s\nwant %s", b, want)
	}

	b, _ = json.Marshal(NewError("boom"))
	want = `{"type":"error","message":"boom"}`
	if string(b) != want {
		t.Fatalf("error shape mismatch:\n got %s\nwant %s", b, want)
	}
}

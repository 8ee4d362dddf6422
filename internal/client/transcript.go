package client

import (
	"github.com/chadiek/voice-relay/internal/protocol"
	"github.com/chadiek/voice-relay/internal/transcript"
)

// TranscriptUpdate is one rendered transcript change for the UI. Text
// is the full accumulated utterance so far, not a bare delta; Final
// marks the authoritative end of the utterance.
type TranscriptUpdate struct {
	Speaker string
	Text    string
	Final   bool
}

// TranscriptView assembles streamed transcription events into
// displayable utterances. It mirrors the relay's own turn assembly so
// partial events render as growing text instead of disjoint fragments.
type TranscriptView struct {
	asm      *transcript.Assembler
	onUpdate func(TranscriptUpdate)
}

// NewTranscriptView constructs a view. onUpdate, if non-nil, is invoked
// for every partial accumulation and once per finalized utterance.
func NewTranscriptView(onUpdate func(TranscriptUpdate)) *TranscriptView {
	return &TranscriptView{
		asm:      transcript.NewAssembler(nil),
		onUpdate: onUpdate,
	}
}

// Apply folds one inbound transcription event into the per-speaker
// assembly state. Duplicate completion events are ignored.
func (v *TranscriptView) Apply(m protocol.Transcription) {
	sp := transcript.Speaker(m.Speaker)
	switch m.Status {
	case protocol.StatusListening:
		v.asm.Listening(sp)
	case protocol.StatusProcessing:
		v.asm.AddDelta(sp, m.Text)
		v.emit(TranscriptUpdate{Speaker: m.Speaker, Text: v.asm.Partial(sp)})
	case protocol.StatusComplete:
		turn, emitted := v.asm.Complete(sp, m.Text)
		if !emitted {
			return
		}
		v.emit(TranscriptUpdate{Speaker: m.Speaker, Text: turn.Text, Final: true})
	}
}

// Partial returns the accumulated text for the speaker's current
// utterance.
func (v *TranscriptView) Partial(speaker string) string {
	return v.asm.Partial(transcript.Speaker(speaker))
}

func (v *TranscriptView) emit(u TranscriptUpdate) {
	if v.onUpdate != nil {
		v.onUpdate(u)
	}
}

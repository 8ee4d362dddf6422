// Package transcript reconstructs conversational turns from streamed
// partial text. The same assembler runs inside the relay proxy and the
// client; each instance covers one session with independent per-speaker
// channels.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies one transcript channel within a session.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Status is the lifecycle of one utterance.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
)

// Turn is one finalized utterance by one speaker. Text is immutable
// once emitted.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Empty reports whether this turn carries no text. Empty turns are
// still emitted as terminal events but must not be persisted.
func (t Turn) Empty() bool { return strings.TrimSpace(t.Text) == "" }

type speakerState struct {
	status    Status
	buf       strings.Builder
	completed bool
}

// Assembler accumulates streaming deltas per speaker and emits exactly
// one finalized Turn per completed utterance. Duplicate completion
// signals are no-ops. The completion payload's text is authoritative;
// accumulated deltas exist only for partial display and never leak
// into a finalized turn.
type Assembler struct {
	mu       sync.Mutex
	speakers map[Speaker]*speakerState
	onTurn   func(Turn)
}

// NewAssembler constructs an assembler. onTurn, if non-nil, is invoked
// synchronously for every finalized turn, including empty ones.
func NewAssembler(onTurn func(Turn)) *Assembler {
	return &Assembler{
		speakers: make(map[Speaker]*speakerState),
		onTurn:   onTurn,
	}
}

func (a *Assembler) state(sp Speaker) *speakerState {
	st, ok := a.speakers[sp]
	if !ok {
		st = &speakerState{status: StatusIdle}
		a.speakers[sp] = st
	}
	return st
}

// Listening marks the start of a new utterance for the speaker.
func (a *Assembler) Listening(sp Speaker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(sp)
	st.status = StatusListening
	st.completed = false
}

// AddDelta appends partial text and moves the speaker to processing.
func (a *Assembler) AddDelta(sp Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(sp)
	st.buf.WriteString(text)
	st.status = StatusProcessing
	st.completed = false
}

// Partial returns the text accumulated so far for the speaker.
func (a *Assembler) Partial(sp Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(sp).buf.String()
}

// Status returns the current utterance status for the speaker.
func (a *Assembler) Status(sp Speaker) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(sp).status
}

// Complete finalizes the current utterance with the upstream's
// authoritative full text, discarding the accumulated deltas. Returns
// the finalized turn and true on first completion, or a zero turn and
// false when the signal is a duplicate.
func (a *Assembler) Complete(sp Speaker, finalText string) (Turn, bool) {
	a.mu.Lock()
	st := a.state(sp)
	if st.completed {
		a.mu.Unlock()
		return Turn{}, false
	}
	st.buf.Reset()
	st.status = StatusIdle
	st.completed = true
	a.mu.Unlock()

	turn := Turn{Speaker: sp, Text: finalText}
	if a.onTurn != nil {
		a.onTurn(turn)
	}
	return turn, true
}

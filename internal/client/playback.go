package client

import (
	"sync"
	"time"

	"github.com/chadiek/voice-relay/internal/audio"
)

// Sink receives scheduled buffers. Play is called in schedule order
// with the buffer's start offset on the scheduler's clock; it must not
// block.
type Sink interface {
	Play(pcm []byte, start time.Duration)
}

// Scheduler plays decoded audio buffers gapless and non-overlapping.
//
// Each dequeued buffer starts at max(clock now, end of the previous
// buffer): taking the previous end alone would stall after an idle
// period, taking now alone would overlap buffers that arrive faster
// than they play. When the queue drains, the next enqueue rebases the
// schedule to the current clock so idle periods cause no drift.
//
// Completion continuations drive an explicit FIFO consumer, not
// recursion, so long sessions do not grow the call stack.
type Scheduler struct {
	clock Clock
	sink  Sink

	mu          sync.Mutex
	queue       [][]byte
	nextStart   time.Duration
	consuming   bool
	speaking    bool
	onSpeaking  func(bool)
	transitions []bool
	notifying   bool
}

// NewScheduler constructs a scheduler over the given clock and sink.
func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink}
}

// SetOnSpeaking registers a callback for speaking transitions. It is
// invoked with the mutex released, once per transition.
func (s *Scheduler) SetOnSpeaking(fn func(bool)) {
	s.mu.Lock()
	s.onSpeaking = fn
	s.mu.Unlock()
}

// Speaking reports whether a buffer is scheduled or playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Enqueue appends one PCM16 buffer. If nothing is currently scheduled,
// scheduling begins immediately.
func (s *Scheduler) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, pcm)
	if s.consuming {
		s.mu.Unlock()
		return
	}
	s.consuming = true
	s.scheduleNextLocked()
}

// Clear drops all queued buffers for immediate barge-in response. The
// buffer already handed to the sink keeps playing.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.queue = s.queue[:0]
	s.mu.Unlock()
}

// scheduleNextLocked dequeues and schedules one buffer, then arms the
// continuation for its end. Called with s.mu held; releases it.
func (s *Scheduler) scheduleNextLocked() {
	if len(s.queue) == 0 {
		s.consuming = false
		if s.speaking {
			s.speaking = false
			s.transitions = append(s.transitions, false)
		}
		s.mu.Unlock()
		s.notifySpeaking()
		return
	}

	pcm := s.queue[0]
	s.queue = s.queue[1:]

	now := s.clock.Now()
	start := s.nextStart
	if now > start {
		// Rebase after underrun or idle drain: no unscheduled gap is
		// introduced, the clock simply moved past the old schedule.
		start = now
	}
	d := audio.Duration(len(pcm))
	s.nextStart = start + d

	if !s.speaking {
		s.speaking = true
		s.transitions = append(s.transitions, true)
	}
	end := s.nextStart
	s.mu.Unlock()

	s.notifySpeaking()
	s.sink.Play(pcm, start)
	s.clock.AfterFunc(end-now, func() {
		s.mu.Lock()
		s.scheduleNextLocked()
	})
}

// notifySpeaking drains queued speaking transitions to the callback in
// the order they were decided. A single drainer runs at a time, so two
// transitions decided on different goroutines cannot be delivered
// inverted.
func (s *Scheduler) notifySpeaking() {
	s.mu.Lock()
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.transitions) > 0 {
		v := s.transitions[0]
		s.transitions = s.transitions[1:]
		fn := s.onSpeaking
		s.mu.Unlock()
		if fn != nil {
			fn(v)
		}
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

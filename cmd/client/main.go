package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/chadiek/voice-relay/internal/audio"
	"github.com/chadiek/voice-relay/internal/client"
	"github.com/chadiek/voice-relay/internal/protocol"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	serverURL := flag.String("server", "http://localhost:8080", "relay base URL")
	sessionID := flag.String("session", "", "session id (generated when empty)")
	agentID := flag.String("agent", "", "initial agent to request after connecting")
	flag.Parse()

	if err := run(*serverURL, *sessionID, *agentID); err != nil {
		log.Fatalf("client error: %v", err)
	}
}

func run(serverURL, sessionID, agentID string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			log.Printf("error terminating portaudio: %v", err)
		}
	}()

	speaker, err := newSpeakerSink()
	if err != nil {
		return err
	}
	defer speaker.Close()

	sched := client.NewScheduler(client.NewClock(), speaker)

	view := client.NewTranscriptView(func(u client.TranscriptUpdate) {
		if u.Final {
			fmt.Printf("[%s] %s\n", u.Speaker, u.Text)
			return
		}
		fmt.Printf("[%s] %s\r", u.Speaker, u.Text)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sock := client.NewSocket(client.Handlers{
		OnTranscription: func(m protocol.Transcription) {
			if m.Status == protocol.StatusListening {
				// User started speaking; anything still queued for
				// playback is stale.
				sched.Clear()
				fmt.Println("-- listening --")
			}
			view.Apply(m)
		},
		OnAudio: func(m protocol.Audio) {
			pcm, err := audio.DecodeBase64(m.Data)
			if err != nil {
				log.Printf("error decoding audio frame: %v", err)
				return
			}
			sched.Enqueue(pcm)
		},
		OnAgentSwitched: func(m protocol.AgentSwitched) {
			fmt.Printf("-- now talking to %s --\n", m.AgentID)
		},
		OnError: func(m protocol.ErrorMessage) {
			fmt.Printf("-- relay error: %s --\n", m.Message)
		},
		OnStatus: func(st client.SocketStatus) {
			log.Printf("socket %s", st)
		},
	})

	if err := sock.Connect(ctx, serverURL, sessionID); err != nil {
		return err
	}
	defer sock.Close()
	log.Printf("connected, session %s", sock.SessionID())

	if agentID != "" {
		sock.SendAgentSwitch(agentID)
	}

	capture := client.NewCapture()
	chunks, err := capture.Start(ctx)
	if err != nil {
		if errors.Is(err, client.ErrPermissionDenied) {
			return fmt.Errorf("microphone access denied, grant permission and retry: %w", err)
		}
		return err
	}
	defer capture.Stop()

	go func() {
		for chunk := range chunks {
			sock.SendAudio(audio.EncodeBase64(chunk.PCM))
		}
	}()

	go commandLoop(sock, stop)

	<-ctx.Done()
	fmt.Println()
	log.Println("disconnecting")
	return nil
}

// commandLoop reads control commands from stdin until EOF or quit.
func commandLoop(sock *client.Socket, stop func()) {
	fmt.Println("commands: agent <id> | cancel | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "agent":
			if len(fields) != 2 {
				fmt.Println("usage: agent <id>")
				continue
			}
			sock.SendAgentSwitch(fields[1])
		case "cancel":
			sock.SendCancel()
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	stop()
}

// speakerSink feeds scheduled buffers to the default output device. The
// scheduler paces handoff, so a small channel is enough to keep the
// device fed without unbounded buffering.
type speakerSink struct {
	stream *portaudio.Stream
	out    []int16
	in     chan []byte
	done   chan struct{}

	mu        sync.Mutex
	remainder []int16
	started   bool
	closed    bool
}

func newSpeakerSink() (*speakerSink, error) {
	out := make([]int16, client.CaptureFrameSamples)
	s := &speakerSink{
		out:  out,
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(audio.SampleRate), len(out), &out)
	if err != nil {
		return nil, fmt.Errorf("opening output stream: %w", err)
	}
	s.stream = stream
	go s.writeLoop()
	return s, nil
}

// Play queues one buffer. Never blocks; a full queue means the device
// stalled, and dropping is better than stalling the scheduler.
func (s *speakerSink) Play(pcm []byte, _ time.Duration) {
	select {
	case s.in <- pcm:
	default:
		log.Printf("speaker queue full, dropping buffer")
	}
}

func (s *speakerSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.in)
	<-s.done

	if s.started {
		if err := s.stream.Stop(); err != nil {
			log.Printf("error stopping output stream: %v", err)
		}
	}
	if err := s.stream.Close(); err != nil {
		log.Printf("error closing output stream: %v", err)
	}
}

func (s *speakerSink) writeLoop() {
	defer close(s.done)
	for pcm := range s.in {
		if err := s.write(audio.BytesToInt16(pcm)); err != nil {
			log.Printf("error writing audio: %v", err)
		}
	}
	s.flush()
}

func (s *speakerSink) write(samples []int16) error {
	if !s.started {
		if err := s.stream.Start(); err != nil {
			return fmt.Errorf("starting output stream: %w", err)
		}
		s.started = true
	}
	if len(s.remainder) > 0 {
		samples = append(s.remainder, samples...)
		s.remainder = s.remainder[:0]
	}
	for len(samples) >= len(s.out) {
		copy(s.out, samples[:len(s.out)])
		samples = samples[len(s.out):]
		if err := s.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			return err
		}
	}
	s.remainder = append(s.remainder, samples...)
	return nil
}

// flush pads the trailing partial frame with silence so the last
// samples are not stuck in the remainder.
func (s *speakerSink) flush() {
	if len(s.remainder) == 0 || !s.started {
		return
	}
	copy(s.out, s.remainder)
	for i := len(s.remainder); i < len(s.out); i++ {
		s.out[i] = 0
	}
	s.remainder = s.remainder[:0]
	if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		log.Printf("error flushing audio: %v", err)
	}
}

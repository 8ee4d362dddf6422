package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/chadiek/voice-relay/internal/audio"
)

// Capture errors a caller can act on: a denied permission prompt needs
// user intervention, a missing device does not.
var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: no input device available")
	ErrCaptureInUse      = errors.New("capture: already started")
)

// CaptureFrameSamples is the number of samples delivered per chunk.
// 20ms at the session sample rate keeps relay latency low without
// flooding the socket with tiny frames.
const CaptureFrameSamples = audio.SampleRate / 50

// inputStream is the device surface the capture loop drives.
// *portaudio.Stream satisfies it.
type inputStream interface {
	Read() error
	Stop() error
	Close() error
}

// Capture owns the default input device and emits fixed-size PCM16
// chunks. A single Capture holds the device exclusively between Start
// and Stop.
type Capture struct {
	openInput func(buf *[]int16) (inputStream, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewCapture() *Capture {
	return &Capture{openInput: openDefaultInput}
}

func openDefaultInput(buf *[]int16) (inputStream, error) {
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.SampleRate), len(*buf), buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

// Start opens the default input stream and begins emitting chunks on
// the returned channel. The channel is closed when the context is
// cancelled, Stop is called, or the device fails mid-read.
func (c *Capture) Start(ctx context.Context) (<-chan audio.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, ErrCaptureInUse
	}

	buf := make([]int16, CaptureFrameSamples)
	stream, err := c.openInput(&buf)
	if err != nil {
		return nil, mapOpenError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan audio.Chunk, 16)
	done := make(chan struct{})

	c.cancel = cancel
	c.done = done
	c.started = true

	go c.readLoop(ctx, stream, buf, out, done)
	return out, nil
}

// Stop releases the input device and returns only once the device is
// closed. Safe to call more than once and before Start.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.cancel()
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Capture) readLoop(ctx context.Context, stream inputStream, buf []int16, out chan audio.Chunk, done chan struct{}) {
	defer func() {
		close(out)
		if err := stream.Stop(); err != nil {
			log.Printf("capture: error stopping stream: %v", err)
		}
		if err := stream.Close(); err != nil {
			log.Printf("capture: error closing stream: %v", err)
		}
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				// Keep reading; the device dropped samples, we did not.
				log.Printf("capture: input overflowed")
				continue
			}
			if ctx.Err() == nil {
				log.Printf("capture: device read failed: %v", err)
			}
			return
		}
		chunk := audio.Chunk{PCM: audio.Int16ToBytes(buf)}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		default:
			// Consumer is behind; dropping the oldest frame would need a
			// second queue, dropping the newest keeps code simple and the
			// gap equally short.
			log.Printf("capture: consumer behind, dropping frame")
		}
	}
}

// mapOpenError classifies portaudio open failures into the sentinel
// errors callers branch on. Portaudio reports both conditions as
// generic host errors, so the message text is the only signal.
func mapOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no default input") || strings.Contains(msg, "invalid device") || strings.Contains(msg, "device unavailable"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("capture: opening input stream: %w", err)
	}
}

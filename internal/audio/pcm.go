package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"time"
)

// SampleRate is the single PCM sample rate used on both sides of the relay.
// The client and the upstream speech API must agree on it for the whole session.
const SampleRate = 24000

// BytesPerSample for 16-bit linear PCM mono.
const BytesPerSample = 2

// Chunk is one buffer of raw PCM16 little-endian mono audio. Chunks are
// ephemeral: they are forwarded or played and never persisted.
type Chunk struct {
	PCM []byte
}

// Duration derives the playback duration from the sample count.
func (c Chunk) Duration() time.Duration {
	return Duration(len(c.PCM))
}

// Duration converts a PCM16 byte length at SampleRate into wall time.
func Duration(nbytes int) time.Duration {
	samples := nbytes / BytesPerSample
	return time.Duration(samples) * time.Second / SampleRate
}

// EncodeBase64 frames raw PCM for transport inside JSON text frames.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 parses a base64 PCM payload. A decode failure means the
// frame is malformed and should be dropped, not fatal to the session.
func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

// Int16ToBytes packs samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian PCM16. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : (i+1)*2]))
	}
	return out
}

// RMS computes the root-mean-square energy of a PCM16 buffer. Larger
// chunks are scanned sparsely to reduce CPU.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}

// VoiceRMSThreshold is the energy above which a chunk is treated as
// containing voice. Tuned conservatively.
const VoiceRMSThreshold = 250.0

// HasVoice reports whether the chunk carries voice energy above threshold.
func HasVoice(pcm []byte) bool {
	return RMS(pcm) >= VoiceRMSThreshold
}

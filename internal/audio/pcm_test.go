package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	// 100ms at 24kHz mono PCM16 = 2400 samples = 4800 bytes
	if d := Duration(4800); d != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %v", d)
	}
	if d := Duration(0); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestInt16Roundtrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out := BytesToInt16(Int16ToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d mismatch: %d vs %d", i, in[i], out[i])
		}
	}
}

func TestBase64Roundtrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 250}
	got, err := DecodeBase64(EncodeBase64(pcm))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(got) != string(pcm) {
		t.Fatalf("roundtrip mismatch")
	}
	if _, err := DecodeBase64("not base64!!!"); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}

func TestHasVoice(t *testing.T) {
	loud := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(loud[i*2:(i+1)*2], 3000)
	}
	if !HasVoice(loud) {
		t.Fatalf("expected voice energy on loud frame")
	}
	silent := make([]byte, 160*2)
	if HasVoice(silent) {
		t.Fatalf("did not expect voice energy on silent frame")
	}
}

package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func encodePCM(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCMToFloat32MonoSingleChannel(t *testing.T) {
	t.Parallel()

	got := pcmToFloat32Mono(encodePCM(0, 16384, -32768), 1)
	want := []float32{0, 0.5, -1.0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.001 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32MonoDownmixesStereo(t *testing.T) {
	t.Parallel()

	// L=16384 R=0 averages to 0.25; L=-16384 R=16384 averages to 0.
	got := pcmToFloat32Mono(encodePCM(16384, 0, -16384, 16384), 2)
	want := []float32{0.25, 0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.001 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32MonoIgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	pcm := append(encodePCM(100), 0x7f)
	if got := pcmToFloat32Mono(pcm, 1); len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
}

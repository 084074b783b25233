package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPeakAmplitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: pcm16(0, 0, 0), want: 0},
		{name: "positive peak", pcm: pcm16(0, 16384, 100), want: 0.5},
		{name: "negative peak dominates", pcm: pcm16(100, -16384, 200), want: 0.5},
		{name: "full scale", pcm: pcm16(-32768), want: 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.PeakAmplitude(tc.pcm)
			if got < tc.want-0.001 || got > tc.want+0.001 {
				t.Fatalf("PeakAmplitude = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	// L=100 R=200 averages to 150; L=-100 R=100 averages to 0.
	in := pcm16(100, 200, -100, 100)
	got := audio.StereoToMono(in)
	want := pcm16(150, 0)
	if len(got) != len(want) {
		t.Fatalf("StereoToMono length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("StereoToMono = %v, want %v", got, want)
		}
	}
}

func TestResampleMono16Halves(t *testing.T) {
	t.Parallel()

	in := make([]byte, 32000) // 1s at 16kHz
	out := audio.ResampleMono16(in, 16000, 8000)
	if len(out) != 16000 {
		t.Fatalf("ResampleMono16(16k→8k) length = %d, want 16000", len(out))
	}
}

func TestResampleMono16SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	in := pcm16(1, 2, 3)
	out := audio.ResampleMono16(in, 16000, 16000)
	if &in[0] != &out[0] {
		t.Fatal("same-rate resample should return the input unchanged")
	}
}

func TestNormalizeMono16k(t *testing.T) {
	t.Parallel()

	// 100ms of stereo 48kHz should come out as 100ms of mono 16kHz.
	in := audio.Frame{
		Data:       make([]byte, 48*100*4),
		SampleRate: 48000,
		Channels:   2,
	}
	out := audio.NormalizeMono16k(in)
	if len(out) != 16*100*2 {
		t.Fatalf("NormalizeMono16k length = %d, want %d", len(out), 16*100*2)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 3200)
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("EncodeWAV length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatal("EncodeWAV produced malformed RIFF header")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate field = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size field = %d, want %d", got, len(pcm))
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != time.Second {
		t.Fatalf("Duration = %v, want 1s", got)
	}
	if got := (audio.Frame{Data: make([]byte, 100)}).Duration(); got != 0 {
		t.Fatalf("malformed frame Duration = %v, want 0", got)
	}
}

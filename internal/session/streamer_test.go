package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
)

func newTestToken(t *testing.T) *Token {
	t.Helper()
	var active atomic.Uint64
	tok := newToken(context.Background(), &active)
	t.Cleanup(tok.Cancel)
	return tok
}

// collectFragments consumes textCh until closed.
func collectFragments(textCh <-chan string, out *[]string, done chan<- struct{}) {
	for f := range textCh {
		*out = append(*out, f)
	}
	close(done)
}

func TestForwardSentencesSplitsAtBoundaries(t *testing.T) {
	t.Parallel()

	tok := newTestToken(t)
	chunks := make(chan llm.Chunk, 8)
	chunks <- llm.Chunk{Text: "Clear path ahead. The "}
	chunks <- llm.Chunk{Text: "curb is on your right? No, "}
	chunks <- llm.Chunk{Text: "your left", FinishReason: "stop"}
	close(chunks)

	textCh := make(chan string, 8)
	var fragments []string
	done := make(chan struct{})
	go collectFragments(textCh, &fragments, done)

	text, err := forwardSentences(tok, chunks, textCh)
	<-done
	if err != nil {
		t.Fatalf("forwardSentences: %v", err)
	}

	want := []string{"Clear path ahead.", "The curb is on your right?", "No, your left"}
	if len(fragments) != len(want) {
		t.Fatalf("fragments = %q, want %q", fragments, want)
	}
	for i := range want {
		if fragments[i] != want[i] {
			t.Errorf("fragment[%d] = %q, want %q", i, fragments[i], want[i])
		}
	}
	if text != "Clear path ahead. The curb is on your right? No, your left" {
		t.Errorf("concatenated text = %q", text)
	}
}

func TestForwardSentencesFlushesRemainderWithoutBoundary(t *testing.T) {
	t.Parallel()

	tok := newTestToken(t)
	chunks := make(chan llm.Chunk, 4)
	chunks <- llm.Chunk{Text: "ten meters ahead"}
	chunks <- llm.Chunk{FinishReason: "stop"}
	close(chunks)

	textCh := make(chan string, 4)
	var fragments []string
	done := make(chan struct{})
	go collectFragments(textCh, &fragments, done)

	text, err := forwardSentences(tok, chunks, textCh)
	<-done
	if err != nil {
		t.Fatalf("forwardSentences: %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "ten meters ahead" {
		t.Fatalf("fragments = %q, want the single flushed remainder", fragments)
	}
	if text != "ten meters ahead" {
		t.Errorf("text = %q", text)
	}
}

func TestForwardSentencesStopsOnInterruption(t *testing.T) {
	t.Parallel()

	tok := newTestToken(t)
	chunks := make(chan llm.Chunk)
	textCh := make(chan string, 1)

	go func() {
		chunks <- llm.Chunk{Text: "First sentence. "}
		// Wait until the sentence has been forwarded, then barge in.
		for len(textCh) == 0 {
			time.Sleep(time.Millisecond)
		}
		tok.Cancel()
		// The stream keeps producing; forwardSentences must drain it.
		chunks <- llm.Chunk{Text: "Second sentence. "}
		close(chunks)
	}()

	text, err := forwardSentences(tok, chunks, textCh)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if text != "First sentence." {
		t.Errorf("forwarded text = %q, want only the pre-interruption sentence", text)
	}
}

func TestForwardSentencesSurfacesChunkError(t *testing.T) {
	t.Parallel()

	tok := newTestToken(t)
	wantErr := errors.New("upstream disconnected")
	chunks := make(chan llm.Chunk, 4)
	chunks <- llm.Chunk{Text: "Partial answer. "}
	chunks <- llm.Chunk{Err: wantErr}
	close(chunks)

	textCh := make(chan string, 4)
	text, err := forwardSentences(tok, chunks, textCh)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the chunk error", err)
	}
	if text != "Partial answer." {
		t.Errorf("text = %q, want the sentences forwarded before the error", text)
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"no boundary here", -1},
		{"trailing dot.", -1},
		{"Hello. World", 5},
		{"One! Two", 3},
		{"Eh? Sure", 2},
		{"v1.2 release. done", 12},
	}
	for _, tc := range tests {
		if got := firstSentenceBoundary(tc.in); got != tc.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

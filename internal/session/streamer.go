package session

import (
	"errors"
	"strings"

	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
)

// ErrInterrupted is returned by forwardSentences when the turn token was
// invalidated mid-stream. The text forwarded so far stays audible; nothing
// after the interruption is synthesized.
var ErrInterrupted = errors.New("session: turn interrupted")

// forwardSentences reads token chunks from chunks, accumulates them into
// complete sentences, and writes each sentence to textCh for synthesis. It
// returns the concatenation of everything it forwarded — that text, not the
// model's full output, is what gets persisted, so memory never contains words
// the user was not told.
//
// textCh is closed on return. The turn token is checked between chunks; once
// it is no longer live, remaining chunks are drained in the background to
// release the provider goroutine and ErrInterrupted is returned.
func forwardSentences(tok *Token, chunks <-chan llm.Chunk, textCh chan<- string) (string, error) {
	defer close(textCh)

	var buf strings.Builder
	var spoken strings.Builder

	emit := func(segment string) bool {
		if !tok.Live() {
			return false
		}
		select {
		case textCh <- segment:
			// Boundary whitespace was trimmed during accumulation; restore a
			// single space so the persisted text reads naturally.
			if spoken.Len() > 0 {
				spoken.WriteString(" ")
			}
			spoken.WriteString(segment)
			return true
		case <-tok.Context().Done():
			return false
		}
	}

	for {
		select {
		case <-tok.Context().Done():
			go drainChunks(chunks)
			return spoken.String(), ErrInterrupted
		case chunk, ok := <-chunks:
			if !ok {
				// Channel closed without a finish-reason chunk: flush what is
				// left.
				if buf.Len() > 0 && !emit(buf.String()) {
					return spoken.String(), ErrInterrupted
				}
				return spoken.String(), nil
			}
			if chunk.Err != nil {
				go drainChunks(chunks)
				return spoken.String(), chunk.Err
			}
			if !tok.Live() {
				go drainChunks(chunks)
				return spoken.String(), ErrInterrupted
			}

			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
			}

			// Flush complete sentences eagerly for lower synthesis latency.
			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				if !emit(sentence) {
					go drainChunks(chunks)
					return spoken.String(), ErrInterrupted
				}
			}

			// On the final chunk, flush any remaining partial sentence.
			if chunk.FinishReason != "" {
				if buf.Len() > 0 && !emit(buf.String()) {
					go drainChunks(chunks)
					return spoken.String(), ErrInterrupted
				}
				go drainChunks(chunks)
				return spoken.String(), nil
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by a whitespace character (' ', '\n',
// '\r', or '\t'). Returns -1 if no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards all remaining chunks from ch. Used to prevent the
// generator's internal goroutine from blocking when forwarding stops before
// the stream is exhausted.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}

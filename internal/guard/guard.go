// Package guard vets final transcripts before they reach the turn pipeline.
//
// Speech recognition in the field is noisy: wind, passers-by, the user's own
// half-sentences. Forwarding every recognized fragment to the language model
// wastes the latency budget and, worse, answers questions the user never
// asked. The guard is the single choke point that decides whether a
// transcript is a deliberate, processable command.
//
// Three checks run in order, cheapest first:
//
//  1. Command confidence — structural heuristics that separate deliberate
//     phrases from recognition noise (length, vowels, word shape, dangling
//     conjunctions).
//  2. Language — a lightweight English check; the pipeline's prompt contract
//     is English-only, and a non-English veto gets a spoken notice rather
//     than silence.
//  3. Wake word (optional) — when a wake phrase is configured, utterances
//     not containing it are dropped. Matching is fuzzy (Double Metaphone +
//     Jaro-Winkler) so "vision aid" still wakes on "visionade".
//
// The guard is read-only after construction and safe for concurrent use.
package guard

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Reason says why a transcript was vetoed.
type Reason int

const (
	// ReasonNone means the transcript passed every check.
	ReasonNone Reason = iota

	// ReasonEmpty means the transcript was empty after trimming.
	ReasonEmpty

	// ReasonNoise means the transcript failed the command-confidence
	// heuristics. Vetoed silently — answering static is worse than ignoring
	// it.
	ReasonNoise

	// ReasonNonEnglish means the transcript did not look like English. The
	// user gets a spoken notice for this veto.
	ReasonNonEnglish

	// ReasonNoWakeWord means wake-word mode is on and no fuzzy match for the
	// wake phrase was found.
	ReasonNoWakeWord
)

// String returns the snake_case label used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEmpty:
		return "empty"
	case ReasonNoise:
		return "noise"
	case ReasonNonEnglish:
		return "non_english"
	case ReasonNoWakeWord:
		return "no_wake_word"
	default:
		return "unknown"
	}
}

// Verdict is the guard's decision for one transcript.
type Verdict struct {
	// OK is true when the transcript should enter the turn pipeline.
	OK bool

	// Reason is the veto reason; ReasonNone when OK.
	Reason Reason

	// Query is the cleaned transcript: trimmed, wake phrase stripped. Only
	// meaningful when OK.
	Query string
}

// wakeJWThreshold is the minimum Jaro-Winkler similarity for a token window
// to count as the wake phrase, once a phonetic overlap exists.
const wakeJWThreshold = 0.84

// Option is a functional option for configuring a [Guard].
type Option func(*Guard)

// WithWakeWord enables wake-word mode with the given phrase. An empty phrase
// leaves wake-word mode off.
func WithWakeWord(phrase string) Option {
	return func(g *Guard) {
		g.wakeTokens = strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	}
}

// WithEnglishCheck toggles the English-language check. Default: on.
func WithEnglishCheck(enabled bool) Option {
	return func(g *Guard) { g.checkEnglish = enabled }
}

// Guard vets transcripts. Construct with [New].
type Guard struct {
	wakeTokens   []string
	checkEnglish bool
}

// New returns a Guard configured with the supplied options.
func New(opts ...Option) *Guard {
	g := &Guard{checkEnglish: true}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check vets one final transcript.
func (g *Guard) Check(transcript string) Verdict {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return Verdict{Reason: ReasonEmpty}
	}
	if !looksDeliberate(text) {
		return Verdict{Reason: ReasonNoise}
	}
	if g.checkEnglish && !looksEnglish(text) {
		return Verdict{Reason: ReasonNonEnglish}
	}

	if len(g.wakeTokens) > 0 {
		stripped, found := g.stripWake(text)
		if !found {
			return Verdict{Reason: ReasonNoWakeWord}
		}
		stripped = strings.TrimSpace(strings.TrimLeft(stripped, ",.!? "))
		if stripped == "" {
			// Wake phrase alone: treat as a wake signal with no query yet.
			return Verdict{Reason: ReasonEmpty}
		}
		text = stripped
	}

	return Verdict{OK: true, Reason: ReasonNone, Query: text}
}

// looksDeliberate applies structural heuristics distinguishing deliberate
// phrases from recognition noise.
func looksDeliberate(text string) bool {
	if len(text) < 5 {
		return false
	}
	if !hasVowelish(text) {
		return false
	}

	words := strings.Fields(text)
	substantive := 0
	for _, w := range words {
		if len(strings.Trim(w, ",.!?")) > 2 {
			substantive++
		}
	}
	if substantive < 2 {
		return false
	}

	// A dangling conjunction or article means the recognizer cut the phrase
	// off mid-thought.
	last := strings.ToLower(strings.Trim(words[len(words)-1], ",.!?"))
	switch last {
	case "and", "or", "the", "to":
		return false
	}
	return true
}

// hasVowelish reports whether text contains an ASCII vowel or any non-ASCII
// letter. Consonant-only fragments ("pfft tsk") are recognition noise, but
// that test only makes sense for ASCII; other scripts are left for the
// language check to judge.
func hasVowelish(text string) bool {
	if strings.ContainsAny(strings.ToLower(text), "aeiou") {
		return true
	}
	for _, r := range text {
		if r > 127 && isLetterish(r) {
			return true
		}
	}
	return false
}

// looksEnglish is a cheap script-based heuristic: the transcript counts as
// English when nearly all of its letters are ASCII. It cannot tell English
// from, say, Dutch, but the recognizer is already English-biased; the check
// exists to catch whole utterances recognized in another script.
func looksEnglish(text string) bool {
	var ascii, letters int
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			ascii++
			letters++
		case r > 127 && isLetterish(r):
			letters++
		}
	}
	if letters == 0 {
		return false
	}
	return float64(ascii)/float64(letters) >= 0.9
}

// isLetterish reports whether r is plausibly a letter in some script,
// excluding punctuation and symbols above ASCII.
func isLetterish(r rune) bool {
	return r >= 0x00C0 // everything from Latin-1 letters upward
}

// stripWake searches for a fuzzy occurrence of the wake phrase as a sliding
// token window and, when found, returns the transcript with that window
// removed.
func (g *Guard) stripWake(text string) (string, bool) {
	words := strings.Fields(text)
	n := len(g.wakeTokens)
	if len(words) < n {
		return text, false
	}

	wakeJoined := strings.Join(g.wakeTokens, "")
	wakeCodes := phoneticCodes(wakeJoined)

	for i := 0; i+n <= len(words); i++ {
		window := make([]string, n)
		for j := range n {
			window[j] = strings.ToLower(strings.Trim(words[i+j], ",.!?"))
		}
		joined := strings.Join(window, "")

		if joined == wakeJoined || g.fuzzyWakeMatch(joined, wakeJoined, wakeCodes) {
			rest := append(append([]string{}, words[:i]...), words[i+n:]...)
			return strings.Join(rest, " "), true
		}
	}
	return text, false
}

// fuzzyWakeMatch pairs a phonetic-overlap gate with a Jaro-Winkler score,
// so only near-misses of the wake phrase pass, not arbitrary similar words.
// Very high string similarity matches on its own: suffix noise ("visions")
// shifts the phonetic code without making the word any less of a wake.
func (g *Guard) fuzzyWakeMatch(candidate, wake string, wakeCodes map[string]struct{}) bool {
	score := matchr.JaroWinkler(candidate, wake, false)
	if score >= 0.92 {
		return true
	}
	if !codesOverlap(phoneticCodes(candidate), wakeCodes) {
		return false
	}
	return score >= wakeJWThreshold
}

// phoneticCodes returns the Double Metaphone code set for a token.
func phoneticCodes(token string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

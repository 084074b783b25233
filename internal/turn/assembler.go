// Package turn assembles the language-model request for one interaction
// turn: transcript, semantically similar past interactions, and — when the
// vision gate fires — a freshly captured camera frame.
//
// Assembly is strictly best-effort around the transcript. Memory retrieval
// and frame capture are both grounding enrichments; either one failing
// degrades the request rather than failing the turn, and each degradation is
// tagged so the caller can log and count it. The only hard requirement is a
// non-empty transcript.
//
// An Assembler is stateless between turns and safe for concurrent use.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/visionaid-ai/visionaid/internal/visiongate"
	"github.com/visionaid-ai/visionaid/pkg/memory"
	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
	"github.com/visionaid-ai/visionaid/pkg/provider/embeddings"
	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
)

// DefaultInstructions is the system prompt for the assistive pipeline.
const DefaultInstructions = "You are a voice assistant for a blind pedestrian. " +
	"Answer in one or two short sentences, mentioning hazards first. " +
	"Describe positions relative to the user (left, right, ahead). " +
	"If you are not sure what something is, say so plainly instead of guessing."

// Degradation tags recorded on an [Assembly].
const (
	// OmittedMemory marks a turn whose memory grounding was skipped because
	// embedding or retrieval failed.
	OmittedMemory = "memory"

	// OmittedVision marks a turn where the gate wanted a frame but capture
	// failed or timed out.
	OmittedVision = "vision"
)

// excerptMinChars is the minimum combined text length for a retrieved record
// to be worth quoting; shorter ones are noise fragments.
const excerptMinChars = 12

// excerptMaxRunes truncates a single quoted field so one rambling past
// answer cannot eat the prompt budget.
const excerptMaxRunes = 240

// Config configures an [Assembler].
type Config struct {
	// Instructions is the system prompt; empty means [DefaultInstructions].
	Instructions string

	// TopK is how many past interactions to retrieve. Values below 1
	// disable memory retrieval entirely.
	TopK int

	// MinSimilarity is the similarity floor for retrieved records.
	MinSimilarity float64

	// CaptureTimeout bounds one camera capture; 0 leaves the grabber's own
	// bound in charge.
	CaptureTimeout time.Duration

	// FrameDir is where captured frames are stored; the saved path becomes
	// the turn's image reference.
	FrameDir string
}

// Assembly is the assembled turn: the model request plus the byproducts the
// session needs later (the embedding for persistence, the image reference,
// degradation tags).
type Assembly struct {
	Request llm.Request

	// Embedding is the transcript embedding, reused when persisting the
	// completed turn so the query is embedded exactly once. Nil when
	// embedding failed (the turn is then tagged OmittedMemory and not
	// persisted to memory).
	Embedding []float32

	// ImageRef is the stored frame path, empty when the turn has no visual
	// grounding.
	ImageRef string

	// ExcerptCount is how many memory excerpts made it into the request.
	ExcerptCount int

	// Omitted lists the degradations applied ("memory", "vision").
	Omitted []string
}

// Assembler builds turn requests. Construct with [New].
type Assembler struct {
	embedder embeddings.Provider
	store    memory.Store
	gate     *visiongate.Gate
	grabber  camera.Grabber
	cfg      Config
	log      *slog.Logger
}

// New constructs an Assembler. grabber may be nil to run without any camera;
// the gate then never results in a capture.
func New(embedder embeddings.Provider, store memory.Store, gate *visiongate.Gate, grabber camera.Grabber, cfg Config, log *slog.Logger) (*Assembler, error) {
	if embedder == nil {
		return nil, errors.New("turn assembler: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("turn assembler: store must not be nil")
	}
	if gate == nil {
		return nil, errors.New("turn assembler: gate must not be nil")
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		embedder: embedder,
		store:    store,
		gate:     gate,
		grabber:  grabber,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Assemble builds the model request for the given transcript.
func (a *Assembler) Assemble(ctx context.Context, transcript string) (Assembly, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Assembly{}, errors.New("turn assembler: empty transcript")
	}

	asm := Assembly{
		Request: llm.Request{Instructions: a.cfg.Instructions},
	}

	excerpts := a.retrieve(ctx, transcript, &asm)
	asm.Request.UserText = composeUserText(transcript, excerpts)

	if a.grabber != nil && a.gate.Needs(transcript) {
		a.capture(ctx, &asm)
	}

	return asm, nil
}

// retrieve embeds the transcript and queries the memory store, returning the
// rendered excerpts oldest-to-newest. Failures tag the assembly and return
// nothing.
func (a *Assembler) retrieve(ctx context.Context, transcript string, asm *Assembly) []string {
	emb, err := a.embedder.Embed(ctx, transcript)
	if err != nil {
		a.log.Warn("transcript embedding failed, assembling without memory", "error", err)
		asm.Omitted = append(asm.Omitted, OmittedMemory)
		return nil
	}
	asm.Embedding = emb

	if a.cfg.TopK < 1 {
		return nil
	}

	results, err := a.store.Query(ctx, emb, a.cfg.TopK, a.cfg.MinSimilarity)
	if err != nil {
		a.log.Warn("memory retrieval failed, assembling without memory", "error", err)
		asm.Omitted = append(asm.Omitted, OmittedMemory)
		return nil
	}

	// Query returns best-first; the prompt wants chronological order so the
	// model reads the conversation the way it happened.
	records := make([]memory.InteractionRecord, 0, len(results))
	for _, r := range results {
		records = append(records, r.Record)
	}
	sortByCreatedAt(records)

	var excerpts []string
	for _, rec := range records {
		if len(rec.QueryText)+len(rec.ResponseText) < excerptMinChars {
			continue
		}
		excerpts = append(excerpts, fmt.Sprintf("User asked: %q, you answered: %q",
			truncate(rec.QueryText), truncate(rec.ResponseText)))
	}
	asm.ExcerptCount = len(excerpts)
	return excerpts
}

// capture grabs a frame under the configured timeout and attaches it to the
// request. Any failure degrades to text-only.
func (a *Assembler) capture(ctx context.Context, asm *Assembly) {
	if a.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CaptureTimeout)
		defer cancel()
	}

	frame, err := a.grabber.Capture(ctx)
	if err != nil {
		a.log.Warn("camera capture failed, answering without the frame", "error", err)
		asm.Omitted = append(asm.Omitted, OmittedVision)
		return
	}

	asm.Request.ImageJPEG = frame.JPEG

	if a.cfg.FrameDir != "" {
		ref, err := camera.SaveFrame(a.cfg.FrameDir, frame)
		if err != nil {
			// The model still gets the frame; only the stored reference is
			// lost.
			a.log.Warn("frame store failed", "error", err)
			return
		}
		asm.ImageRef = ref
	}
}

// composeUserText renders the user message: past excerpts (oldest first)
// followed by the current question.
func composeUserText(transcript string, excerpts []string) string {
	if len(excerpts) == 0 {
		return transcript
	}
	var b strings.Builder
	b.WriteString("Relevant earlier exchanges, oldest first:\n")
	for _, e := range excerpts {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent question: ")
	b.WriteString(transcript)
	return b.String()
}

// sortByCreatedAt orders records oldest first, falling back to ID order for
// identical timestamps.
func sortByCreatedAt(records []memory.InteractionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// truncate caps s at excerptMaxRunes, appending an ellipsis when cut.
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= excerptMaxRunes {
		return s
	}
	return string(runes[:excerptMaxRunes]) + "…"
}

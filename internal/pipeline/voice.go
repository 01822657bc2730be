package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, *llm.Usage, error)
}

// VoiceMemo transcribes an audio capture and optionally expands the raw
// transcript into a structured note. Captures of this type are dispatched on
// the high-priority queue because the user is usually waiting on them.
type VoiceMemo struct {
	deps        Deps
	transcriber Transcriber

	// Expand controls the LLM cleanup pass over the raw transcript.
	Expand bool
}

func NewVoiceMemo(deps Deps, transcriber Transcriber) *VoiceMemo {
	return &VoiceMemo{deps: deps, transcriber: transcriber, Expand: true}
}

func (p *VoiceMemo) Name() string { return "voice_memo" }

func (p *VoiceMemo) Supports(in Input) bool {
	return in.Type == InputVoiceMemo && in.Path != ""
}

func (p *VoiceMemo) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := validateFile(in.Path, p.deps.MaxFileSizeBytes,
		".m4a", ".mp3", ".wav", ".ogg", ".webm", ".flac"); err != nil {
		return nil, err
	}

	hash, err := hashFile(in.Path)
	if err != nil {
		return nil, err
	}

	tracker := newCosts(p.Name())
	defer tracker.Flush(ctx, p.deps.Ledger)

	transcript, usage, err := p.transcriber.Transcribe(ctx, in.Path)
	tracker.Add(usage, types.RequestText, "", "transcribe")
	if err != nil {
		return nil, fmt.Errorf("transcription failed for %s: %w", in.Path, err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("empty transcript for %s", in.Path)
	}

	fullText := transcript
	if p.Expand {
		if expanded := p.expand(ctx, transcript, tracker); expanded != "" {
			fullText = expanded
		}
	}

	record := newRecord(types.SourceVoiceMemo, memoTitle(in.Title, transcript), in)
	record.SourceFilePath = in.Path
	record.RawFileHash = hash
	record.FullText = fullText
	record.Metadata["transcript_raw"] = transcript

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save voice memo: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

// expand rewrites a raw transcript into a structured note. A failure keeps
// the raw transcript rather than failing the capture.
func (p *VoiceMemo) expand(ctx context.Context, transcript string, tracker *costledger.Collector) string {
	reply, usage, err := p.deps.LLM.Complete(ctx,
		"Rewrite this voice memo transcript as a structured markdown note. Keep every idea, fix disfluencies, group related thoughts under short headings. Do not invent content.\n\nTranscript:\n"+transcript)
	tracker.Add(usage, types.RequestText, "", "expand")
	if err != nil {
		log.Printf("pipeline: transcript expansion failed, keeping raw transcript: %v", err)
		return ""
	}
	return strings.TrimSpace(reply)
}

func memoTitle(given, transcript string) string {
	if given != "" {
		return given
	}
	words := strings.Fields(transcript)
	if len(words) > 8 {
		words = words[:8]
	}
	if len(words) == 0 {
		return "Voice memo " + time.Now().UTC().Format("2006-01-02")
	}
	return strings.Join(words, " ")
}

var _ Pipeline = (*VoiceMemo)(nil)

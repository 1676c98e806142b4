package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// TwoPassLocal is the two-pass local pipeline: a fast streaming decoder
// updates the unstable text zone frame by frame (Pass 1), and a slower
// offline decoder plus punctuation model produce the final
// sentence_complete text on segment commit (Pass 2). The online pass is a
// pluggable interface; the offline pass defaults to whisper.cpp.
type TwoPassLocal struct {
	online  OnlineDecoder
	offline OfflineDecoder
	punct   Punctuator

	minSentenceChars int
	sampleRate       int
}

// NewTwoPassLocal wires the three pluggable passes together.
func NewTwoPassLocal(online OnlineDecoder, offline OfflineDecoder, punct Punctuator, minSentenceChars, sampleRate int) *TwoPassLocal {
	return &TwoPassLocal{
		online:           online,
		offline:          offline,
		punct:            punct,
		minSentenceChars: minSentenceChars,
		sampleRate:       sampleRate,
	}
}

func (b *TwoPassLocal) Name() string { return "two_pass_local" }

func (b *TwoPassLocal) Start(ctx context.Context, sess *orchestrator.Session) error {
	if sess.DecoderContext == nil {
		sess.DecoderContext = b.online.NewContinuation()
	}
	return nil
}

// Push runs the online pass on one speech frame and emits a partial event
// for whatever new text the delta extraction surfaces.
func (b *TwoPassLocal) Push(ctx context.Context, sess *orchestrator.Session, frame []float32, emit *orchestrator.Emitter) error {
	if sess.DecoderContext == nil {
		sess.DecoderContext = b.online.NewContinuation()
	}

	text, err := b.online.DecodeFrame(sess.DecoderContext, frame)
	if err != nil {
		return fmt.Errorf("two_pass_local: online decode: %w", err)
	}
	if text == "" {
		return nil
	}

	sess.Zones.Update(text, b.minSentenceChars)

	// Two-zone model: only the unstable tail is re-punctuated on each
	// online update, with the last two completed sentences as context;
	// stable text keeps the punctuation it was committed with.
	unstable := sess.Zones.Unstable
	if b.punct != nil && unstable != "" {
		if punctuated, err := b.punct.Punctuate(unstable, lastN(sess.CompletedSentences, 2)); err == nil {
			unstable = punctuated
		}
	}
	fullText := sess.Zones.Stable + unstable

	delta := orchestrator.ExtractIncrementalText(sess.LastPartialSent, fullText)
	if delta == "" {
		return nil
	}
	sess.LastPartialSent = fullText

	return emit.Emit(orchestrator.PartialEvent(sess.ID, delta, fullText, time.Now().UnixMilli()))
}

// Commit runs the offline pass over the whole segment, punctuates the
// result using the last two completed sentences as context, clears the
// continuation cache, and estimates a time range per sentence
// proportional to character length within the segment — an estimate,
// never claimed as ground-truth alignment.
func (b *TwoPassLocal) Commit(ctx context.Context, sess *orchestrator.Session, seg *orchestrator.Segment) (orchestrator.DecodeResult, error) {
	result, err := b.offline.DecodeSegment(seg.Samples, b.sampleRate)
	if err != nil {
		return orchestrator.DecodeResult{}, fmt.Errorf("two_pass_local: offline decode: %w", err)
	}

	text := result.RawText
	if b.punct != nil && text != "" {
		ctxSentences := lastN(sess.CompletedSentences, 2)
		punctuated, err := b.punct.Punctuate(text, ctxSentences)
		if err == nil {
			text = punctuated
		}
	}
	result.PunctuatedText = text

	if len(result.PerSegmentTimes) == 0 && text != "" {
		result.PerSegmentTimes = estimateSentenceTimings(text, len(seg.Samples), b.sampleRate)
	}

	sess.Zones.Reset()
	sess.LastPartialSent = ""
	if sess.DecoderContext != nil {
		sess.DecoderContext.Clear()
	}

	return result, nil
}

func (b *TwoPassLocal) Reset(sess *orchestrator.Session) {
	if sess.DecoderContext != nil {
		sess.DecoderContext.Clear()
	}
	sess.Zones.Reset()
	sess.LastPartialSent = ""
}

func (b *TwoPassLocal) Stop(sess *orchestrator.Session) {}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// estimateSentenceTimings splits text on sentence terminators and assigns
// each sentence a start/end time proportional to its share of the
// segment's total character count — an estimate, not alignment.
func estimateSentenceTimings(text string, totalSamples, sampleRate int) []orchestrator.SegmentTiming {
	sentences, remainder := orchestrator.SplitBySentenceEnd(text, 1)
	if remainder != "" {
		sentences = append(sentences, remainder)
	}
	if len(sentences) == 0 || sampleRate == 0 {
		return nil
	}

	totalMs := int64(totalSamples) * 1000 / int64(sampleRate)
	totalChars := 0
	for _, s := range sentences {
		totalChars += len([]rune(s))
	}
	if totalChars == 0 {
		return nil
	}

	timings := make([]orchestrator.SegmentTiming, 0, len(sentences))
	var cursorMs int64
	for _, s := range sentences {
		share := int64(len([]rune(s))) * totalMs / int64(totalChars)
		timings = append(timings, orchestrator.SegmentTiming{
			StartMs: cursorMs,
			EndMs:   cursorMs + share,
			Text:    strings.TrimSpace(s),
		})
		cursorMs += share
	}
	return timings
}

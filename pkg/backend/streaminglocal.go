package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// StreamingLocalConfig holds the whole-utterance re-decode tunables.
type StreamingLocalConfig struct {
	MinAudioSec         float64
	WindowSec           float64
	NoSpeechThreshold   float64
	SameOutputThreshold int
	SampleRate          int
}

// DefaultStreamingLocalConfig returns the stock tunables: re-decode once
// per second of new audio, 8s trailing window, commit a tail that stays
// identical across more than 7 consecutive decodes.
func DefaultStreamingLocalConfig(sampleRate int) StreamingLocalConfig {
	return StreamingLocalConfig{
		MinAudioSec:         1.0,
		WindowSec:           8.0,
		NoSpeechThreshold:   0.45,
		SameOutputThreshold: 7,
		SampleRate:          sampleRate,
	}
}

// noSpeechProber is satisfied by whisper.cpp binding segments that expose
// their no_speech_prob; type-asserted defensively since not every build of
// the binding surfaces it.
type noSpeechProber interface {
	NoSpeechProb() float32
}

// languageDetector is satisfied by whisper.cpp binding contexts that
// expose the auto-detected language; asserted defensively for the same
// reason as noSpeechProber.
type languageDetector interface {
	DetectedLanguage() string
}

// streamState is the per-session continuation for StreamingLocal: the
// audio accumulated since the state was last cleared (each decode runs
// over its trailing window), the count of samples added since the last
// decode, and the stall-detection tail history. The trailing-window decode already
// re-derives the effect of a timestamp_offset on every call, so no
// separate offset field is tracked.
type streamState struct {
	mu sync.Mutex

	pending        []float32
	newSinceDecode int

	lastTailText  string
	sameTailCount int

	languageReported bool

	// stallCommittedText remembers the text of a stable_tail commit until
	// the segmenter's own commit for the same audio arrives, so that
	// commit doesn't emit the identical sentence a second time.
	stallCommittedText string
}

func (s *streamState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.newSinceDecode = 0
	s.lastTailText = ""
	s.sameTailCount = 0
	s.stallCommittedText = ""
}

// StreamingLocal emulates streaming over a batch (whole-utterance)
// decoder such as whisper.cpp: it re-decodes a trailing window once
// enough new audio has accumulated, keeps segments whose no_speech_prob
// is low enough, and force-commits a stalled tail after repeated
// identical decodes.
type StreamingLocal struct {
	model    whisperlib.Model
	language string
	cfg      StreamingLocalConfig
}

// NewStreamingLocal loads modelPath once; every session shares this
// read-only model handle.
func NewStreamingLocal(modelPath, language string, cfg StreamingLocalConfig) (*StreamingLocal, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("streaming_local: load model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &StreamingLocal{model: model, language: language, cfg: cfg}, nil
}

func (b *StreamingLocal) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

func (b *StreamingLocal) Name() string { return "streaming_local" }

func (b *StreamingLocal) Start(ctx context.Context, sess *orchestrator.Session) error {
	if sess.DecoderContext == nil {
		sess.DecoderContext = &streamState{}
	}
	return nil
}

// Push accumulates audio and, once MIN_AUDIO_SEC of new material has
// arrived, re-decodes the trailing WINDOW_SEC window and emits a partial
// for whatever the Assembler surfaces as new.
func (b *StreamingLocal) Push(ctx context.Context, sess *orchestrator.Session, frame []float32, emit *orchestrator.Emitter) error {
	state, ok := sess.DecoderContext.(*streamState)
	if !ok {
		state = &streamState{}
		sess.DecoderContext = state
	}

	state.mu.Lock()
	state.pending = append(state.pending, frame...)
	state.newSinceDecode += len(frame)
	minSamples := int(b.cfg.MinAudioSec * float64(b.cfg.SampleRate))
	due := minSamples > 0 && state.newSinceDecode >= minSamples
	window := b.trailingWindow(state.pending)
	if due {
		state.newSinceDecode = 0
	}
	state.mu.Unlock()

	if !due {
		return nil
	}

	fullText, tailText, lang, noSpeech, err := b.decodeWindow(window)
	if err != nil {
		return fmt.Errorf("streaming_local: decode window: %w", err)
	}
	if noSpeech {
		// Drop this intermediate decode and its audio time entirely; a
		// non-speech window is not a silence commit.
		return nil
	}

	if lang != "" {
		state.mu.Lock()
		report := !state.languageReported
		state.languageReported = true
		state.mu.Unlock()
		if report {
			emit.Emit(orchestrator.LanguageDetectedEvent(sess.ID, lang, 0))
		}
	}

	state.mu.Lock()
	stalled := tailText != "" && tailText == state.lastTailText
	if stalled {
		state.sameTailCount++
	} else {
		state.sameTailCount = 0
	}
	state.lastTailText = tailText
	stallTrigger := state.sameTailCount+1 > b.cfg.SameOutputThreshold
	state.mu.Unlock()

	sess.Zones.Unstable = fullText
	delta := orchestrator.ExtractIncrementalText(sess.LastPartialSent, fullText)
	if delta != "" {
		sess.LastPartialSent = fullText
		if err := emit.Emit(orchestrator.PartialEvent(sess.ID, delta, fullText, time.Now().UnixMilli())); err != nil {
			return err
		}
	}

	if stallTrigger {
		seq := sess.NextSeq()
		sess.RecordSentence(fullText, seq)
		err := emit.Emit(orchestrator.SentenceCompleteEvent(sess.ID, fullText, time.Now().UnixMilli(), seq, orchestrator.TriggerStableTail))

		// The tail is committed; start the next utterance from scratch so
		// the stalled text can neither re-commit on the next decode cycle
		// nor leak back into a later partial.
		state.Clear()
		state.mu.Lock()
		state.stallCommittedText = fullText
		state.mu.Unlock()
		sess.Zones.Reset()
		sess.LastPartialSent = ""
		return err
	}

	return nil
}

// Commit runs a final decode over the whole committed segment — used for
// silence/max_duration/force_commit/final triggers, which all bypass the
// stall-detection path since they are already definitive.
func (b *StreamingLocal) Commit(ctx context.Context, sess *orchestrator.Session, seg *orchestrator.Segment) (orchestrator.DecodeResult, error) {
	fullText, _, _, _, err := b.decodeWindow(seg.Samples)
	if err != nil {
		return orchestrator.DecodeResult{}, fmt.Errorf("streaming_local: commit decode: %w", err)
	}

	sess.Zones.Reset()
	sess.LastPartialSent = ""
	if state, ok := sess.DecoderContext.(*streamState); ok {
		state.mu.Lock()
		alreadyCommitted := state.stallCommittedText != "" && state.stallCommittedText == fullText
		state.mu.Unlock()
		state.Clear()
		if alreadyCommitted {
			// A stable_tail commit already emitted this exact text; the
			// segmenter's trailing-silence commit covers the same audio.
			return orchestrator.DecodeResult{IsFinal: true}, nil
		}
	}

	return orchestrator.DecodeResult{RawText: fullText, PunctuatedText: fullText, IsFinal: true}, nil
}

func (b *StreamingLocal) Reset(sess *orchestrator.Session) {
	if state, ok := sess.DecoderContext.(*streamState); ok {
		state.Clear()
	}
	sess.Zones.Reset()
	sess.LastPartialSent = ""
}

func (b *StreamingLocal) Stop(sess *orchestrator.Session) {}

func (b *StreamingLocal) trailingWindow(samples []float32) []float32 {
	maxSamples := int(b.cfg.WindowSec * float64(b.cfg.SampleRate))
	if maxSamples <= 0 || len(samples) <= maxSamples {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	out := make([]float32, maxSamples)
	copy(out, samples[len(samples)-maxSamples:])
	return out
}

// decodeWindow runs whisper over samples: all segments but the last are
// judged by no_speech_prob; the last segment is always the tentative
// tail. It returns the assembled full text, the tentative tail text
// alone (for stall detection), the detected language when the binding
// surfaces one, and whether the decode produced nothing but non-speech
// segments (so the caller can drop the whole window).
func (b *StreamingLocal) decodeWindow(samples []float32) (fullText, tailText, lang string, allNonSpeech bool, err error) {
	if len(samples) == 0 {
		return "", "", "", true, nil
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", "", "", false, fmt.Errorf("create context: %w", err)
	}
	_ = wctx.SetLanguage(b.language)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", "", "", false, fmt.Errorf("process: %w", err)
	}

	if detector, ok := any(wctx).(languageDetector); ok {
		lang = detector.DetectedLanguage()
	}

	var segments []string
	var lastText string
	sawSpeech := false
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", lang, false, fmt.Errorf("read segment: %w", err)
		}

		text := strings.TrimSpace(seg.Text)
		noSpeech := float64(0)
		if prober, ok := any(seg).(noSpeechProber); ok {
			noSpeech = float64(prober.NoSpeechProb())
		}

		if noSpeech > b.cfg.NoSpeechThreshold {
			// Drop this segment and its audio time entirely.
			continue
		}
		sawSpeech = true
		if text != "" {
			segments = append(segments, text)
			lastText = text
		}
	}

	if !sawSpeech {
		return "", "", lang, true, nil
	}

	return strings.Join(segments, " "), lastText, lang, false, nil
}

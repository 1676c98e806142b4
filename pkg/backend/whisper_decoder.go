package backend

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// WhisperOfflineDecoder runs the high-accuracy pass over
// github.com/ggerganov/whisper.cpp/bindings/go. A single Model is loaded
// once and shared read-only across sessions; each call creates its own
// Context, matching the binding's stated thread-safety contract.
type WhisperOfflineDecoder struct {
	model    whisperlib.Model
	language string
}

// NewWhisperOfflineDecoder loads modelPath once at startup.
func NewWhisperOfflineDecoder(modelPath, language string) (*WhisperOfflineDecoder, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper offline: load model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &WhisperOfflineDecoder{model: model, language: language}, nil
}

func (d *WhisperOfflineDecoder) Close() error {
	if d.model != nil {
		return d.model.Close()
	}
	return nil
}

func (d *WhisperOfflineDecoder) DecodeSegment(samples []float32, sampleRate int) (orchestrator.DecodeResult, error) {
	wctx, err := d.model.NewContext()
	if err != nil {
		return orchestrator.DecodeResult{}, fmt.Errorf("whisper offline: create context: %w", err)
	}
	// Non-fatal: whisper.cpp falls back to auto-detect on error.
	_ = wctx.SetLanguage(d.language)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return orchestrator.DecodeResult{}, fmt.Errorf("whisper offline: process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return orchestrator.DecodeResult{}, fmt.Errorf("whisper offline: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return orchestrator.DecodeResult{
		RawText: strings.Join(parts, " "),
		IsFinal: true,
	}, nil
}

// WhisperContinuation is the two-pass backend's online-pass cache: the
// growing PCM window decoded so far this segment. whisper.cpp has no true
// streaming mode, so "continuation" here just means "don't lose the
// audio accumulated between decode calls" — the decoder itself always
// re-runs over the whole window.
type WhisperContinuation struct {
	mu         sync.Mutex
	samples    []float32
	frameCount int
}

func (c *WhisperContinuation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = nil
	c.frameCount = 0
}

// appendAndCount appends frame to the growing window and reports whether
// this push is due for a re-decode, per minFrames. The counter lives on
// the continuation itself (not in a side map keyed by pointer) so it is
// freed along with the session instead of accumulating across every
// session this decoder has ever served.
func (c *WhisperContinuation) appendAndCount(frame []float32, minFrames int) (window []float32, due bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, frame...)
	c.frameCount++
	out := make([]float32, len(c.samples))
	copy(out, c.samples)
	return out, c.frameCount%minFrames == 0
}

// WindowedOnlineDecoder is the default OnlineDecoder for TwoPassLocal when
// no lower-latency streaming model is wired: it accumulates frames into
// the session's WhisperContinuation and re-decodes the growing window
// through the same offline model, throttled to once every minFrames
// pushes so it does not re-run whisper on every 10-20ms frame.
type WindowedOnlineDecoder struct {
	offline    *WhisperOfflineDecoder
	sampleRate int
	minFrames  int
}

// NewWindowedOnlineDecoder shares the same whisper model as the offline
// pass; it is intentionally coarse — a real low-latency streaming decoder
// is the natural place to plug in a true incremental model later.
func NewWindowedOnlineDecoder(offline *WhisperOfflineDecoder, sampleRate, minFrames int) *WindowedOnlineDecoder {
	if minFrames <= 0 {
		minFrames = 8
	}
	return &WindowedOnlineDecoder{
		offline:    offline,
		sampleRate: sampleRate,
		minFrames:  minFrames,
	}
}

func (d *WindowedOnlineDecoder) NewContinuation() orchestrator.Continuation {
	return &WhisperContinuation{}
}

func (d *WindowedOnlineDecoder) DecodeFrame(cache orchestrator.Continuation, frame []float32) (string, error) {
	cont, ok := cache.(*WhisperContinuation)
	if !ok {
		return "", fmt.Errorf("windowed online decoder: unexpected continuation type %T", cache)
	}
	window, due := cont.appendAndCount(frame, d.minFrames)
	if !due {
		return "", nil
	}

	result, err := d.offline.DecodeSegment(window, d.sampleRate)
	if err != nil {
		return "", err
	}
	return result.RawText, nil
}

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/asr-orchestrator/pkg/audio"
)

// fakeBackend commits a fixed sentence for every segment; it exists only
// to exercise SessionManager's wiring, not real decoding.
type fakeBackend struct {
	mu      sync.Mutex
	commits int
	pushes  int
	text    string
}

func (f *fakeBackend) Start(ctx context.Context, sess *Session) error { return nil }
func (f *fakeBackend) Push(ctx context.Context, sess *Session, frame []float32, emit *Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return nil
}
func (f *fakeBackend) Commit(ctx context.Context, sess *Session, seg *Segment) (DecodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	text := f.text
	if text == "" {
		text = "hello there."
	}
	return DecodeResult{RawText: text, PunctuatedText: text, IsFinal: true}, nil
}
func (f *fakeBackend) Reset(sess *Session) {}
func (f *fakeBackend) Stop(sess *Session)  {}
func (f *fakeBackend) Name() string        { return "fake" }

func loudFrameBase64(n int) string {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.6
	}
	return audio.EncodePCM16(audio.Float32ToBytes(samples))
}

func silentFrameBase64(n int) string {
	return audio.EncodePCM16(make([]byte, n*2))
}

func newTestManager(t *testing.T, backend Backend) (*SessionManager, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SilenceChunks = 2
	buf := &bytes.Buffer{}
	emitter := NewEmitter(buf)
	now := int64(0)
	mgr := NewSessionManager(cfg, backend, func() VADGate { return NewRMSVAD(cfg.RMSThreshold) }, emitter, nil, func() int64 { return now })
	return mgr, buf
}

func drainEvents(t *testing.T, buf *bytes.Buffer, waitFor string, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if waitFor == "" || strings.Contains(buf.String(), waitFor) {
			var events []Event
			for _, l := range lines {
				if l == "" {
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(l), &ev); err == nil {
					events = append(events, ev)
				}
			}
			return events
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output: %s", waitFor, buf.String())
	return nil
}

func TestSessionManagerSilenceTerminatedUtteranceCommits(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s1", AudioData: loudFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s1", AudioData: silentFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s1", AudioData: silentFrameBase64(160)})

	events := drainEvents(t, buf, "sentence_complete", 2*time.Second)

	var gotSentence, gotSpeaking bool
	for _, ev := range events {
		if ev.Type == "sentence_complete" {
			gotSentence = true
			if ev.SegmentSeq != 1 {
				t.Fatalf("expected segment_seq 1, got %d", ev.SegmentSeq)
			}
			if ev.Trigger != TriggerSilence {
				t.Fatalf("expected silence trigger, got %s", ev.Trigger)
			}
		}
		if ev.Type == "is_speaking" {
			gotSpeaking = true
		}
	}
	if !gotSentence || !gotSpeaking {
		t.Fatalf("expected both is_speaking and sentence_complete events, got %+v", events)
	}
}

func TestSessionManagerForceCommitOnShortBuffer(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s2", AudioData: loudFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindForceCommit, SessionID: "s2"})

	events := drainEvents(t, buf, "sentence_complete", 2*time.Second)
	found := false
	for _, ev := range events {
		if ev.Type == "sentence_complete" && ev.Trigger == TriggerForceCommit {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a force_commit sentence_complete, got %+v", events)
	}
}

func TestSessionManagerResetSessionIsNoopWithoutSession(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindResetSession, SessionID: "ghost"})
	time.Sleep(20 * time.Millisecond)
	if buf.Len() != 0 {
		t.Fatalf("expected no events from reset of a nonexistent session, got %s", buf.String())
	}
}

func TestSessionManagerBatchFileCarriesRequestID(t *testing.T) {
	backend := &fakeBackend{text: "batch result."}
	mgr, buf := newTestManager(t, backend)

	path := writeTempPCM(t, 320)
	mgr.Dispatch(ControlMessage{Kind: KindBatchFile, SessionID: "s4", RequestID: "req-123", AudioPath: path})

	events := drainEvents(t, buf, "sentence_complete", 2*time.Second)
	found := false
	for _, ev := range events {
		if ev.Type == "sentence_complete" {
			found = true
			if ev.RequestID != "req-123" {
				t.Fatalf("expected request_id to be carried through to sentence_complete, got %q", ev.RequestID)
			}
		}
	}
	if !found {
		t.Fatalf("expected a sentence_complete event, got %+v", events)
	}
}

func TestSessionManagerBatchFileErrorCarriesRequestID(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindBatchFile, SessionID: "s5", RequestID: "req-missing", AudioPath: "/nonexistent/path.pcm"})

	events := drainEvents(t, buf, "error", 2*time.Second)
	if len(events) == 0 || events[0].Status != "error" || events[0].RequestID != "req-missing" {
		t.Fatalf("expected an error event carrying request_id, got %+v", events)
	}
}

func writeTempPCM(t *testing.T, n int) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "batch-*.pcm")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(make([]byte, n)); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}

func TestSessionManagerFinalChunkCommitsBufferedAudio(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s6", AudioData: loudFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s6", AudioData: loudFrameBase64(160), IsFinal: true})

	events := drainEvents(t, buf, "sentence_complete", 2*time.Second)
	found := false
	for _, ev := range events {
		if ev.Type == "sentence_complete" && ev.Trigger == TriggerFinalChunk {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a final-trigger sentence_complete, got %+v", events)
	}
}

func TestSessionManagerFinalChunkKeepsSilenceCommit(t *testing.T) {
	// The chunk that crosses the silence threshold can itself be marked
	// is_final; the silence-triggered segment must still commit, and the
	// now-empty buffer must not produce a second commit.
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s7", AudioData: loudFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s7", AudioData: silentFrameBase64(160)})
	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s7", AudioData: silentFrameBase64(160), IsFinal: true})

	events := drainEvents(t, buf, "sentence_complete", 2*time.Second)
	var commits int
	for _, ev := range events {
		if ev.Type == "sentence_complete" {
			commits++
			if ev.Trigger != TriggerSilence {
				t.Fatalf("expected the silence-triggered commit, got trigger %q", ev.Trigger)
			}
		}
	}
	if commits != 1 {
		t.Fatalf("expected exactly one sentence_complete, got %d: %+v", commits, events)
	}
}

func TestSessionManagerIdleSilenceNeverReachesBackend(t *testing.T) {
	backend := &fakeBackend{}
	mgr, _ := newTestManager(t, backend)

	for i := 0; i < 5; i++ {
		mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s8", AudioData: silentFrameBase64(160)})
	}
	time.Sleep(50 * time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.pushes != 0 {
		t.Fatalf("expected idle silence to be dropped before the backend, got %d pushes", backend.pushes)
	}
}

func TestSessionManagerMalformedAudioEmitsError(t *testing.T) {
	backend := &fakeBackend{}
	mgr, buf := newTestManager(t, backend)

	mgr.Dispatch(ControlMessage{Kind: KindStreamingChunk, SessionID: "s3", AudioData: "not-valid-base64!!"})

	events := drainEvents(t, buf, "error", 2*time.Second)
	if len(events) == 0 || events[0].Status != "error" {
		t.Fatalf("expected an error event, got %+v", events)
	}
}

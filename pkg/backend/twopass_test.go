package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

type fakeContinuation struct {
	cleared bool
	samples []float32
}

func (c *fakeContinuation) Clear() { c.cleared = true }

type stubOnline struct {
	text string
	err  error
}

func (s *stubOnline) NewContinuation() orchestrator.Continuation { return &fakeContinuation{} }

func (s *stubOnline) DecodeFrame(cache orchestrator.Continuation, frame []float32) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type stubOffline struct {
	result orchestrator.DecodeResult
	err    error
}

func (s *stubOffline) DecodeSegment(samples []float32, sampleRate int) (orchestrator.DecodeResult, error) {
	if s.err != nil {
		return orchestrator.DecodeResult{}, s.err
	}
	return s.result, nil
}

type stubPunctuator struct {
	out string
	err error
	ctx []string
}

func (s *stubPunctuator) Punctuate(text string, context []string) (string, error) {
	s.ctx = context
	if s.err != nil {
		return "", s.err
	}
	if s.out != "" {
		return s.out, nil
	}
	return text, nil
}

func newTestSession() *orchestrator.Session {
	cfg := orchestrator.DefaultConfig()
	return orchestrator.NewSession("s1", orchestrator.EngineTwoPassLocal, cfg, orchestrator.NewRMSVAD(cfg.RMSThreshold), 0)
}

func TestTwoPassLocal_PushEmitsIncrementalPartial(t *testing.T) {
	online := &stubOnline{text: "hello there"}
	offline := &stubOffline{}
	b := NewTwoPassLocal(online, offline, nil, 2, 16000)
	sess := newTestSession()

	var buf []byte
	emit := orchestrator.NewEmitter(&sliceWriter{buf: &buf})

	if err := b.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Push(context.Background(), sess, []float32{0.1}, emit); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if sess.LastPartialSent == "" {
		t.Fatalf("expected LastPartialSent to be updated")
	}
}

func TestTwoPassLocal_PushRepunctuatesUnstableTailWithContext(t *testing.T) {
	online := &stubOnline{text: "how are you"}
	punct := &stubPunctuator{out: "How are you?"}
	b := NewTwoPassLocal(online, &stubOffline{}, punct, 2, 16000)
	sess := newTestSession()
	sess.CompletedSentences = []string{"First one.", "Second one.", "Third one."}

	var buf []byte
	emit := orchestrator.NewEmitter(&sliceWriter{buf: &buf})

	if err := b.Push(context.Background(), sess, []float32{0.1}, emit); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if sess.LastPartialSent != "How are you?" {
		t.Fatalf("expected the punctuated unstable tail as the partial view, got %q", sess.LastPartialSent)
	}
	// The online pass punctuates with the last two completed sentences as
	// context, same window as the offline pass.
	if len(punct.ctx) != 2 || punct.ctx[0] != "Second one." {
		t.Fatalf("expected last 2 sentences as context, got %v", punct.ctx)
	}
}

func TestTwoPassLocal_CommitPunctuatesAndClearsState(t *testing.T) {
	offline := &stubOffline{result: orchestrator.DecodeResult{RawText: "hello world"}}
	punct := &stubPunctuator{out: "Hello world."}
	b := NewTwoPassLocal(&stubOnline{}, offline, punct, 2, 16000)
	sess := newTestSession()
	sess.DecoderContext = &fakeContinuation{}
	sess.CompletedSentences = []string{"Prior one.", "Prior two.", "Prior three."}

	result, err := b.Commit(context.Background(), sess, &orchestrator.Segment{Samples: make([]float32, 16000)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.PunctuatedText != "Hello world." {
		t.Fatalf("expected punctuated text, got %q", result.PunctuatedText)
	}
	// Only the last two completed sentences are passed as context.
	if len(punct.ctx) != 2 || punct.ctx[0] != "Prior two." {
		t.Fatalf("expected last 2 sentences as context, got %v", punct.ctx)
	}
	if cont, ok := sess.DecoderContext.(*fakeContinuation); !ok || !cont.cleared {
		t.Fatalf("expected continuation to be cleared on commit")
	}
}

func TestTwoPassLocal_CommitSurvivesPunctuationFailure(t *testing.T) {
	offline := &stubOffline{result: orchestrator.DecodeResult{RawText: "raw text"}}
	punct := &stubPunctuator{err: errors.New("punct down")}
	b := NewTwoPassLocal(&stubOnline{}, offline, punct, 2, 16000)
	sess := newTestSession()

	result, err := b.Commit(context.Background(), sess, &orchestrator.Segment{Samples: make([]float32, 16000)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.PunctuatedText != "raw text" {
		t.Fatalf("expected raw text fallback when punctuation fails, got %q", result.PunctuatedText)
	}
}

func TestTwoPassLocal_CommitPropagatesOfflineError(t *testing.T) {
	offline := &stubOffline{err: errors.New("decode failed")}
	b := NewTwoPassLocal(&stubOnline{}, offline, nil, 2, 16000)
	sess := newTestSession()

	_, err := b.Commit(context.Background(), sess, &orchestrator.Segment{Samples: make([]float32, 16000)})
	if err == nil {
		t.Fatalf("expected error when offline decode fails")
	}
}

// sliceWriter is a minimal io.Writer collecting bytes, used so tests don't
// need a real stdout/file handle just to exercise Emitter.Emit.
type sliceWriter struct {
	buf *[]byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

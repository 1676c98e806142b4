package orchestrator

import "testing"

func TestNewSessionRestState(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSession("sess-1", EngineTwoPassLocal, cfg, NewRMSVAD(cfg.RMSThreshold), 1000)
	if s.Segmenter.State() != StateIdle {
		t.Fatalf("expected idle segmenter, got %s", s.Segmenter.State())
	}
	if s.SegmentSeq != 0 {
		t.Fatalf("expected seq 0, got %d", s.SegmentSeq)
	}
	if s.NextSeq() != 1 {
		t.Fatalf("expected next seq 1, got %d", s.NextSeq())
	}
}

func TestSessionRecordSentenceAdvancesSeq(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSession("sess-1", EngineTwoPassLocal, cfg, NewRMSVAD(cfg.RMSThreshold), 0)
	s.RecordSentence("hello", 1)
	if s.SegmentSeq != 1 {
		t.Fatalf("expected seq 1, got %d", s.SegmentSeq)
	}
	if len(s.CompletedSentences) != 1 || s.CompletedSentences[0] != "hello" {
		t.Fatalf("unexpected completed sentences: %v", s.CompletedSentences)
	}
}

func TestSessionResetClearsEverything(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSession("sess-1", EngineTwoPassLocal, cfg, NewRMSVAD(cfg.RMSThreshold), 0)
	s.RecordSentence("hello", 1)
	s.Zones.Stable = "hello."
	s.Reset()

	if s.SegmentSeq != 0 {
		t.Fatalf("expected seq reset to 0, got %d", s.SegmentSeq)
	}
	if len(s.CompletedSentences) != 0 {
		t.Fatalf("expected no completed sentences, got %v", s.CompletedSentences)
	}
	if s.Zones.Stable != "" {
		t.Fatalf("expected zones cleared, got %q", s.Zones.Stable)
	}
	if s.Segmenter.State() != StateIdle {
		t.Fatalf("expected segmenter idle after reset, got %s", s.Segmenter.State())
	}
}

func TestSessionIdleSince(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSession("sess-1", EngineTwoPassLocal, cfg, NewRMSVAD(cfg.RMSThreshold), 1000)
	s.Touch(1500)
	if s.IdleSince(2000) != 500 {
		t.Fatalf("expected 500ms idle, got %d", s.IdleSince(2000))
	}
}

func TestMaxBufferSamplesForRemoteUsesMaxBufferSec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = EngineRemoteWS
	cfg.ApplyEngineDefaults()
	cfg.SampleRate = 16000

	got := maxBufferSamplesFor(cfg)
	want := int(5.0 * 16000)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMaxBufferSamplesForLocalBoundedBySentenceSec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBufferSec = 30
	cfg.MaxSentenceSec = 20
	cfg.SampleRate = 16000

	got := maxBufferSamplesFor(cfg)
	want := int(20.0 * 16000)
	if got != want {
		t.Fatalf("expected bound to MaxSentenceSec: want %d, got %d", want, got)
	}
}

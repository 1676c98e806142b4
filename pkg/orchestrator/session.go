package orchestrator

import "sync"

// DecodeResult is the normalized output of a backend pass: whatever
// union of shapes the native decoder returns, collapsed to a single
// struct at the adapter boundary.
type DecodeResult struct {
	RawText         string
	PunctuatedText  string
	IsFinal         bool
	PerSegmentTimes []SegmentTiming

	// ReplicaID and LatencyMs are populated only by the remote HTTP race
	// backend: which of the N redundant requests won, and how long it
	// took. Every other backend leaves these at their zero values and the
	// emitter omits them.
	ReplicaID *int
	LatencyMs float64
}

// SegmentTiming is one entry of a DecodeResult's optional per-segment
// timing breakdown, used by the offline pass to estimate sentence time
// ranges proportional to character length. An estimate, not ground
// truth.
type SegmentTiming struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// Continuation is the opaque per-session decoder cache a streaming backend
// hands back to itself between pushes. Each backend owns its own concrete
// representation.
type Continuation interface {
	Clear()
}

// Session is the unit of isolation, keyed by a caller-chosen session id.
// It is driven by its own serial task in SessionManager; RemoteWS's read
// loop is the one other goroutine that touches it, and the mutex guards
// the fields both can reach (seq, sentence log, LastPartialSent via its
// accessors).
type Session struct {
	mu sync.RWMutex

	ID     string
	Engine Engine

	Ring      *RingBuffer
	Segmenter *Segmenter
	VAD       VADGate

	Zones           TextZones
	LastPartialSent string

	CompletedSentences []string
	SegmentSeq         int64

	DecoderContext Continuation

	StartedAtMs int64
	CreatedAtMs int64
	LastInputMs int64
}

// NewSession builds a session in its rest state: Idle, empty buffers,
// seq 0 (the first commit will carry seq 1).
func NewSession(id string, engine Engine, cfg Config, vad VADGate, nowMs int64) *Session {
	return &Session{
		ID:     id,
		Engine: engine,
		Ring:   NewRingBuffer(cfg.MaxBufferSamples),
		Segmenter: NewSegmenter(SegmenterConfig{
			SilenceThresholdChunks: cfg.SilenceChunks,
			SilenceBufferKeep:      cfg.SilenceBufferKeep,
			MaxBufferSamples:       maxBufferSamplesFor(cfg),
			SampleRate:             cfg.SampleRate,
		}),
		VAD:         vad,
		CreatedAtMs: nowMs,
		LastInputMs: nowMs,
	}
}

// maxBufferSamplesFor computes the segmenter's max-duration trigger in
// samples. Remote engines use MaxBufferSec directly (default 5s); local
// engines use MaxBufferSec too but it is never allowed to exceed
// MaxSentenceSec.
func maxBufferSamplesFor(cfg Config) int {
	seconds := cfg.MaxBufferSec
	remote := cfg.Engine == EngineRemoteWS || cfg.Engine == EngineRemoteHTTPRace
	if !remote && cfg.MaxSentenceSec > 0 && cfg.MaxSentenceSec < seconds {
		seconds = cfg.MaxSentenceSec
	}
	return int(seconds * float64(cfg.SampleRate))
}

// Touch records the wall-clock of the most recent inbound message, used
// by the idle reaper.
func (s *Session) Touch(nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastInputMs = nowMs
}

// IdleSince reports how long it has been, in milliseconds, since the last
// inbound message.
func (s *Session) IdleSince(nowMs int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nowMs - s.LastInputMs
}

// NextSeq returns the segment_seq the next sentence_complete will carry,
// without consuming it. Every emitter of sentence_complete (SessionManager
// and the backends that commit on their own) takes its seq from here and
// then passes it to RecordSentence, which advances the counter.
func (s *Session) NextSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SegmentSeq + 1
}

// GetLastPartialSent and SetLastPartialSent guard LastPartialSent with
// the session mutex. Most backends only touch session state from the
// single serial task SessionManager drives them from, where the plain
// field would be safe on its own — but RemoteWS's readLoop goroutine
// outlives any one Push/Commit call and updates this same field
// concurrently with a reset_session-triggered Session.Reset(), so every
// access goes through these accessors to stay race-free.
func (s *Session) GetLastPartialSent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastPartialSent
}

func (s *Session) SetLastPartialSent(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastPartialSent = text
}

// RecordSentence appends a committed sentence to the session's durable
// log and advances segment_seq. Called by whichever component emits the
// sentence_complete: SessionManager after a backend commit succeeds, or a
// backend that commits on its own.
func (s *Session) RecordSentence(text string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompletedSentences = append(s.CompletedSentences, text)
	if seq > s.SegmentSeq {
		s.SegmentSeq = seq
	}
}

// Reset drops all per-segment and per-sentence state, matching
// reset_session: the ring buffer, segmenter, text zones and continuation
// cache are all cleared, and segment_seq restarts at 0 so the next commit
// is seq 1.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ring.DrainAll()
	s.Segmenter.Reset()
	s.Zones.Reset()
	s.LastPartialSent = ""
	s.CompletedSentences = nil
	s.SegmentSeq = 0
	if s.DecoderContext != nil {
		s.DecoderContext.Clear()
	}
}

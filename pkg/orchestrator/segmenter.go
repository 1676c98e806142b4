package orchestrator

// SegmenterConfig holds the tunables that drive the state table in this
// file; all defaults are engine-dependent (remote backends run a tighter
// silence window than local ones) and are set by Config.ApplyEngineDefaults.
type SegmenterConfig struct {
	SilenceThresholdChunks int
	SilenceBufferKeep      int
	MaxBufferSamples       int
	SampleRate             int
}

// Segment is a committed, contiguous run of speech frames bounded by
// silence, a duration cap, or an explicit commit request.
type Segment struct {
	Samples   []float32
	Seq       int64
	Trigger   Trigger
	StartedAt int64 // ms, wall-clock of first speech frame

	// RequestID carries a batch_file request's correlation id through
	// to its sentence_complete/error events. Empty for every
	// streaming_chunk-derived segment, which has no request/response
	// correlation to preserve.
	RequestID string
}

// Segmenter is the per-session speech/silence state machine from the
// component table: Idle / Speaking / TrailingSilence, driven frame by
// frame by a VADGate's verdict and by explicit control events. It owns no
// I/O; SessionManager feeds it frames and reacts to the Segment values it
// returns.
type Segmenter struct {
	cfg SegmenterConfig

	state         VADState
	buffer        []float32
	silenceChunks int
	seq           int64
	startedAtMs   int64
}

// NewSegmenter creates a segmenter in the Idle state with seq starting
// before 1, so the first committed segment carries Seq == 1.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg, state: StateIdle}
}

// State reports the current speech/silence state, mainly for the
// is_speaking advisory event.
func (s *Segmenter) State() VADState { return s.state }

// BufferedSamples returns the number of samples accumulated for the
// in-progress segment.
func (s *Segmenter) BufferedSamples() int { return len(s.buffer) }

// bufferedSeconds converts the buffer length using the configured sample
// rate.
func (s *Segmenter) bufferedSeconds() float64 {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.buffer)) / float64(s.cfg.SampleRate)
}

// PushFrame feeds one classified frame through the state machine. nowMs is
// the caller-supplied wall-clock in milliseconds, used only to stamp
// started_at on speech onset. It returns a committed Segment when the
// frame causes one (silence threshold or max-duration), else (nil, false).
func (s *Segmenter) PushFrame(frame []float32, speech bool, nowMs int64) (*Segment, bool) {
	if len(frame) == 0 {
		return nil, false
	}

	switch s.state {
	case StateIdle:
		if speech {
			s.buffer = append(s.buffer, frame...)
			s.startedAtMs = nowMs
			s.state = StateSpeaking
		}
		// Idle + silence: drop.

	case StateSpeaking:
		if speech {
			s.buffer = append(s.buffer, frame...)
			s.silenceChunks = 0
		} else {
			s.appendSilenceKeep(frame)
			s.silenceChunks++
			s.state = StateTrailingSilence
		}

	case StateTrailingSilence:
		if speech {
			s.buffer = append(s.buffer, frame...)
			s.silenceChunks = 0
			s.state = StateSpeaking
		} else {
			s.silenceChunks++
			if s.silenceChunks >= s.cfg.SilenceThresholdChunks {
				return s.commit(TriggerSilence), true
			}
		}
	}

	if s.cfg.MaxBufferSamples > 0 && len(s.buffer) >= s.cfg.MaxBufferSamples {
		return s.commit(TriggerMaxDuration), true
	}

	return nil, false
}

// appendSilenceKeep appends a trailing-silence frame but caps how much of
// it is retained in the eventual commit, per SILENCE_BUFFER_KEEP — keeping
// a sliver of trailing silence helps the decoder hear a clean word
// boundary without padding the segment with dead air.
func (s *Segmenter) appendSilenceKeep(frame []float32) {
	keepSamples := s.cfg.SilenceBufferKeep * len(frame)
	if keepSamples <= 0 {
		return
	}
	if len(frame) > keepSamples {
		frame = frame[:keepSamples]
	}
	s.buffer = append(s.buffer, frame...)
}

// ForceCommit commits whatever is buffered, if anything. A force_commit
// on an empty buffer is a no-op, so two force_commits with no audio in
// between emit at most one sentence_complete.
func (s *Segmenter) ForceCommit() (*Segment, bool) {
	if len(s.buffer) == 0 {
		return nil, false
	}
	return s.commit(TriggerForceCommit), true
}

// FinalChunk commits the buffer as the terminal segment for a stream
// marked is_final. Unlike ForceCommit, the state table has no "if
// non-empty" guard on this row: a stream can end with an empty tail and
// the caller still needs a definitive final segment.
func (s *Segmenter) FinalChunk() (*Segment, bool) {
	return s.commit(TriggerFinalChunk), true
}

// Reset drops all segmenter state without emitting anything, matching
// reset_session semantics: the next commit starts a fresh seq at 1.
func (s *Segmenter) Reset() {
	s.state = StateIdle
	s.buffer = nil
	s.silenceChunks = 0
	s.seq = 0
	s.startedAtMs = 0
}

func (s *Segmenter) commit(trigger Trigger) *Segment {
	seg := &Segment{
		Samples:   s.buffer,
		Trigger:   trigger,
		StartedAt: s.startedAtMs,
	}
	s.seq++
	seg.Seq = s.seq

	s.buffer = nil
	s.silenceChunks = 0
	s.state = StateIdle
	s.startedAtMs = 0
	return seg
}

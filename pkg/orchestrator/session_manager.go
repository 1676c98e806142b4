package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/asr-orchestrator/pkg/audio"
)

// inboxDepth bounds the per-session control/audio channel. Beyond this,
// Dispatch drops the message with a logged warning instead of blocking
// the whole process; nothing is reported back to the frontend.
const inboxDepth = 256

// VADFactory builds a fresh VAD gate for a new session. RMS gates carry a
// tiny bit of per-call state (lastRMS) and FSMN gates carry a recurrent
// cache, so each session gets its own instance even though the underlying
// model weights are shared read-only.
type VADFactory func() VADGate

// managedSession is one session's owned state plus the plumbing
// SessionManager uses to drive it from a single serial goroutine.
type managedSession struct {
	session *Session
	inbox   chan ControlMessage
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionManager owns every live session and dispatches inbound control
// and audio messages to each one's single-writer goroutine. Sessions
// never share locks; the only shared state is the map itself and the
// immutable backend/VAD model handles.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	cfg        Config
	backend    Backend
	vadFactory VADFactory
	emitter    *Emitter
	logger     Logger
	metrics    *Metrics

	nowFunc func() int64
}

// SetMetrics wires an optional *Metrics instance. Left unset, every
// Record* call on a nil *Metrics is a no-op, so metrics stay entirely
// opt-in for tests and minimal embeds.
func (m *SessionManager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// NewSessionManager wires a backend, a VAD factory and an emitter
// together. nowFunc is injectable for deterministic tests; production
// callers pass a wrapper around time.Now.
func NewSessionManager(cfg Config, backend Backend, vadFactory VADFactory, emitter *Emitter, logger Logger, nowFunc func() int64) *SessionManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &SessionManager{
		sessions:   make(map[string]*managedSession),
		cfg:        cfg,
		backend:    backend,
		vadFactory: vadFactory,
		emitter:    emitter,
		logger:     logger,
		nowFunc:    nowFunc,
	}
}

// Dispatch routes one parsed control message to its session's goroutine,
// creating the session on the first message for a new id (a
// reset_session for an unknown id is dropped).
// It never blocks past the channel's buffer: when the inbox is full the
// session task is falling behind and the message is dropped rather than
// stalling every other session.
func (m *SessionManager) Dispatch(msg ControlMessage) {
	if msg.SessionID == "" && msg.Kind != KindBatchFile {
		return
	}

	ms := m.getOrCreate(msg.SessionID, msg.Kind)
	if ms == nil {
		return
	}

	select {
	case ms.inbox <- msg:
	default:
		m.logger.Warn("session inbox full, dropping message", "sessionID", msg.SessionID, "kind", msg.Kind)
	}
}

func (m *SessionManager) getOrCreate(id string, kind ControlKind) *managedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.sessions[id]; ok {
		return ms
	}
	if kind == KindResetSession {
		// Resetting a session that was never created or already reaped
		// is a no-op.
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := NewSession(id, m.cfg.Engine, m.cfg, m.vadFactory(), m.nowFunc())
	ms := &managedSession{
		session: sess,
		inbox:   make(chan ControlMessage, inboxDepth),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.sessions[id] = ms
	m.metrics.ActiveSessionsAdd(1)

	go m.run(ctx, ms)
	return ms
}

func (m *SessionManager) run(ctx context.Context, ms *managedSession) {
	defer close(ms.done)
	defer m.metrics.ActiveSessionsAdd(-1)
	if err := m.backend.Start(ctx, ms.session); err != nil {
		m.logger.Error("backend start failed", "sessionID", ms.session.ID, "error", err)
		m.metrics.RecordBackendError(ctx, m.backend.Name())
		m.emitter.Emit(ErrorEvent(ms.session.ID, "", err, ""))
		m.removeSession(ms.session.ID)
		return
	}

	idle := time.NewTicker(m.cfg.IdleTimeout / 4)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.backend.Stop(ms.session)
			return
		case <-idle.C:
			if time.Duration(ms.session.IdleSince(m.nowFunc()))*time.Millisecond >= m.cfg.IdleTimeout {
				m.removeSession(ms.session.ID)
				m.backend.Stop(ms.session)
				return
			}
		case msg := <-ms.inbox:
			ms.session.Touch(m.nowFunc())
			m.handle(ctx, ms, msg)
			if msg.Kind == KindResetSession {
				continue
			}
			if msg.Kind == KindStreamingChunk && msg.IsFinal {
				m.removeSession(ms.session.ID)
				m.backend.Stop(ms.session)
				return
			}
		}
	}
}

func (m *SessionManager) removeSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *SessionManager) handle(ctx context.Context, ms *managedSession, msg ControlMessage) {
	sess := ms.session

	switch msg.Kind {
	case KindResetSession:
		sess.Reset()
		m.backend.Reset(sess)

	case KindForceCommit:
		seg, ok := sess.Segmenter.ForceCommit()
		if ok {
			m.commitSegment(ctx, sess, seg)
		}

	case KindStreamingChunk:
		m.handleStreamingChunk(ctx, sess, msg)

	case KindBatchFile:
		m.handleBatchFile(ctx, sess, msg)
	}
}

// handleStreamingChunk decodes one audio frame, classifies it, and drives
// the Segmenter. Control flow (force_commit, reset) bypasses VAD
// entirely; only streaming_chunk touches the VAD gate.
func (m *SessionManager) handleStreamingChunk(ctx context.Context, sess *Session, msg ControlMessage) {
	raw, err := audio.DecodePCM16(msg.AudioData)
	if err != nil {
		m.emitter.Emit(ErrorEvent(sess.ID, msg.RequestID, err, ""))
		return
	}
	if len(raw) == 0 && !msg.IsFinal {
		return
	}

	if len(raw) > 0 {
		frame := audio.BytesToFloat32(raw)
		sess.Ring.Append(frame)

		wasSpeaking := sess.Segmenter.State() != StateIdle
		speech := sess.VAD.IsSpeech(frame)

		// Only frames belonging to an utterance reach the backend: the
		// online pass decodes speech and whatever trailing silence is
		// still inside the segment; idle silence never leaves the VAD
		// gate.
		if speech || wasSpeaking {
			if err := m.backend.Push(ctx, sess, frame, m.emitter); err != nil {
				m.logger.Warn("backend push failed, skipping frame", "sessionID", sess.ID, "error", err)
			}
		}

		seg, committed := sess.Segmenter.PushFrame(frame, speech, m.nowFunc())

		if !wasSpeaking && sess.Segmenter.State() != StateIdle {
			sess.StartedAtMs = m.nowFunc()
			m.emitter.Emit(IsSpeakingEvent(sess.ID))
		}

		if committed {
			m.commitSegment(ctx, sess, seg)
		}
	}

	if msg.IsFinal {
		// An empty final segment has nothing to decode; committing it
		// would only cost a backend round trip that returns no text.
		if finalSeg, ok := sess.Segmenter.FinalChunk(); ok && len(finalSeg.Samples) > 0 {
			m.commitSegment(ctx, sess, finalSeg)
		}
	}
}

// handleBatchFile decodes a whole file via the offline pass only. File
// I/O runs in this session's own goroutine, which is already off the
// shared control-dispatch path.
func (m *SessionManager) handleBatchFile(ctx context.Context, sess *Session, msg ControlMessage) {
	raw, err := readAudioFile(msg.AudioPath)
	if err != nil {
		m.emitter.Emit(ErrorEvent(sess.ID, msg.RequestID, err, ""))
		return
	}
	seg := &Segment{Samples: audio.BytesToFloat32(raw), Trigger: TriggerFinalChunk, RequestID: msg.RequestID}
	m.commitSegment(ctx, sess, seg)
}

func (m *SessionManager) commitSegment(ctx context.Context, sess *Session, seg *Segment) {
	start := m.nowFunc()
	result, err := m.backend.Commit(ctx, sess, seg)
	m.metrics.RecordBackendCommitDuration(ctx, m.backend.Name(), float64(m.nowFunc()-start)/1000)
	if err != nil {
		m.metrics.RecordBackendError(ctx, m.backend.Name())
		m.emitter.Emit(ErrorEvent(sess.ID, seg.RequestID, err, seg.Trigger))
		return
	}
	m.metrics.RecordSegmentCommitted(ctx, seg.Trigger)
	if result.ReplicaID != nil {
		m.metrics.RecordRaceWin(ctx, *result.ReplicaID)
	}

	text := result.PunctuatedText
	if text == "" {
		text = result.RawText
	}

	sentences, _ := SplitBySentenceEnd(text, m.cfg.MinSentenceChars)
	if len(sentences) == 0 && text != "" {
		// Nothing reached a terminator; commit the text whole, whatever
		// the trigger, since a commit does not require punctuation.
		sentences = []string{text}
	}

	// segment_seq is assigned per emitted sentence_complete, not per
	// segment commit: a two-pass-local segment can split into several
	// sentences, and the emitted sequence must be strictly increasing
	// across those events, not merely across segment commits.
	now := m.nowFunc()
	var audioDuration float64
	if m.cfg.SampleRate > 0 {
		audioDuration = float64(len(seg.Samples)) / float64(m.cfg.SampleRate)
	}
	for i, sentence := range sentences {
		seq := sess.NextSeq()
		sess.RecordSentence(sentence, seq)
		event := SentenceCompleteEvent(sess.ID, sentence, now, seq, seg.Trigger)
		event.RequestID = seg.RequestID
		event.ReplicaID = result.ReplicaID
		event.LatencyMs = result.LatencyMs
		event.AudioDuration = audioDuration
		// Per-sentence times are a character-length-proportional estimate
		// within the segment, never ground-truth alignment.
		if i < len(result.PerSegmentTimes) {
			event.StartTime = float64(result.PerSegmentTimes[i].StartMs) / 1000
			event.EndTime = float64(result.PerSegmentTimes[i].EndMs) / 1000
		}
		m.emitter.Emit(event)
		m.metrics.RecordSentenceEmitted(ctx)
	}
}

package orchestrator

import "context"

// Backend is the uniform contract over the four recognizer kinds: local
// two-pass, local whole-utterance, remote WebSocket, remote HTTP race.
// SessionManager talks only to this interface; the concrete
// adapters live in pkg/backend and depend on this package, not the
// reverse, so they stay free to pull in engine-specific dependencies
// without orchestrator ever needing to know about them.
type Backend interface {
	// Start performs an optional one-time handshake (e.g. the remote WS
	// backend's connection + credential exchange). Many backends no-op.
	Start(ctx context.Context, sess *Session) error

	// Push feeds one classified-speech frame. It may emit zero or more
	// partial events itself (streaming backends) by calling back into the
	// supplied Emitter; SessionManager does not interpret partials.
	Push(ctx context.Context, sess *Session, frame []float32, emit *Emitter) error

	// Commit finalizes a segment and returns the decode result for the
	// Assembler to split into sentence_complete events.
	Commit(ctx context.Context, sess *Session, seg *Segment) (DecodeResult, error)

	// Reset drops any per-session continuation state without closing the
	// session itself.
	Reset(sess *Session)

	// Stop releases per-session resources (connections, file handles).
	Stop(sess *Session)

	// Name identifies the backend for logging and metrics.
	Name() string
}

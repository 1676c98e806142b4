package orchestrator

import "errors"

var (
	// ErrUnknownSession is returned when a control message references a
	// session id that has no live session and the operation requires one.
	ErrUnknownSession = errors.New("unknown session id")

	// ErrMalformedMessage is emitted as an error event when an inbound
	// control line is not valid JSON.
	ErrMalformedMessage = errors.New("malformed control message")

	// ErrMissingAudioData is emitted when a streaming_chunk is missing its
	// audio_data field.
	ErrMissingAudioData = errors.New("missing audio_data")

	// ErrUnknownMessageType is emitted for an unrecognized message type.
	ErrUnknownMessageType = errors.New("unknown request type")

	// ErrBackendLoadFailed is fatal at startup: model load failure.
	ErrBackendLoadFailed = errors.New("backend model load failed")

	// ErrNilProvider guards constructors against a nil VAD/backend.
	ErrNilProvider = errors.New("required provider is nil")

	// ErrVADNotConfigured is returned when audio arrives but no VAD gate is wired.
	ErrVADNotConfigured = errors.New("VAD provider not configured")

	// ErrTokenFetchFailed marks a failed OAuth-style token acquisition for
	// the remote WebSocket backend.
	ErrTokenFetchFailed = errors.New("token fetch failed")

	// ErrAllReplicasFailed marks every racing HTTP replica failing within
	// the timeout window.
	ErrAllReplicasFailed = errors.New("all redundant requests failed")

	// ErrSessionClosed is returned by operations attempted on a session
	// already torn down by reset_session or idle GC.
	ErrSessionClosed = errors.New("session closed")
)

package orchestrator

import "encoding/json"

// ControlKind enumerates the inbound control message types.
type ControlKind string

const (
	KindStreamingChunk ControlKind = "streaming_chunk"
	KindForceCommit    ControlKind = "force_commit"
	KindResetSession   ControlKind = "reset_session"
	KindBatchFile      ControlKind = "batch_file"
)

// ControlMessage is the parsed form of one inbound line. Only the fields
// relevant to Kind are populated; AudioData, Timestamp and IsFinal matter
// for streaming_chunk, AudioPath and RequestID for batch_file.
type ControlMessage struct {
	Kind ControlKind

	SessionID string
	RequestID string

	AudioData string
	Timestamp int64
	IsFinal   bool

	AudioPath string
}

// wireMessage is the raw JSON shape every inbound line decodes into
// before dispatch on its "type" discriminator.
type wireMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`

	AudioData string `json:"audio_data"`
	Timestamp int64  `json:"timestamp"`
	IsFinal   bool   `json:"is_final"`

	AudioPath string `json:"audio_path"`
}

// ParseControlMessage decodes one inbound line. Malformed JSON, an unknown
// type, and a streaming_chunk with neither audio_data nor is_final are
// reported as errors (other fields are not checked here) so the caller can
// emit the corresponding error event and keep the control channel alive.
func ParseControlMessage(line []byte) (ControlMessage, error) {
	var raw wireMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return ControlMessage{}, ErrMalformedMessage
	}

	msg := ControlMessage{
		SessionID: raw.SessionID,
		RequestID: raw.RequestID,
		AudioData: raw.AudioData,
		Timestamp: raw.Timestamp,
		IsFinal:   raw.IsFinal,
		AudioPath: raw.AudioPath,
	}

	switch ControlKind(raw.Type) {
	case KindStreamingChunk:
		msg.Kind = KindStreamingChunk
		// A bare is_final marker closes the stream without carrying audio;
		// every other chunk must have a payload.
		if msg.AudioData == "" && !msg.IsFinal {
			return ControlMessage{}, ErrMissingAudioData
		}
	case KindForceCommit:
		msg.Kind = KindForceCommit
	case KindResetSession:
		msg.Kind = KindResetSession
	case KindBatchFile:
		msg.Kind = KindBatchFile
	default:
		return ControlMessage{}, ErrUnknownMessageType
	}

	return msg, nil
}

package orchestrator

// Event is the outbound wire shape. Fields are tagged with omitempty
// throughout since each event kind only populates a subset; the emitter
// never writes a field the schema doesn't call for.
type Event struct {
	Status    string `json:"status,omitempty"`
	Type      string `json:"type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Text     string `json:"text,omitempty"`
	FullText string `json:"full_text,omitempty"`

	// PartialText carries the WebSocket backend's camelCase quirk: it
	// duplicates Text for that one backend so client code keyed on
	// partialText keeps working.
	PartialText string `json:"partialText,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
	IsFinal   bool  `json:"is_final,omitempty"`

	// IsSegmentEnd marks a remote WebSocket FIN_TEXT commit: the server
	// decided the segment boundary, not this process's segmenter.
	IsSegmentEnd bool `json:"is_segment_end,omitempty"`

	SegmentSeq    int64   `json:"segment_seq,omitempty"`
	Trigger       Trigger `json:"trigger,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
	StartTime     float64 `json:"start_time,omitempty"`
	EndTime       float64 `json:"end_time,omitempty"`

	IsSpeaking bool `json:"isSpeaking,omitempty"`

	Language            string  `json:"language,omitempty"`
	LanguageProbability float64 `json:"language_probability,omitempty"`

	ReplicaID *int    `json:"replica_id,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`

	Error string `json:"error,omitempty"`
}

// ReadyEvent is emitted once after all models have finished loading.
func ReadyEvent() Event { return Event{Status: "ready"} }

// FatalEvent signals an unrecoverable startup failure; the process should
// exit after emitting it.
func FatalEvent(err error) Event {
	return Event{Status: "fatal", Error: err.Error()}
}

// PartialEvent carries an incremental transcript delta.
func PartialEvent(sessionID, delta, fullText string, timestampMs int64) Event {
	return Event{
		SessionID: sessionID,
		Type:      "partial",
		Text:      delta,
		FullText:  fullText,
		Timestamp: timestampMs,
		Status:    "success",
	}
}

// SentenceCompleteEvent carries a durable committed sentence.
func SentenceCompleteEvent(sessionID, text string, timestampMs int64, seq int64, trigger Trigger) Event {
	return Event{
		SessionID:  sessionID,
		Type:       "sentence_complete",
		Text:       text,
		Timestamp:  timestampMs,
		IsFinal:    true,
		Status:     "success",
		SegmentSeq: seq,
		Trigger:    trigger,
	}
}

// IsSpeakingEvent is the advisory UI hint sent while active speech is
// detected.
func IsSpeakingEvent(sessionID string) Event {
	return Event{SessionID: sessionID, Type: "is_speaking", IsSpeaking: true}
}

// LanguageDetectedEvent reports a backend's language guess, when available.
func LanguageDetectedEvent(sessionID, language string, probability float64) Event {
	return Event{
		SessionID:           sessionID,
		Type:                "language_detected",
		Language:            language,
		LanguageProbability: probability,
	}
}

// ErrorEvent reports a recoverable per-request or per-segment failure.
func ErrorEvent(sessionID, requestID string, err error, trigger Trigger) Event {
	return Event{
		SessionID: sessionID,
		RequestID: requestID,
		Status:    "error",
		Error:     err.Error(),
		Trigger:   trigger,
	}
}

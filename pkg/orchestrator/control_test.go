package orchestrator

import (
	"errors"
	"testing"
)

func TestParseControlMessageStreamingChunk(t *testing.T) {
	line := []byte(`{"type":"streaming_chunk","session_id":"s1","audio_data":"AAA=","timestamp":123}`)
	msg, err := ParseControlMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindStreamingChunk || msg.SessionID != "s1" || msg.AudioData != "AAA=" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseControlMessageMissingAudioData(t *testing.T) {
	line := []byte(`{"type":"streaming_chunk","session_id":"s1"}`)
	_, err := ParseControlMessage(line)
	if !errors.Is(err, ErrMissingAudioData) {
		t.Fatalf("expected ErrMissingAudioData, got %v", err)
	}
}

func TestParseControlMessageBareFinalMarker(t *testing.T) {
	// A stream may end with an is_final marker carrying no audio; that is
	// not a missing-audio error.
	line := []byte(`{"type":"streaming_chunk","session_id":"s1","is_final":true}`)
	msg, err := ParseControlMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindStreamingChunk || !msg.IsFinal {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseControlMessageForceCommit(t *testing.T) {
	line := []byte(`{"type":"force_commit","session_id":"s1"}`)
	msg, err := ParseControlMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindForceCommit {
		t.Fatalf("expected force_commit kind, got %v", msg.Kind)
	}
}

func TestParseControlMessageBatchFile(t *testing.T) {
	line := []byte(`{"type":"batch_file","request_id":"r1","audio_path":"/tmp/a.wav"}`)
	msg, err := ParseControlMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindBatchFile || msg.AudioPath != "/tmp/a.wav" || msg.RequestID != "r1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseControlMessageUnknownType(t *testing.T) {
	line := []byte(`{"type":"wat"}`)
	_, err := ParseControlMessage(line)
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
}

func TestParseControlMessageMalformedJSON(t *testing.T) {
	_, err := ParseControlMessage([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

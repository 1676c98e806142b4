// Package backend implements the four recognizer adapters behind
// orchestrator.Backend: local two-pass, local whole-utterance, remote
// WebSocket, and remote HTTP race.
package backend

import "github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"

// OnlineDecoder is the fast streaming pass of a two-pass local backend: it
// consumes one classified-speech frame at a time against a per-session
// continuation cache and returns its current best-guess text.
type OnlineDecoder interface {
	DecodeFrame(cache orchestrator.Continuation, frame []float32) (string, error)
	NewContinuation() orchestrator.Continuation
}

// OfflineDecoder is the slow, high-accuracy pass: given a whole committed
// segment's samples, it returns a result already normalized to
// DecodeResult, whatever union of shapes the native decoder produced.
type OfflineDecoder interface {
	DecodeSegment(samples []float32, sampleRate int) (orchestrator.DecodeResult, error)
}

// Punctuator restores punctuation on text the online pass produced
// without it, optionally given the last few completed sentences as
// context.
type Punctuator interface {
	Punctuate(text string, context []string) (string, error)
}

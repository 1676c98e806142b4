package orchestrator

import (
	"encoding/json"
	"io"
	"sync"
)

// Emitter writes one JSON line per event to a dedicated stream. The
// mutex exists because many session goroutines share one
// Emitter; Write must be atomic per line or interleaved bytes would
// corrupt the client's parser — the one hard requirement this type
// exists to uphold.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter wraps the given writer, which must be wired to a stream
// distinct from diagnostic logs.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit serializes ev as a single newline-terminated JSON line.
func (e *Emitter) Emit(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(b)
	return err
}

// EmitPartialResultWS is the remote WebSocket backend's partial emission
// path: it duplicates Text into PartialText to satisfy the camelCase
// client-compat quirk, kept isolated here so only that one backend pays
// for it.
func (e *Emitter) EmitPartialResultWS(sessionID, delta, fullText string, timestampMs int64) error {
	ev := PartialEvent(sessionID, delta, fullText, timestampMs)
	ev.PartialText = delta
	return e.Emit(ev)
}

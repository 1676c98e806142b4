package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// stubTokenSource always returns the same token, never expiring — token
// refresh itself is exercised indirectly through tokenCache.get's
// safety-margin math, not re-tested here.
type stubTokenSource struct{}

func (stubTokenSource) FetchToken(ctx context.Context) (string, time.Time, error) {
	return "tok", time.Now().Add(24 * time.Hour), nil
}

// TestRemoteWS_ReadLoopEmitsPartialAndSentenceComplete scripts a
// MID_TEXT/MID_TEXT/FIN_TEXT exchange against an in-process server and
// asserts the read loop surfaces them through the Emitter, not just into
// session state.
func TestRemoteWS_ReadLoopEmitsPartialAndSentenceComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var start wsStartFrame
		if err := wsjson.Read(r.Context(), conn, &start); err != nil {
			return
		}

		wsjson.Write(r.Context(), conn, wsInboundFrame{Type: "MID_TEXT", Text: "hel"})
		wsjson.Write(r.Context(), conn, wsInboundFrame{Type: "MID_TEXT", Text: "hello"})
		wsjson.Write(r.Context(), conn, wsInboundFrame{Type: "FIN_TEXT", Text: "hello."})
	}))
	defer server.Close()

	dialURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	b := NewRemoteWS(dialURL, "app-1", 16000, stubTokenSource{}, time.Minute)
	sess := orchestrator.NewSession("s1", orchestrator.EngineRemoteWS, orchestrator.DefaultConfig(), orchestrator.NewRMSVAD(0.009), 0)

	if err := b.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(sess)

	collector := &eventCollector{}
	emit := orchestrator.NewEmitter(collector)

	if err := b.Push(context.Background(), sess, []float32{0, 0}, emit); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var events []orchestrator.Event
	for time.Now().Before(deadline) {
		events = collector.snapshot()
		if len(events) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(events) < 3 {
		t.Fatalf("expected 3 events (2 partials + 1 sentence_complete), got %d: %+v", len(events), events)
	}

	if events[0].Type != "partial" || events[0].Text != "hel" {
		t.Errorf("unexpected first partial: %+v", events[0])
	}
	if events[1].Type != "partial" || events[1].Text != "lo" {
		t.Errorf("expected incremental delta %q, got %+v", "lo", events[1])
	}
	if events[2].Type != "sentence_complete" || events[2].Text != "hello." {
		t.Errorf("unexpected sentence_complete: %+v", events[2])
	}
}

// eventCollector is a one-line-per-Write sink that decodes each newline-
// JSON Event, used so the test can assert on parsed events rather than
// raw bytes. It is safe for the readLoop goroutine to write to while the
// test goroutine polls snapshot.
type eventCollector struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (c *eventCollector) Write(p []byte) (int, error) {
	var ev orchestrator.Event
	if err := json.Unmarshal(p, &ev); err == nil {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
	return len(p), nil
}

func (c *eventCollector) snapshot() []orchestrator.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]orchestrator.Event, len(c.events))
	copy(out, c.events)
	return out
}

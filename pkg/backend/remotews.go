package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// tokenSafetyMargin is subtracted from a fetched token's expiry so the WS
// backend refreshes before the credential actually lapses mid-utterance.
const tokenSafetyMargin = time.Hour

// defaultWSIdleTimeout bounds how long the read loop waits on a silent
// server before treating the connection as dead.
const defaultWSIdleTimeout = 60 * time.Second

// wsStartFrame is the JSON START frame sent once per connection.
type wsStartFrame struct {
	AppID      string `json:"app_id"`
	Token      string `json:"token"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

// wsInboundFrame is the server's JSON reply shape: MID_TEXT carries a
// partial, FIN_TEXT carries a committed sentence, err_no != 0 is a
// recoverable backend-side error.
type wsInboundFrame struct {
	Type   string `json:"type"`
	Text   string `json:"result"`
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
}

// TokenSource fetches a client-credentials-style OAuth token for the
// remote recognizer. Implementations hit the provider's token endpoint;
// tests can stub this directly.
type TokenSource interface {
	FetchToken(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// HTTPTokenSource is the default TokenSource: a single POST against a
// client-credentials endpoint.
type HTTPTokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

func (t *HTTPTokenSource) FetchToken(ctx context.Context) (string, time.Time, error) {
	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.ClientID)
	form.Set("client_secret", t.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.TokenURL, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", orchestrator.ErrTokenFetchFailed, err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", orchestrator.ErrTokenFetchFailed, err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: decode token response", orchestrator.ErrTokenFetchFailed)
	}

	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}

// tokenCache is the single shared token cache; updates are serialized by
// one mutex so concurrent sessions never race a refresh.
type tokenCache struct {
	mu        sync.Mutex
	source    TokenSource
	token     string
	expiresAt time.Time
}

func (c *tokenCache) get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-tokenSafetyMargin)) {
		return c.token, nil
	}

	token, expiresAt, err := c.source.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token, c.expiresAt = token, expiresAt
	return token, nil
}

// wsConn is the per-session continuation: the live connection plus the
// incoming-message reader goroutine's state. emitter is refreshed on
// every Push call so readLoop — which outlives any single Push — has a
// live Emitter to surface MID_TEXT/FIN_TEXT through once the first Push
// has arrived, without Start needing an Emitter parameter of its own.
// Frames read before the first Push only update session state.
type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closed  bool
	emitter *orchestrator.Emitter
}

func (c *wsConn) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.closed = false
}

func (c *wsConn) setEmitter(e *orchestrator.Emitter) {
	c.mu.Lock()
	c.emitter = e
	c.mu.Unlock()
}

func (c *wsConn) getEmitter() *orchestrator.Emitter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitter
}

// RemoteWS is the per-session streaming WebSocket backend: one connection
// per session, a JSON START frame, raw binary PCM frames while speaking,
// and a FINISH frame to close out an utterance.
type RemoteWS struct {
	dialURL     string
	appID       string
	sampleRate  int
	tokens      *tokenCache
	idleTimeout time.Duration
}

// NewRemoteWS wires a dial URL, app id, sample rate and token source. An
// idleTimeout of zero selects the 60s default.
func NewRemoteWS(dialURL, appID string, sampleRate int, tokens TokenSource, idleTimeout time.Duration) *RemoteWS {
	if idleTimeout <= 0 {
		idleTimeout = defaultWSIdleTimeout
	}
	return &RemoteWS{
		dialURL:     dialURL,
		appID:       appID,
		sampleRate:  sampleRate,
		tokens:      &tokenCache{source: tokens},
		idleTimeout: idleTimeout,
	}
}

func (b *RemoteWS) Name() string { return "remote_ws" }

// Start opens the connection and sends the START frame. A failed token
// fetch marks the session failed without starting: the caller surfaces
// this as a fatal-for-this-session error, the client may retry.
func (b *RemoteWS) Start(ctx context.Context, sess *orchestrator.Session) error {
	token, err := b.tokens.get(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, b.dialURL, nil)
	if err != nil {
		return fmt.Errorf("remote_ws: dial: %w", err)
	}

	start := wsStartFrame{AppID: b.appID, Token: token, SampleRate: b.sampleRate, Format: "pcm_s16le"}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "start frame failed")
		return fmt.Errorf("remote_ws: write start frame: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	wc := &wsConn{conn: conn, cancel: cancel}
	sess.DecoderContext = wc

	go b.readLoop(connCtx, conn, sess)
	return nil
}

// readLoop consumes inbound JSON frames for the lifetime of the
// connection and feeds MID_TEXT/FIN_TEXT into the assembler/emitter. It
// has no Emitter of its own — RemoteWS stores the last Emitter it was
// given via Push so the read loop can keep emitting after the triggering
// Push call returns.
func (b *RemoteWS) readLoop(ctx context.Context, conn *websocket.Conn, sess *orchestrator.Session) {
	for {
		var frame wsInboundFrame
		if err := b.readFrame(ctx, conn, &frame); err != nil {
			// Expected on FINISH-triggered close (1005/1006 here is a
			// normal end, not an error) and on idle timeout, which closes
			// a connection the server went quiet on.
			return
		}

		if frame.ErrNo != 0 {
			continue // skipped without logging or committing; the connection stays open.
		}

		switch frame.Type {
		case "MID_TEXT":
			delta := orchestrator.ExtractIncrementalText(sess.GetLastPartialSent(), frame.Text)
			sess.SetLastPartialSent(frame.Text)
			if delta == "" {
				continue
			}
			if emit := b.emitterFor(sess); emit != nil {
				emit.EmitPartialResultWS(sess.ID, delta, frame.Text, time.Now().UnixMilli())
			}
		case "FIN_TEXT":
			seq := sess.NextSeq()
			sess.RecordSentence(frame.Text, seq)
			sess.SetLastPartialSent("")
			if emit := b.emitterFor(sess); emit != nil {
				ev := orchestrator.SentenceCompleteEvent(sess.ID, frame.Text, time.Now().UnixMilli(), seq, "")
				ev.IsSegmentEnd = true
				emit.Emit(ev)
			}
		}
	}
}

// readFrame reads one inbound frame, bounded by the idle timeout: a server
// that goes silent for longer than idleTimeout is treated as gone and the
// read loop ends.
func (b *RemoteWS) readFrame(ctx context.Context, conn *websocket.Conn, frame *wsInboundFrame) error {
	if b.idleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.idleTimeout)
		defer cancel()
	}
	return wsjson.Read(ctx, conn, frame)
}

// Push streams raw PCM to the remote connection; inbound results surface
// asynchronously through readLoop, which is why this emitter reference is
// threaded through so partials/finals can be emitted without the session
// task blocking on a response.
func (b *RemoteWS) Push(ctx context.Context, sess *orchestrator.Session, frame []float32, emit *orchestrator.Emitter) error {
	wc, ok := sess.DecoderContext.(*wsConn)
	if !ok || wc.conn == nil {
		return nil
	}
	wc.setEmitter(emit)
	return wc.conn.Write(ctx, websocket.MessageBinary, float32FrameToPCM16(frame))
}

// emitterFor returns the Emitter the session's most recent Push call
// supplied, or nil if none has arrived yet (e.g. a FIN_TEXT racing the
// very first Push).
func (b *RemoteWS) emitterFor(sess *orchestrator.Session) *orchestrator.Emitter {
	wc, ok := sess.DecoderContext.(*wsConn)
	if !ok {
		return nil
	}
	return wc.getEmitter()
}

// Commit sends FINISH; the server answers with one more FIN_TEXT, which
// arrives asynchronously through readLoop — readLoop emits the
// sentence_complete itself once it does, so this call returns immediately
// after the write rather than blocking the session's serial task on a
// network round trip. It never restarts the connection mid-utterance.
func (b *RemoteWS) Commit(ctx context.Context, sess *orchestrator.Session, seg *orchestrator.Segment) (orchestrator.DecodeResult, error) {
	wc, ok := sess.DecoderContext.(*wsConn)
	if !ok || wc.conn == nil {
		return orchestrator.DecodeResult{}, orchestrator.ErrSessionClosed
	}

	if err := wc.conn.Write(ctx, websocket.MessageText, []byte("FINISH")); err != nil {
		return orchestrator.DecodeResult{}, fmt.Errorf("remote_ws: write finish: %w", err)
	}

	// The read loop records the committed sentence via RecordSentence
	// once FIN_TEXT arrives; this call contributes no text of its own —
	// SessionManager's caller is expected to treat a remote_ws commit as
	// already emitted and not re-emit from the returned DecodeResult.
	return orchestrator.DecodeResult{IsFinal: true}, nil
}

func (b *RemoteWS) Reset(sess *orchestrator.Session) {
	if wc, ok := sess.DecoderContext.(*wsConn); ok {
		wc.Clear()
	}
}

func (b *RemoteWS) Stop(sess *orchestrator.Session) {
	if wc, ok := sess.DecoderContext.(*wsConn); ok {
		wc.Clear()
	}
}

func float32FrameToPCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/asr-orchestrator/pkg/audio"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

// RaceClient issues one transcription request for a committed segment's
// WAV bytes and returns the recognized text. RemoteHTTPRace fans this out
// across ParallelRequests identical calls per segment; tests substitute a
// stub to control per-replica timing deterministically.
type RaceClient interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// HTTPRaceClient is the default RaceClient: a single multipart/form-data
// POST with Bearer auth against a cloud ASR endpoint, serving as one
// replica of an N-way race.
type HTTPRaceClient struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Transcribe POSTs wav as a multipart file field and decodes a {"text": ...}
// JSON response. A non-200 status or malformed body is returned as an
// error; RemoteHTTPRace treats any error as "this replica lost".
func (c *HTTPRaceClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if c.Model != "" {
		if err := writer.WriteField("model", c.Model); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody interface{}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("remote_http_race: status %d: %v", resp.StatusCode, errBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// replicaResult is one racing replica's successful outcome.
type replicaResult struct {
	id        int
	text      string
	latencyMs float64
}

// RemoteHTTPRace is the redundant-dispatch backend: every committed
// segment is WAV-encoded once and sent as ParallelRequests identical
// concurrent POSTs; the first success wins and the rest are cancelled
// before their bytes are parsed. Commit is called from the session's
// serial task, so within one session the next segment is not dispatched
// until this segment's race has finished; different sessions race
// independently of each other. The errgroup's WithContext pattern is inverted here:
// abort the group on first success rather than first error.
type RemoteHTTPRace struct {
	client           RaceClient
	parallelRequests int
	requestTimeout   time.Duration
	sampleRate       int
	nowFunc          func() time.Time
}

// NewRemoteHTTPRace wires a RaceClient, the replica fan-out count, the
// total per-segment timeout (HTTPRaceClient's transport owns the
// connect-phase timeout; requestTimeout bounds the whole race), and the
// sample rate used to WAV-encode each segment.
func NewRemoteHTTPRace(client RaceClient, parallelRequests int, requestTimeout time.Duration, sampleRate int) *RemoteHTTPRace {
	if parallelRequests < 1 {
		parallelRequests = 1
	}
	return &RemoteHTTPRace{
		client:           client,
		parallelRequests: parallelRequests,
		requestTimeout:   requestTimeout,
		sampleRate:       sampleRate,
		nowFunc:          time.Now,
	}
}

func (b *RemoteHTTPRace) Name() string { return "remote_http_race" }

// Start is a no-op: the race backend holds no per-session connection,
// only per-segment HTTP requests dispatched from Commit.
func (b *RemoteHTTPRace) Start(ctx context.Context, sess *orchestrator.Session) error {
	return nil
}

// Push is a no-op: this backend never produces partials, it dispatches
// only on commit, unlike the streaming backends.
func (b *RemoteHTTPRace) Push(ctx context.Context, sess *orchestrator.Session, frame []float32, emit *orchestrator.Emitter) error {
	return nil
}

// Commit fans out ParallelRequests identical transcription requests for
// the segment and returns as soon as one succeeds. At most one
// sentence_complete is produced per committed segment: the losing
// replicas' text is discarded here and never reaches the emitter. If
// every replica fails, or the whole race exceeds requestTimeout, it
// returns ErrAllReplicasFailed; there is no automatic retry, the next
// segment is independent.
func (b *RemoteHTTPRace) Commit(ctx context.Context, sess *orchestrator.Session, seg *orchestrator.Segment) (orchestrator.DecodeResult, error) {
	raceCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	wav := audio.NewWavBuffer(audio.Float32ToBytes(seg.Samples), b.sampleRate)

	g, gctx := errgroup.WithContext(raceCtx)
	results := make(chan replicaResult, b.parallelRequests)

	for i := 0; i < b.parallelRequests; i++ {
		replicaID := i
		g.Go(func() error {
			start := b.nowFunc()
			text, err := b.client.Transcribe(gctx, wav)
			if err != nil {
				// This replica lost; it is not fatal to the race, only
				// exhausting every replica is.
				return nil
			}
			select {
			case results <- replicaResult{id: replicaID, text: text, latencyMs: float64(b.nowFunc().Sub(start).Milliseconds())}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	allDone := make(chan struct{})
	go func() {
		g.Wait()
		close(allDone)
	}()

	select {
	case r := <-results:
		cancel() // propagates to every sibling's in-flight socket read
		return winningResult(r), nil
	case <-allDone:
		select {
		case r := <-results:
			cancel()
			return winningResult(r), nil
		default:
			return orchestrator.DecodeResult{}, orchestrator.ErrAllReplicasFailed
		}
	case <-raceCtx.Done():
		select {
		case r := <-results:
			return winningResult(r), nil
		default:
			return orchestrator.DecodeResult{}, fmt.Errorf("remote_http_race: %w", orchestrator.ErrAllReplicasFailed)
		}
	}
}

func winningResult(r replicaResult) orchestrator.DecodeResult {
	id := r.id
	return orchestrator.DecodeResult{
		RawText:        r.text,
		PunctuatedText: r.text,
		IsFinal:        true,
		ReplicaID:      &id,
		LatencyMs:      r.latencyMs,
	}
}

// Reset is a no-op: segments are independent, there is no per-session
// continuation to clear.
func (b *RemoteHTTPRace) Reset(sess *orchestrator.Session) {}

// Stop is a no-op for the same reason: no persistent per-session resource.
func (b *RemoteHTTPRace) Stop(sess *orchestrator.Session) {}

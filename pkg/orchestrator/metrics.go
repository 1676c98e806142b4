package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for every metric this
// module records.
const meterName = "github.com/lokutor-ai/asr-orchestrator"

// Metrics holds the OpenTelemetry instruments SessionManager records
// through (including the race backend's winning replica, taken from the
// DecodeResult). Every Record* method is safe on a nil
// receiver, so instrumentation stays opt-in.
type Metrics struct {
	ActiveSessions metric.Int64UpDownCounter

	SegmentsCommitted metric.Int64Counter
	SentencesEmitted  metric.Int64Counter
	BackendErrors     metric.Int64Counter

	BackendCommitDuration metric.Float64Histogram

	// RaceReplicaWins counts which replica_id wins the HTTP-race backend's
	// redundant dispatch; attribute "replica".
	RaceReplicaWins metric.Int64Counter
}

// latencyBuckets cover the 10ms-10s regime a segment commit lives in
// (seconds), from a fast local decode to a slow remote round trip.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics builds every instrument against the given MeterProvider.
// Callers that don't want metrics (tests, a minimal embed) can pass
// noop.NewMeterProvider() and pay nothing at call sites.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ActiveSessions, err = m.Int64UpDownCounter("asr.sessions.active",
		metric.WithDescription("Number of live ASR sessions."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCommitted, err = m.Int64Counter("asr.segments.committed",
		metric.WithDescription("Total committed segments by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SentencesEmitted, err = m.Int64Counter("asr.sentences.emitted",
		metric.WithDescription("Total sentence_complete events emitted."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("asr.backend.errors",
		metric.WithDescription("Total backend errors by backend name."),
	); err != nil {
		return nil, err
	}
	if met.BackendCommitDuration, err = m.Float64Histogram("asr.backend.commit.duration",
		metric.WithDescription("Latency of a backend's segment commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RaceReplicaWins, err = m.Int64Counter("asr.race.replica_wins",
		metric.WithDescription("Total wins per replica id in the HTTP-race backend."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ActiveSessionsAdd adjusts the live-session gauge by delta (+1 on
// creation, -1 on teardown).
func (m *Metrics) ActiveSessionsAdd(delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(context.Background(), delta)
}

// RecordSegmentCommitted records one committed segment for the given
// trigger.
func (m *Metrics) RecordSegmentCommitted(ctx context.Context, trigger Trigger) {
	if m == nil {
		return
	}
	m.SegmentsCommitted.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(trigger))))
}

// RecordSentenceEmitted records one sentence_complete event.
func (m *Metrics) RecordSentenceEmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SentencesEmitted.Add(ctx, 1)
}

// RecordBackendError records a backend failure, tagged by backend name.
func (m *Metrics) RecordBackendError(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.BackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordBackendCommitDuration records how long a backend's Commit call
// took, in seconds.
func (m *Metrics) RecordBackendCommitDuration(ctx context.Context, backend string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendCommitDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordRaceWin records which replica id won a redundant-dispatch race.
func (m *Metrics) RecordRaceWin(ctx context.Context, replicaID int) {
	if m == nil {
		return
	}
	m.RaceReplicaWins.Add(ctx, 1, metric.WithAttributes(attribute.Int("replica", replicaID)))
}

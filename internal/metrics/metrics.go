// Package metrics records pipeline activity through the OpenTelemetry
// Metrics API.
//
// Instruments are created from a caller-supplied [metric.MeterProvider] so
// tests can inspect them with a manual reader. [InitProvider] wires a
// Prometheus exporter and returns the /metrics handler. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/yok-tottii/EzEcho"

// Metrics holds the instruments used by the capture, recording and
// playback paths.
type Metrics struct {
	// FramesClassified counts classified frames. Attribute: speech=true|false.
	FramesClassified metric.Int64Counter

	// VoiceSegments counts detected utterances.
	VoiceSegments metric.Int64Counter

	// RecordedBytes counts raw PCM bytes written to recordings.
	RecordedBytes metric.Int64Counter

	// PlaybackDuration tracks how long clip playback took.
	PlaybackDuration metric.Float64Histogram

	// PlaybackErrors counts failed playbacks.
	PlaybackErrors metric.Int64Counter

	// CaptureRunning is 1 while a capture loop is active.
	CaptureRunning metric.Int64UpDownCounter

	// StateTransitions counts pipeline state changes. Attributes: from, to.
	StateTransitions metric.Int64Counter
}

var playbackBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesClassified, err = m.Int64Counter("ezecho.vad.frames",
		metric.WithDescription("Frames classified by the voice activity detector."),
	); err != nil {
		return nil, err
	}
	if met.VoiceSegments, err = m.Int64Counter("ezecho.vad.segments",
		metric.WithDescription("Detected voice segments."),
	); err != nil {
		return nil, err
	}
	if met.RecordedBytes, err = m.Int64Counter("ezecho.recorder.bytes",
		metric.WithDescription("Raw PCM bytes written to recordings."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("ezecho.playback.duration",
		metric.WithDescription("Duration of clip playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("ezecho.playback.errors",
		metric.WithDescription("Failed clip playbacks."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRunning, err = m.Int64UpDownCounter("ezecho.capture.running",
		metric.WithDescription("Number of running capture loops."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("ezecho.pipeline.transitions",
		metric.WithDescription("Pipeline state transitions by source and target state."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	if m == nil {
		return
	}
	m.FramesClassified.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
}

// RecordVoiceSegment counts one detected utterance.
func (m *Metrics) RecordVoiceSegment(ctx context.Context) {
	if m == nil {
		return
	}
	m.VoiceSegments.Add(ctx, 1)
}

// AddRecordedBytes adds n to the recorded byte counter.
func (m *Metrics) AddRecordedBytes(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordedBytes.Add(ctx, int64(n))
}

// RecordPlayback records a finished playback. A non-nil err also counts
// as a playback error.
func (m *Metrics) RecordPlayback(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.PlaybackErrors.Add(ctx, 1)
	}
	m.PlaybackDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// CaptureStarted marks a capture loop as running.
func (m *Metrics) CaptureStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureRunning.Add(ctx, 1)
}

// CaptureStopped marks a capture loop as finished.
func (m *Metrics) CaptureStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureRunning.Add(ctx, -1)
}

// RecordTransition counts a pipeline state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Package observe holds the OpenTelemetry instruments for the voice pipeline
// and the Prometheus bridge that exposes them on /metrics.
//
// All Record methods are safe on a nil *Metrics so components can run
// without metrics configured.
package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"aria/internal/session"
)

const meterName = "aria"

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

type Metrics struct {
	Sessions        metric.Int64Counter
	SessionOutcomes metric.Int64Counter

	AssistantDuration metric.Float64Histogram
	AssistantErrors   metric.Int64Counter

	RecognitionDuration metric.Float64Histogram
	RecognitionErrors   metric.Int64Counter

	DroppedFrames metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Sessions, err = m.Int64Counter("aria.sessions",
		metric.WithDescription("Recording sessions started, by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("aria.session.outcomes",
		metric.WithDescription("Finished exchanges by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("aria.assistant.duration",
		metric.WithDescription("Latency of assistant round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantErrors, err = m.Int64Counter("aria.assistant.errors",
		metric.WithDescription("Failed assistant calls by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("aria.recognition.duration",
		metric.WithDescription("Time spent recognizing one frame or flush."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("aria.recognition.errors",
		metric.WithDescription("Utterances lost to decoder failures."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("aria.capture.dropped_frames",
		metric.WithDescription("Audio frames dropped because the queue stayed full."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) RecordRecognition(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RecognitionDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.RecognitionErrors.Add(ctx, 1)
	}
}

// FrameDropped matches capture.WithDropHook.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.DroppedFrames.Add(context.Background(), 1)
}

func (m *Metrics) RecordAssistant(ctx context.Context, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AssistantDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)))
	if err != nil {
		m.AssistantErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", errorKind(err)),
		))
	}
}

// Notify counts session starts and outcomes; it implements session.Observer.
func (m *Metrics) Notify(e session.Event) {
	if m == nil {
		return
	}
	ctx := context.Background()
	switch e.Kind {
	case session.EventSessionStarted:
		m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(e.Trigger))))
	case session.EventReply:
		m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "reply")))
	case session.EventError:
		m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return "timeout"
	}
	return "error"
}

// Asker is the assistant contract as seen by metrics.
type Asker interface {
	Ask(ctx context.Context, transcript string) (string, error)
}

type timedAsker struct {
	next     Asker
	provider string
	metrics  *Metrics
}

// WrapAssistant records latency and errors for every Ask on next.
func WrapAssistant(next Asker, provider string, m *Metrics) Asker {
	if m == nil {
		return next
	}
	return &timedAsker{next: next, provider: provider, metrics: m}
}

func (t *timedAsker) Ask(ctx context.Context, transcript string) (string, error) {
	start := time.Now()
	reply, err := t.next.Ask(ctx, transcript)
	t.metrics.RecordAssistant(ctx, t.provider, time.Since(start), err)
	return reply, err
}

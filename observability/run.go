package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StageRun tracks one traced and measured execution of a stage for an item.
type StageRun struct {
	Stage     int
	ItemID    uint64
	StartTime time.Time

	ctx     context.Context
	span    trace.Span
	metrics *Metrics
}

// StartStageRun opens a SpanStageRun span. metrics may be nil.
func StartStageRun(ctx context.Context, metrics *Metrics, stage int, item uint64) *StageRun {
	ctx, span := StartSpan(ctx, SpanStageRun, trace.WithAttributes(
		attribute.Int(AttrStage, stage),
		attribute.Int64(AttrItemID, int64(item)),
	))
	return &StageRun{
		Stage:     stage,
		ItemID:    item,
		StartTime: time.Now(),
		ctx:       ctx,
		span:      span,
		metrics:   metrics,
	}
}

// Context returns the context carrying the run's span.
func (r *StageRun) Context() context.Context {
	return r.ctx
}

// End closes the span and records the run with StatusOK or StatusError.
func (r *StageRun) End(err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	r.EndWithStatus(status, err)
}

// EndWithStatus closes the span with an explicit status.
func (r *StageRun) EndWithStatus(status string, err error) {
	duration := time.Since(r.StartTime)

	if err != nil {
		r.span.RecordError(err)
		r.span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	}
	r.span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrDurationMs, duration.Milliseconds()),
	)
	r.span.End()

	r.metrics.RecordStageRun(r.ctx, r.Stage, status, duration)
}

// Duration returns the elapsed time since the run started.
func (r *StageRun) Duration() time.Duration {
	return time.Since(r.StartTime)
}

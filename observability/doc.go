// Package observability provides OpenTelemetry tracing and metrics for
// pipeline execution.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("stagepipe"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanStageRun)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("stagepipe"))
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("stagepipe"))
//	metrics.RecordStageRun(ctx, 2, StatusOK, duration)
//
// Stage runs combine both:
//
//	run := observability.StartStageRun(ctx, metrics, stage, itemID)
//	err := module.Run(run.Context())
//	run.End(err)
//
// Health Checks:
//
//	health := observability.NewServiceHealth("stagepipe", version)
//	health.AddComponent(checker.CheckHealth(ctx))
package observability

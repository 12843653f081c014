package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/stagepipe/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string `mapstructure:"service_name"`
	// ServiceVersion is the version of the service.
	ServiceVersion string `mapstructure:"service_version"`
	// Environment is the deployment environment (dev, staging, prod).
	Environment string `mapstructure:"environment"`
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string `mapstructure:"endpoint"`
	// Insecure allows insecure connections (for development).
	Insecure bool `mapstructure:"insecure"`
	// Interval is the metric export interval.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the pipeline's metric instruments.
// A nil *Metrics records nothing.
type Metrics struct {
	stageRunTotal    metric.Int64Counter
	stageRunDuration metric.Float64Histogram
	itemTotal        metric.Int64Counter
	itemDuration     metric.Float64Histogram
	itemActive       metric.Int64UpDownCounter
	paramLoadTotal   metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	stageRunTotal, err := meter.Int64Counter("stage.run.total",
		metric.WithDescription("Total number of stage runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.run.total counter: %w", err)
	}

	stageRunDuration, err := meter.Float64Histogram("stage.run.duration",
		metric.WithDescription("Duration of stage runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.run.duration histogram: %w", err)
	}

	itemTotal, err := meter.Int64Counter("item.total",
		metric.WithDescription("Total number of resolved pipeline items"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item.total counter: %w", err)
	}

	itemDuration, err := meter.Float64Histogram("item.duration",
		metric.WithDescription("Time from push to resolution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item.duration histogram: %w", err)
	}

	itemActive, err := meter.Int64UpDownCounter("item.active",
		metric.WithDescription("Number of unresolved pipeline items"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item.active gauge: %w", err)
	}

	paramLoadTotal, err := meter.Int64Counter("stage.param.load.total",
		metric.WithDescription("Total parameter loads by group and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.param.load.total counter: %w", err)
	}

	return &Metrics{
		stageRunTotal:    stageRunTotal,
		stageRunDuration: stageRunDuration,
		itemTotal:        itemTotal,
		itemDuration:     itemDuration,
		itemActive:       itemActive,
		paramLoadTotal:   paramLoadTotal,
	}, nil
}

// RecordStageRun records one completed or failed stage run.
func (m *Metrics) RecordStageRun(ctx context.Context, stage int, status string, duration time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(stage)
	m.stageRunTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", s),
		attribute.String("status", status),
	))
	m.stageRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", s),
	))
}

// RecordItemStart increments the active item count.
func (m *Metrics) RecordItemStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.itemActive.Add(ctx, 1)
}

// RecordItemEnd decrements active items and records the resolved item.
func (m *Metrics) RecordItemEnd(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.itemActive.Add(ctx, -1)
	m.itemTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.itemDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordParamLoad records a parameter load for a group.
func (m *Metrics) RecordParamLoad(ctx context.Context, group, status string) {
	if m == nil {
		return
	}
	m.paramLoadTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group", group),
		attribute.String("status", status),
	))
}

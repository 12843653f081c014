package executor

import (
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/observability"
	"github.com/kbukum/stagepipe/pipeconfig"
	"github.com/kbukum/stagepipe/scheduler"
	"github.com/kbukum/stagepipe/stage"
)

type options struct {
	name      string
	format    pipeconfig.Format
	scheduler scheduler.Config
	log       *logger.Logger
	metrics   *observability.Metrics
	loadOpts  []stage.LoadOption
}

func defaultOptions() options {
	return options{
		name:      "executor",
		format:    pipeconfig.FormatJSON,
		scheduler: scheduler.DefaultConfig(),
		log:       logger.GetGlobalLogger(),
	}
}

// Option configures an Executor.
type Option func(*options)

// WithName sets the component name reported by Name and Health.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithFormat sets the pipeline configuration format. Defaults to JSON.
func WithFormat(f pipeconfig.Format) Option {
	return func(o *options) { o.format = f }
}

// WithSchedulerConfig sets the dispatch mode and admission limits.
func WithSchedulerConfig(cfg scheduler.Config) Option {
	return func(o *options) { o.scheduler = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records stage, item and parameter metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLoadOptions passes options to stage.LoadArtifacts in Load.
func WithLoadOptions(opts ...stage.LoadOption) Option {
	return func(o *options) { o.loadOpts = append(o.loadOpts, opts...) }
}

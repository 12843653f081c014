package main

import (
	"fmt"
	"os"

	"github.com/kbukum/stagepipe/config"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/observability"
	"github.com/kbukum/stagepipe/scheduler"
	"github.com/kbukum/stagepipe/server"
	"github.com/kbukum/stagepipe/validation"
	"github.com/kbukum/stagepipe/version"
)

const serviceName = "stagepipe"

// AppConfig is the configuration of every stagepipe command.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Pipeline  PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scheduler scheduler.Config `yaml:"scheduler" mapstructure:"scheduler"`
	Server    server.Config    `yaml:"server" mapstructure:"server"`
	Tracing   TracingConfig    `yaml:"tracing" mapstructure:"tracing"`
	Metrics   MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// PipelineConfig names the pipeline configuration and module manifest files.
type PipelineConfig struct {
	Config   string `yaml:"config" mapstructure:"config"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled                    bool `yaml:"enabled" mapstructure:"enabled"`
	observability.TracerConfig `yaml:",inline" mapstructure:",squash"`
}

// MetricsConfig enables OTLP metric export.
type MetricsConfig struct {
	Enabled                   bool `yaml:"enabled" mapstructure:"enabled"`
	observability.MeterConfig `yaml:",inline" mapstructure:",squash"`
}

// ApplyDefaults fills unset fields. Logs go to stderr unless configured
// otherwise so command output on stdout stays machine-readable.
func (c *AppConfig) ApplyDefaults() {
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Version == "" {
		c.Version = version.Version
	}
	c.ServiceConfig.ApplyDefaults()
	c.Scheduler.ApplyDefaults()
	c.Server.ApplyDefaults()

	tracing := observability.DefaultTracerConfig(c.Name)
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = tracing.Endpoint
		c.Tracing.Insecure = tracing.Insecure
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = tracing.SampleRate
	}
	c.Tracing.ServiceName, c.Tracing.ServiceVersion, c.Tracing.Environment = c.Name, c.Version, c.Environment

	metrics := observability.DefaultMeterConfig(c.Name)
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = metrics.Endpoint
		c.Metrics.Insecure = metrics.Insecure
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = metrics.Interval
	}
	c.Metrics.ServiceName, c.Metrics.ServiceVersion, c.Metrics.Environment = c.Name, c.Version, c.Environment
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return validation.Validate(c)
}

// requirePipeline fails unless both pipeline files are known.
func (c *AppConfig) requirePipeline(needManifest bool) error {
	v := validation.New().Required("pipeline.config", c.Pipeline.Config)
	if needManifest {
		v.Required("pipeline.manifest", c.Pipeline.Manifest)
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// loadAppConfig reads config file, dotenv and STAGEPIPE_* variables, then
// applies command-line overrides, defaults and validation.
func loadAppConfig(flags *rootFlags, override func(*AppConfig)) (*AppConfig, error) {
	var opts []config.LoaderOption
	if flags.configFile != "" {
		if _, err := os.Stat(flags.configFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	if flags.envFile != "" {
		opts = append(opts, config.WithEnvFile(flags.envFile))
	}

	cfg := &AppConfig{}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if override != nil {
		override(cfg)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// initLogger installs the configured logger as the global one, so packages
// logging through the package-level helpers follow the same settings.
func (c *AppConfig) initLogger() *logger.Logger {
	logger.Init(&c.Logging)
	return logger.GetGlobalLogger()
}

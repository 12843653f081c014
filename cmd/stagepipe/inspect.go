package main

import (
	"context"

	"github.com/kbukum/stagepipe/backend/exprmod"
	"github.com/kbukum/stagepipe/executor"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/pipeconfig"
	"github.com/kbukum/stagepipe/scheduler"
)

// inspect loads a pipeline configuration without running anything. With a
// manifest the stage modules are instantiated so port names are checked
// and sink outputs derived; without one only the graph is checked.
func inspect(ctx context.Context, cfg *AppConfig, log *logger.Logger) (*pipeconfig.Config, error) {
	if cfg.Pipeline.Manifest == "" {
		return pipeconfig.LoadFile(cfg.Pipeline.Config)
	}
	e, err := executor.LoadFiles(ctx, exprmod.NewBackend(log), cfg.Pipeline.Manifest, cfg.Pipeline.Config,
		executor.WithLogger(log),
		executor.WithSchedulerConfig(scheduler.Config{Mode: scheduler.ModeCooperative}),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Stop(ctx) }()
	return e.Config(), nil
}

// pipelineFlags binds --pipeline and --manifest onto overrides applied
// after the config file is read.
type pipelineFlags struct {
	pipeline string
	manifest string
}

func (p *pipelineFlags) apply(cfg *AppConfig) {
	if p.pipeline != "" {
		cfg.Pipeline.Config = p.pipeline
	}
	if p.manifest != "" {
		cfg.Pipeline.Manifest = p.manifest
	}
}

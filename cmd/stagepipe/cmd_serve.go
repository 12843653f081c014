package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/kbukum/stagepipe/backend/exprmod"
	"github.com/kbukum/stagepipe/bootstrap"
	"github.com/kbukum/stagepipe/executor"
	"github.com/kbukum/stagepipe/observability"
	"github.com/kbukum/stagepipe/server"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var (
		pf   pipelineFlags
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a pipeline over HTTP",
		Long: `Loads the pipeline and its stage modules and serves the item API under
/v1 with /health, /alive, /ready and /info next to it. Settings come from
the config file (pipeline, scheduler, server, tracing, metrics) and
STAGEPIPE_* environment variables; flags override both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig(root, func(c *AppConfig) {
				pf.apply(c)
				if cmd.Flags().Changed("port") {
					c.Server.Port = port
				}
			})
			if err != nil {
				return err
			}
			if err := cfg.requirePipeline(true); err != nil {
				return err
			}

			svc, err := newService(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return svc.app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&pf.pipeline, "pipeline", "p", "", "pipeline configuration file (overrides pipeline.config)")
	cmd.Flags().StringVarP(&pf.manifest, "manifest", "m", "", "module manifest (overrides pipeline.manifest)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// service is a wired stagepipe server that has not been started.
type service struct {
	app  *bootstrap.App[*AppConfig]
	exec *executor.Executor
	http *server.Server
}

// newService loads the pipeline and wires it, the HTTP server and the
// telemetry exporters into one application.
func newService(ctx context.Context, cfg *AppConfig, summaryOut io.Writer) (*service, error) {
	app, err := bootstrap.NewApp(cfg, bootstrap.WithSummaryOutput(summaryOut))
	if err != nil {
		return nil, err
	}

	svc, err := wire(ctx, app)
	if err != nil {
		// Flush whatever exporters were already installed.
		_ = app.Shutdown(ctx)
		return nil, err
	}
	return svc, nil
}

func wire(ctx context.Context, app *bootstrap.App[*AppConfig]) (*service, error) {
	cfg := app.Cfg
	opts := []executor.Option{
		executor.WithName("pipeline"),
		executor.WithLogger(app.Logger),
		executor.WithSchedulerConfig(cfg.Scheduler),
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracer(ctx, cfg.Tracing.TracerConfig)
		if err != nil {
			return nil, err
		}
		app.OnStop(tp.Shutdown)
	}
	if cfg.Metrics.Enabled {
		mp, err := observability.InitMeter(ctx, &cfg.Metrics.MeterConfig)
		if err != nil {
			return nil, err
		}
		app.OnStop(mp.Shutdown)

		metrics, err := observability.NewMetrics(observability.Meter(serviceName))
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithMetrics(metrics))
	}

	exec, err := executor.LoadFiles(ctx, exprmod.NewBackend(app.Logger), cfg.Pipeline.Manifest, cfg.Pipeline.Config, opts...)
	if err != nil {
		return nil, err
	}

	srv := server.New(cfg.Server, app.Logger)
	srv.ApplyDefaults(cfg.Name, cfg.Version, app.Components.HealthAll)
	srv.RegisterPipeline(exec)

	// The pipeline stops after the server, so in-flight requests drain first.
	if err := app.RegisterComponent(exec); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return nil, err
	}
	return &service{app: app, exec: exec, http: srv}, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/stagepipe/backend/exprmod"
	"github.com/kbukum/stagepipe/bootstrap"
	"github.com/kbukum/stagepipe/executor"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/server"
)

// paramLoad is one --params group=key=file argument.
type paramLoad struct {
	group string
	key   string
	file  string
}

func parseParamLoad(s string) (paramLoad, error) {
	parts := strings.SplitN(s, "=", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return paramLoad{}, fmt.Errorf("--params %q: want group=key=file", s)
	}
	return paramLoad{group: parts[0], key: parts[1], file: parts[2]}, nil
}

type runFlags struct {
	pipelineFlags
	inputs  string
	params  []string
	timeout time.Duration
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Push one item through a pipeline and print its outputs",
		Long: `Loads the stage modules listed in the manifest with the expression
backend, applies any parameter blobs, pushes the inputs read from --inputs
as one item and prints the resolved item as JSON. A failed item is printed
too, and the command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loads := make([]paramLoad, 0, len(rf.params))
			for _, p := range rf.params {
				pl, err := parseParamLoad(p)
				if err != nil {
					return err
				}
				loads = append(loads, pl)
			}
			inputs, err := readInputs(rf.inputs, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadAppConfig(root, rf.apply)
			if err != nil {
				return err
			}
			if err := cfg.requirePipeline(true); err != nil {
				return err
			}
			return runOnce(cmd, cfg, inputs, loads, rf.timeout)
		},
	}
	cmd.Flags().StringVarP(&rf.pipeline, "pipeline", "p", "", "pipeline configuration file (JSON or YAML)")
	cmd.Flags().StringVarP(&rf.manifest, "manifest", "m", "", "module manifest (JSON or YAML)")
	cmd.Flags().StringVarP(&rf.inputs, "inputs", "i", "", "JSON object of named pipeline inputs; - reads stdin")
	cmd.Flags().StringArrayVar(&rf.params, "params", nil, "load a parameter blob: group=key=file (repeatable)")
	cmd.Flags().DurationVar(&rf.timeout, "timeout", 0, "give up waiting for the item after this long (0: no limit)")
	return cmd
}

func readInputs(path string, stdin io.Reader) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading inputs: %w", err)
	}
	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("inputs must be a JSON object: %w", err)
	}
	return inputs, nil
}

func runOnce(cmd *cobra.Command, cfg *AppConfig, inputs map[string]any, loads []paramLoad, timeout time.Duration) error {
	app, err := bootstrap.NewApp(cfg, bootstrap.WithoutSummary())
	if err != nil {
		return err
	}
	log := app.Logger.WithComponent("run")

	ctx := cmd.Context()
	exec, err := executor.LoadFiles(ctx, exprmod.NewBackend(app.Logger), cfg.Pipeline.Manifest, cfg.Pipeline.Config,
		executor.WithName("pipeline"),
		executor.WithLogger(app.Logger),
		executor.WithSchedulerConfig(cfg.Scheduler),
	)
	if err != nil {
		return err
	}
	if err := app.RegisterComponent(exec); err != nil {
		return err
	}

	return app.RunTask(ctx, func(ctx context.Context) error {
		for _, pl := range loads {
			data, err := os.ReadFile(pl.file)
			if err != nil {
				return fmt.Errorf("reading parameters for %s: %w", pl.group, err)
			}
			if err := exec.SetParam(ctx, pl.group, pl.key, data); err != nil {
				return err
			}
		}

		id, err := exec.PushInputs(ctx, inputs)
		if err != nil {
			return err
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := exec.Await(ctx, id)
		if err != nil {
			return err
		}

		item := server.NewItemResult(res)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(item); err != nil {
			return err
		}
		if res.Err != nil {
			log.Warn("item failed", logger.ErrorFields("run", res.Err))
			return fmt.Errorf("item %d failed: %w", res.ID, res.Err)
		}
		return nil
	})
}

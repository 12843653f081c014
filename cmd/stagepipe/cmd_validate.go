package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	var pf pipelineFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline configuration and print its execution levels",
		Long: `Loads the pipeline configuration and reports structural errors: unknown
stages, cycles, inputs bound twice. With --manifest the stage modules are
loaded as well and every referenced port is checked against them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig(root, pf.apply)
			if err != nil {
				return err
			}
			if err := cfg.requirePipeline(false); err != nil {
				return err
			}
			log := cfg.initLogger().WithComponent("validate")

			pc, err := inspect(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d stages, %d inputs, %d param groups, %d outputs)\n",
				cfg.Pipeline.Config, pc.NumStages(), len(pc.Inputs()), len(pc.Params()), len(pc.Outputs()))
			for i, level := range pc.Levels() {
				fmt.Fprintf(out, "level %d: %v\n", i, level)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pf.pipeline, "pipeline", "p", "", "pipeline configuration file (JSON or YAML)")
	cmd.Flags().StringVarP(&pf.manifest, "manifest", "m", "", "module manifest; checks ports against the loaded modules")
	return cmd
}

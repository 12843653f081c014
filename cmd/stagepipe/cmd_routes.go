package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/kbukum/stagepipe/router"
)

func newRoutesCmd(root *rootFlags) *cobra.Command {
	var (
		pf     pipelineFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the routing tables of a pipeline",
		Long: `Prints where every named input, parameter group and output is routed,
plus the execution levels. Outputs derived from sink stages are only known
when --manifest is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unknown output format %q (want yaml or json)", format)
			}
			cfg, err := loadAppConfig(root, pf.apply)
			if err != nil {
				return err
			}
			if err := cfg.requirePipeline(false); err != nil {
				return err
			}
			log := cfg.initLogger().WithComponent("routes")

			pc, err := inspect(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			table := router.New(pc).Describe()

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(table); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&pf.pipeline, "pipeline", "p", "", "pipeline configuration file (JSON or YAML)")
	cmd.Flags().StringVarP(&pf.manifest, "manifest", "m", "", "module manifest; needed to list derived sink outputs")
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

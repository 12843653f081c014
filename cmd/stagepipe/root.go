package main

import (
	"github.com/spf13/cobra"

	"github.com/kbukum/stagepipe/version"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "stagepipe",
		Short: "Pipelined execution of a DAG of opaque stages",
		Long: "stagepipe wires stage modules into a directed acyclic graph from a\n" +
			"pipeline configuration and streams items through it, running\n" +
			"independent stages of different items concurrently.",
		Version:       version.GetVersionInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "service config file (default: search for config.yml)")
	pf.StringVar(&flags.envFile, "env-file", "", "dotenv file loaded before STAGEPIPE_* overrides")
	pf.StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newValidateCmd(flags),
		newRoutesCmd(flags),
		newRunCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

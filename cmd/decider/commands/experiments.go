package commands

import (
	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/cli"
)

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List the experiments in the datafile",
	Long: `List every experiment the datafile defines, including experiments nested
inside mutex groups and rollout layers.

Examples:
  decider experiments
  decider experiments --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		if !quiet {
			return cli.PrintExperiments(cli.ExperimentRows(cfg.Experiments()), cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(experimentsCmd)
}

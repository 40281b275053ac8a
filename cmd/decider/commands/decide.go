package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/cli"
	"github.com/variantlabs/decider/internal/decision"
	"github.com/variantlabs/decider/internal/profile"
)

var decideCmd = &cobra.Command{
	Use:   "decide <experiment-key> <user-id>",
	Short: "Decide an experiment variation for a user",
	Long: `Decide which variation of an experiment a user receives, honoring forced
variations, audience conditions, and deterministic bucketing.

Examples:
  decider decide my_experiment user_42
  decider decide my_experiment user_42 --attributes '{"plan":"pro"}' --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		experimentKey, userID := args[0], args[1]

		cfg, err := loadProject()
		if err != nil {
			return err
		}
		attrs, err := parseAttributes()
		if err != nil {
			return err
		}

		experiment := cfg.ExperimentByKey(experimentKey)
		if experiment == nil {
			return fmt.Errorf("experiment %q is not in datafile", experimentKey)
		}

		svc := decision.New(cfg, profile.NewMemoryStore(), nil, cmdLogger())
		variation, source := svc.GetVariation(context.Background(), experiment, userID, attrs, true)

		row := cli.DecisionRow{UserID: userID, ExperimentKey: experimentKey}
		if variation != nil {
			row.VariationKey = variation.Key
			row.VariationID = variation.ID
			row.Source = string(source)
		}
		if !quiet {
			return cli.PrintDecision(row, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decideCmd)
}

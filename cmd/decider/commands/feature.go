package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/cli"
	"github.com/variantlabs/decider/internal/decision"
	"github.com/variantlabs/decider/internal/profile"
)

var featureCmd = &cobra.Command{
	Use:   "feature <feature-key> <user-id>",
	Short: "Decide a feature variation for a user",
	Long: `Decide which variation a user receives for a feature flag, trying the
feature's mutex group, its associated experiment, then its rollout layer.

Examples:
  decider feature my_feature user_42
  decider feature my_feature user_42 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureKey, userID := args[0], args[1]

		cfg, err := loadProject()
		if err != nil {
			return err
		}
		attrs, err := parseAttributes()
		if err != nil {
			return err
		}

		feature := cfg.FeatureByKey(featureKey)
		if feature == nil {
			return fmt.Errorf("feature %q is not in datafile", featureKey)
		}

		svc := decision.New(cfg, profile.NewMemoryStore(), nil, cmdLogger())
		result := svc.GetVariationForFeature(context.Background(), feature, userID, attrs)

		row := cli.DecisionRow{UserID: userID}
		if result != nil && result.Variation != nil {
			row.ExperimentKey = result.Experiment.Key
			row.VariationKey = result.Variation.Key
			row.VariationID = result.Variation.ID
			row.Source = string(result.Source)
		}
		if !quiet {
			return cli.PrintDecision(row, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(featureCmd)
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/cli"
	"github.com/variantlabs/decider/internal/decision"
	"github.com/variantlabs/decider/internal/profile"
	"github.com/variantlabs/decider/internal/project"
)

var variableCmd = &cobra.Command{
	Use:   "variable <feature-key> <variable-key> <user-id>",
	Short: "Resolve a feature variable value for a user",
	Long: `Resolve the typed value of a feature variable for a user. The value comes
from the variation the user is bucketed into; a user in no variation gets
the variable's default value.

Examples:
  decider variable my_feature price user_42
  decider variable my_feature price user_42 --format json`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureKey, variableKey, userID := args[0], args[1], args[2]

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
		variable := cfg.VariableForFeature(featureKey, variableKey)
		if variable == nil {
			return fmt.Errorf("variable %q is not in datafile", variableKey)
		}

		svc := decision.New(cfg, profile.NewMemoryStore(), nil, cmdLogger())
		result := svc.GetVariationForFeature(context.Background(), feature, userID, attrs)

		var variation *project.Variation
		variationKey := ""
		if result != nil && result.Variation != nil {
			variation = result.Variation
			variationKey = result.Variation.Key
		}
		value, err := cfg.VariableValueForVariation(variable, variation)
		if err != nil {
			return err
		}
		if value == nil {
			value, err = project.TypedValue(variable.DefaultValue, variable.Type)
			if err != nil {
				return err
			}
		}

		if !quiet {
			return cli.PrintValue(map[string]any{
				"feature":   featureKey,
				"variable":  variableKey,
				"type":      variable.Type,
				"value":     value,
				"variation": variationKey,
			}, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(variableCmd)
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/bucketer"
	"github.com/variantlabs/decider/internal/cli"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket <bucketing-id> <parent-id>",
	Short: "Show the raw bucket value for a bucketing key",
	Long: `Show the deterministic bucket value (0-9999) computed from a bucketing id
and a parent entity id (experiment or group). Useful for debugging why a
user lands in a particular traffic range.

Examples:
  decider bucket user_42 exp_111127
  decider bucket user_42 group_19228 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketingID, parentID := args[0], args[1]
		value := bucketer.GenerateBucketValue(bucketingID + parentID)

		if !quiet {
			return cli.PrintValue(map[string]any{
				"bucketingId": bucketingID,
				"parentId":    parentID,
				"bucket":      value,
			}, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bucketCmd)
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/auth"
	"github.com/variantlabs/decider/internal/cli"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an SDK key and its hash",
	Long: `Generate a fresh SDK key together with the bcrypt hash the server stores.
Hand the key to the client; put the hash in SDK_KEY_HASH. The key itself is
never stored anywhere.

Examples:
  decider keygen
  decider keygen --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateSDKKey()
		if err != nil {
			return err
		}
		hash, err := auth.HashSDKKey(key)
		if err != nil {
			return err
		}
		if !quiet {
			return cli.PrintValue(map[string]any{
				"key":  key,
				"hash": hash,
			}, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

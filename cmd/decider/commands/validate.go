package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/cli"
	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/report"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a project datafile",
	Long: `Parse and index the datafile, reporting schema problems, unsupported
versions, and structural defects such as malformed traffic allocations.

Examples:
  decider validate --datafile project.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(datafilePath)
		if err != nil {
			return fmt.Errorf("read datafile: %w", err)
		}
		doc, err := datafile.Parse(raw)
		if err != nil {
			return err
		}

		cfg, err := project.Load(doc, cmdLogger(), report.NopHandler{})
		if err != nil {
			return err
		}
		if !cfg.Parsed() {
			return fmt.Errorf("datafile version %q is not supported", doc.Version)
		}

		if !quiet {
			return cli.PrintValue(map[string]any{
				"version":     cfg.Version(),
				"revision":    cfg.Revision(),
				"experiments": len(cfg.Experiments()),
				"valid":       true,
			}, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

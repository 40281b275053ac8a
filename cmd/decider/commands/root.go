package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/report"
)

var (
	// Global flags
	datafilePath string
	format       string
	attributes   string
	quiet        bool
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "decider",
	Short: "CLI tool for evaluating experiment decisions offline",
	Long: `Decider evaluates experiment and feature-flag decisions against a local
project datafile, using the same deterministic bucketing the server uses.

Examples:
  decider experiments --datafile project.json
  decider decide my_experiment user_42 --datafile project.json
  decider feature my_feature user_42 --attributes '{"plan":"pro"}'
  decider variable my_feature my_variable user_42
  decider bucket user_42 layer_1
  decider validate --datafile project.json`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&datafilePath, "datafile", "datafile.json", "Path to the project datafile")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&attributes, "attributes", "", "User attributes as a JSON object")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log decision steps to stderr")
}

// loadProject reads and indexes the datafile named by the --datafile flag.
func loadProject() (*project.Config, error) {
	raw, err := os.ReadFile(datafilePath)
	if err != nil {
		return nil, fmt.Errorf("read datafile: %w", err)
	}
	doc, err := datafile.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse datafile: %w", err)
	}
	cfg, err := project.Load(doc, cmdLogger(), report.NopHandler{})
	if err != nil {
		return nil, fmt.Errorf("index datafile: %w", err)
	}
	if !cfg.Parsed() {
		return nil, fmt.Errorf("datafile version %q is not supported", doc.Version)
	}
	return cfg, nil
}

func cmdLogger() logging.Logger {
	if verbose {
		return logging.NewZerolog(os.Stderr, logging.LevelDebug)
	}
	return logging.NewNop()
}

// parseAttributes decodes the --attributes flag. An empty flag means nil
// attributes, which no audience-gated experiment accepts.
func parseAttributes() (audience.Attributes, error) {
	if attributes == "" {
		return nil, nil
	}
	var attrs audience.Attributes
	if err := json.Unmarshal([]byte(attributes), &attrs); err != nil {
		return nil, fmt.Errorf("invalid --attributes: %w", err)
	}
	return attrs, nil
}

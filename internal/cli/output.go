package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/variantlabs/decider/internal/project"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// DecisionRow is the printable form of one decision outcome.
type DecisionRow struct {
	UserID        string `json:"userId" yaml:"userId"`
	ExperimentKey string `json:"experimentKey,omitempty" yaml:"experimentKey,omitempty"`
	VariationKey  string `json:"variationKey,omitempty" yaml:"variationKey,omitempty"`
	VariationID   string `json:"variationId,omitempty" yaml:"variationId,omitempty"`
	Source        string `json:"source,omitempty" yaml:"source,omitempty"`
}

// PrintDecision outputs a decision outcome in the specified format
func PrintDecision(row DecisionRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(row)
	case FormatYAML:
		return printYAML(row)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("User", "Experiment", "Variation", "Variation ID", "Source")
		variation := row.VariationKey
		if variation == "" {
			variation = "(none)"
		}
		table.Append(row.UserID, row.ExperimentKey, variation, row.VariationID, row.Source)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// ExperimentRow is the printable form of one experiment.
type ExperimentRow struct {
	ID         string   `json:"id" yaml:"id"`
	Key        string   `json:"key" yaml:"key"`
	Status     string   `json:"status" yaml:"status"`
	LayerID    string   `json:"layerId,omitempty" yaml:"layerId,omitempty"`
	GroupID    string   `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	Variations []string `json:"variations" yaml:"variations"`
}

// ExperimentRows converts experiments to their printable form.
func ExperimentRows(experiments []*project.Experiment) []ExperimentRow {
	rows := make([]ExperimentRow, 0, len(experiments))
	for _, exp := range experiments {
		row := ExperimentRow{
			ID:      exp.ID,
			Key:     exp.Key,
			Status:  exp.Status,
			LayerID: exp.LayerID,
			GroupID: exp.GroupID,
		}
		for _, v := range exp.Variations {
			row.Variations = append(row.Variations, v.Key)
		}
		rows = append(rows, row)
	}
	return rows
}

// PrintExperiments outputs experiments in the specified format
func PrintExperiments(rows []ExperimentRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]ExperimentRow{"experiments": rows})
	case FormatYAML:
		return printYAML(rows)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Key", "Status", "Layer", "Group", "Variations")
		for _, row := range rows {
			variations := ""
			for i, key := range row.Variations {
				if i > 0 {
					variations += ", "
				}
				variations += key
			}
			table.Append(row.ID, row.Key, row.Status, row.LayerID, row.GroupID, variations)
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintValue outputs an arbitrary keyed value in the specified format
func PrintValue(data map[string]any, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(data)
	case FormatYAML:
		return printYAML(data)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		for _, key := range sortedKeys(data) {
			table.Append(key, fmt.Sprintf("%v", data[key]))
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

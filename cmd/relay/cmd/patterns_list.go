package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Olgitta/kirk-ws/cmd/relay/internal/format"
	"github.com/Olgitta/kirk-ws/internal/config"
	"github.com/Olgitta/kirk-ws/internal/patterns"
)

var (
	listOutputFormat string
	listFile         string
)

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pattern table",
	Long: `List the patterns the relay subscribes to. Without --file the table comes
from RELAY_PATTERNS_FILE (the environment or the .env files serve reads), or
the built-in table when that is unset.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := listFile
		if path == "" {
			if err := config.LoadEnvFiles("."); err != nil {
				return err
			}
			path = config.PatternsFileFromEnv()
		}
		table, err := loadTable(afero.NewOsFs(), path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch listOutputFormat {
		case "json":
			return format.PatternsJSON(out, table.Entries())
		case "table":
			return format.PatternsTable(out, table.Entries())
		default:
			return fmt.Errorf("unsupported output format %q, use 'table' or 'json'", listOutputFormat)
		}
	},
}

func loadTable(fs afero.Fs, path string) (*patterns.Table, error) {
	if path == "" {
		return patterns.Default(), nil
	}
	return patterns.LoadFile(fs, path)
}

func init() {
	patternsCmd.AddCommand(patternsListCmd)

	patternsListCmd.Flags().StringVarP(&listOutputFormat, "format", "f", "table", "Output format (table, json)")
	patternsListCmd.Flags().StringVar(&listFile, "file", "", "Pattern table file")
}

package cmd

import (
	"github.com/spf13/cobra"
)

// patternsCmd represents the patterns command
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect the pattern table",
	Long: `The patterns command shows which Redis channel patterns the relay
subscribes to and the client event each one is emitted as.

Available subcommands:
  list      List the pattern table

Examples:
  relay patterns list
  relay patterns list --file ./patterns.yaml --format json`,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

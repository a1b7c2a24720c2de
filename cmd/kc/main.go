package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "kc",
	Short:         "Knowledge consolidator: discover, analyse and export a personal document corpus",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
		setColor(!noColor)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		discoverCmd,
		filesCmd,
		analyzeCmd,
		categoriesCmd,
		filterCmd,
		convergenceCmd,
		statsCmd,
		exportCmd,
		searchCmd,
		qdrantCmd,
		importCmd,
		eventsCmd,
		browseCmd,
		backupCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

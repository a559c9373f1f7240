package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slnfix",
	Short: "slnfix keeps solution and project files consistent",
	Long: "Watches a project directory and rewrites the solution file and its project files " +
		"so declared project names match their files and deprecated directives are replaced.",
	SilenceUsage: true,
}

// projectRoot returns the project root (cwd by default).
func projectRoot() string {
	if flagRoot != "" {
		return flagRoot
	}
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

var flagRoot string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "C", "", "project root (default: current directory)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

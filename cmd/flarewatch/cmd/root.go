// Package cmd contains the CLI commands for flarewatch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flarewatch",
	Short: "Flarewatch - Automated incident response engine",
	Long: `Flarewatch watches event streams, detects incidents with
rule-based sliding-window analysis, correlates related events to a root
cause, and drives each incident through a safety-gated response
lifecycle ending in an auto-generated post-mortem.

Features:
  - Threshold and expression rules over a sliding event window
  - Cross-source event correlation with root-cause heuristics
  - Safe and approval-gated remediation actions
  - Severity-routed notifications
  - REST API and Prometheus metrics

Examples:
  # Run the engine with the built-in rules
  flarewatch serve

  # Run with a config file and custom rules
  flarewatch serve --config flarewatch.yaml

  # Validate a rules file
  flarewatch rules check rules.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, plain)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

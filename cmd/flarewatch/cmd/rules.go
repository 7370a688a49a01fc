package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/flarewatch/internal/detector"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate detection rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <rules-file>",
	Short: "Validate a rules file",
	Long:  `Parse and validate a YAML rules file without starting the engine.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := detector.LoadRulesFromFile(args[0])
		if err != nil {
			return fmt.Errorf("invalid rules file: %w", err)
		}
		fmt.Printf("%s: %d rules OK\n", args[0], len(rules))
		for _, r := range rules {
			fmt.Printf("  %-28s %-24s severity=%-8s threshold=%d window=%s\n",
				r.ID, r.Kind, r.Severity, r.Threshold, r.Window)
		}
		return nil
	},
}

var rulesBuiltinCmd = &cobra.Command{
	Use:   "builtin",
	Short: "Show the built-in rule set",
	Run: func(cmd *cobra.Command, args []string) {
		rules := detector.BuiltinRules()
		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(rules, "", "  ")
			fmt.Println(string(data))
			return
		}
		for _, r := range rules {
			fmt.Printf("%-28s %-24s severity=%-8s threshold=%d window=%s cooldown=%s\n",
				r.ID, r.Kind, r.Severity, r.Threshold, r.Window, r.Cooldown)
		}
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesBuiltinCmd)
	rootCmd.AddCommand(rulesCmd)
}

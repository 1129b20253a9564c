package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gosight/gosight/analyzer/internal/insights"
)

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var rule string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the rule engine once and print the issues as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			engine := insights.NewEngine(s, insights.NewRuleSet(cfg.Rules))

			var issues []insights.Issue
			if rule != "" {
				issues, err = engine.Analyze(ctx, rule)
			} else {
				issues, err = engine.AnalyzeAll(ctx)
			}
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"issues": issues, "count": len(issues)})
		},
	}

	cmd.Flags().StringVar(&rule, "rule", "", "Only run this rule (e.g. rageClicks)")
	return cmd
}

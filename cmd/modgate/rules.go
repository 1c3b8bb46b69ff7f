package main

import (
	"github.com/spf13/cobra"

	"github.com/katbot/modgate/core/pipeline"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

type ruleListing struct {
	Name     string `json:"name"`
	Stage    string `json:"stage"`
	Severity string `json:"severity"`
}

func newRulesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the configured validation rules",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the enabled rules per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := pipeline.New(c.cfg).Validator().Registry()
			var out []ruleListing
			for _, stage := range []schemamod.RuleStage{schemamod.StagePreModification, schemamod.StagePostModification} {
				for _, rule := range registry.Enabled(stage) {
					out = append(out, ruleListing{
						Name:     rule.Name(),
						Stage:    string(rule.Stage()),
						Severity: string(rule.Severity()),
					})
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.AddCommand(list)
	return cmd
}
